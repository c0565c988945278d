package http2

import (
	"testing"

	"golang.org/x/net/http2/hpack"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/h2err"
)

func encodeFields(t *testing.T, fields []hpack.HeaderField) []byte {
	t.Helper()
	var buf []byte
	enc := hpack.NewEncoder(sliceWriter{&buf})
	for _, f := range fields {
		require.NoError(t, enc.WriteField(f))
	}
	return buf
}

type sliceWriter struct{ buf *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func newTestEngine() *Engine {
	return &Engine{
		dec:     hpack.NewDecoder(4096, nil),
		enc:     nil,
		streams: make(map[uint32]*stream),
	}
}

func TestDecodeRequestAcceptsWellOrderedPseudoHeaders(t *testing.T) {
	e := newTestEngine()
	s := newStream(1)
	s.headerBlock = encodeFields(t, []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/widgets"},
		{Name: "accept", Value: "application/json"},
	})

	req, err := e.decodeRequest(s)
	require.NoError(t, err)
	require.Equal(t, "/widgets", req.Path)
}

func TestDecodeRequestRejectsPseudoHeaderAfterRegularHeader(t *testing.T) {
	e := newTestEngine()
	s := newStream(1)
	s.headerBlock = encodeFields(t, []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: "accept", Value: "application/json"},
		{Name: ":path", Value: "/widgets"},
	})

	_, err := e.decodeRequest(s)
	require.Error(t, err)
	ce, ok := err.(*h2err.ConnError)
	require.True(t, ok, "expected a connection-level error, got %T: %v", err, err)
	require.Equal(t, h2err.ProtocolError, ce.Code)
}

func TestMaybeDispatchPropagatesPseudoHeaderOrderingAsConnError(t *testing.T) {
	e := newTestEngine()
	s := e.streamOrNew(1)
	block := encodeFields(t, []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: "accept", Value: "application/json"},
		{Name: ":path", Value: "/widgets"},
	})
	require.NoError(t, s.onHeaders(block, true, true))

	err := e.maybeDispatch(nil, s)
	require.Error(t, err)
	ce, ok := err.(*h2err.ConnError)
	require.True(t, ok, "expected a connection-level error (GOAWAY), got %T: %v", err, err)
	require.Equal(t, h2err.ProtocolError, ce.Code)
}

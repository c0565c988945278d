package message_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/message"
)

func TestRequestAttachments(t *testing.T) {
	r := message.NewRequest()
	r.Attach("user", "alice")
	v, ok := r.Attachment("user")
	require.True(t, ok)
	require.Equal(t, "alice", v)

	_, ok = r.Attachment("missing")
	require.False(t, ok)
}

func TestRequestParams(t *testing.T) {
	r := message.NewRequest()
	r.Params = []message.Param{{Name: "id", Value: "42"}, {Name: "pid", Value: "7"}}

	v, ok := r.Param(0)
	require.True(t, ok)
	require.Equal(t, "42", v)

	v, ok = r.ParamByName("pid")
	require.True(t, ok)
	require.Equal(t, "7", v)

	_, ok = r.Param(5)
	require.False(t, ok)
}

func TestRequestWantsClose(t *testing.T) {
	r := message.NewRequest()
	r.Major, r.Minor = 1, 1
	require.False(t, r.WantsClose())

	r.Header.Set("Connection", "close")
	require.True(t, r.WantsClose())
}

func TestRequestWantsCloseHTTP10(t *testing.T) {
	r := message.NewRequest()
	r.Major, r.Minor = 1, 0
	require.True(t, r.WantsClose())

	r.Header.Set("Connection", "keep-alive")
	require.False(t, r.WantsClose())
}

func TestParseMethod(t *testing.T) {
	require.Equal(t, message.GET, message.ParseMethod("GET"))
	require.Equal(t, message.Unknown, message.ParseMethod("BOGUS"))
}

func TestResponseBodyAllowedForStatus(t *testing.T) {
	require.False(t, message.BodyAllowedForStatus(204))
	require.False(t, message.BodyAllowedForStatus(304))
	require.False(t, message.BodyAllowedForStatus(100))
	require.True(t, message.BodyAllowedForStatus(200))
}

func TestResponseTrailers(t *testing.T) {
	r := message.NewResponse()
	r.DeclareTrailer("X-Checksum")
	require.True(t, r.HasTrailers())
	r.SetTrailer("X-Checksum", "abc123")
	tr := r.FinalTrailers()
	require.Equal(t, "abc123", tr.Get("X-Checksum"))
}

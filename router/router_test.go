package router_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/message"
	"github.com/badu/vortex/router"
)

func handler(tag string) router.Handler {
	return func(req *message.Request) *message.Response {
		return message.NewResponse().Text(200, tag)
	}
}

func TestRouterTypedCaptures(t *testing.T) {
	r := router.New()
	r.Add("GET", "/user/{id:number}/post/{pid:number}", handler("post"))

	res, status := r.Match("GET", "/user/42/post/7")
	require.Equal(t, router.Matched, status)
	require.Equal(t, []message.Param{{Name: "id", Value: "42"}, {Name: "pid", Value: "7"}}, res.Params)

	_, status = r.Match("GET", "/user/abc/post/7")
	require.Equal(t, router.NoMatch, status)
}

func TestRouterMethodNotAllowedVsNotFound(t *testing.T) {
	r := router.New()
	r.Add("POST", "/widgets", handler("create"))

	_, status := r.Match("GET", "/widgets")
	require.Equal(t, router.MethodNotAllowed, status)

	_, status = r.Match("GET", "/nope")
	require.Equal(t, router.NoMatch, status)
}

func TestRouterFirstInsertedWinsOnTie(t *testing.T) {
	r := router.New()
	r.Add("GET", "/a/{x}", handler("first"))
	r.Add("GET", "/a/{y}", handler("second"))

	res, status := r.Match("GET", "/a/1")
	require.Equal(t, router.Matched, status)
	require.Equal(t, "first", string(res.Handler(message.NewRequest()).Buffered))
}

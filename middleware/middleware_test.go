package middleware_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/message"
	"github.com/badu/vortex/middleware"
)

func terminal(req *message.Request) *message.Response {
	return message.NewResponse().Text(200, "terminal")
}

func TestChainOrderOutermostFirst(t *testing.T) {
	var order []string
	trace := func(name string) middleware.Middleware {
		return func(req *message.Request, next middleware.Next) *message.Response {
			order = append(order, name+":in")
			resp := next(req)
			order = append(order, name+":out")
			return resp
		}
	}

	b := middleware.NewBuilder()
	b.Use(trace("a"))
	b.Use(trace("b"))
	chain := b.Freeze(terminal)

	resp := chain.Invoke(message.NewRequest())
	require.Equal(t, "terminal", string(resp.Buffered))
	require.Equal(t, []string{"a:in", "b:in", "b:out", "a:out"}, order)
}

func TestChainShortCircuit(t *testing.T) {
	reached := false
	deny := func(req *message.Request, next middleware.Next) *message.Response {
		return message.NewResponse().Text(403, "denied")
	}
	mark := func(req *message.Request, next middleware.Next) *message.Response {
		reached = true
		return next(req)
	}

	b := middleware.NewBuilder()
	b.Use(deny)
	b.Use(mark)
	chain := b.Freeze(terminal)

	resp := chain.Invoke(message.NewRequest())
	require.Equal(t, 403, resp.Status)
	require.False(t, reached)
}

func TestChainEmptyUsesTerminal(t *testing.T) {
	chain := middleware.NewBuilder().Freeze(terminal)
	resp := chain.Invoke(message.NewRequest())
	require.Equal(t, "terminal", string(resp.Buffered))
}

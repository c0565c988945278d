// Package middleware implements C6: composing an ordered sequence of
// middlewares around a terminal handler into one invocable pipeline,
// compiled once and frozen for the server's lifetime (spec §4.5).
package middleware

import "github.com/badu/vortex/message"

// Next is what a Middleware calls to continue the chain; it may be called
// zero or one times (spec §4.5 contract).
type Next func(req *message.Request) *message.Response

// Middleware wraps Next with request handling that may short-circuit by
// never calling it.
type Middleware func(req *message.Request, next Next) *message.Response

// Chain is the frozen, compiled pipeline: registration order is preserved,
// the first registered middleware is outermost.
type Chain struct {
	mws      []Middleware
	compiled Next
	frozen   bool
}

// Builder accumulates middlewares before Freeze compiles them. Use
// Builder.Use before the server starts; spec §6 rejects use() after run.
type Builder struct {
	mws []Middleware
}

func NewBuilder() *Builder { return &Builder{} }

// Use appends middleware to the builder. Builder does not check whether
// Freeze has already run: a middleware added afterwards is not part of any
// Chain already returned. The "frozen before run" rule is enforced by
// server.Server.Use, which panics once Run has started.
func (b *Builder) Use(mw Middleware) {
	b.mws = append(b.mws, mw)
}

// Freeze compiles the registered middlewares right-to-left around terminal,
// producing one Next callable that outer callers invoke directly.
func (b *Builder) Freeze(terminal Next) *Chain {
	compiled := terminal
	for i := len(b.mws) - 1; i >= 0; i-- {
		mw := b.mws[i]
		next := compiled
		compiled = func(req *message.Request) *message.Response {
			return mw(req, next)
		}
	}
	return &Chain{mws: b.mws, compiled: compiled, frozen: true}
}

// Invoke runs the compiled pipeline against req.
func (c *Chain) Invoke(req *message.Request) *message.Response {
	return c.compiled(req)
}

// InvokeWithTerminal recompiles the frozen middleware list around a
// per-request terminal. Routing only resolves the matched handler after
// the request is parsed, so the connection loop supplies the terminal at
// invocation time rather than at Freeze; the middleware list itself never
// changes after Freeze.
func (c *Chain) InvokeWithTerminal(req *message.Request, terminal Next) *message.Response {
	compiled := terminal
	for i := len(c.mws) - 1; i >= 0; i-- {
		mw := c.mws[i]
		next := compiled
		compiled = func(req *message.Request) *message.Response {
			return mw(req, next)
		}
	}
	return compiled(req)
}

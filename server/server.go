// Package server implements C10: the control surface (use/get/post/ws/
// enable_tls/enable_http2/threads/run/stop/shutdown), listener binding
// (single or shared via reactor.ListenConfig's SO_REUSEPORT), protocol
// dispatch into connloop or http2 by ALPN/h2c, and graceful drain. Grounded
// on the teacher's Server/ListenAndServe shape (types_server.go,
// server_handler.go). Each accepted connection is served on its own
// goroutine; connections are not pinned to reactor workers (Runtime.Pin and
// Runtime.Run are not used here).
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/badu/vortex/connloop"
	"github.com/badu/vortex/http2"
	"github.com/badu/vortex/message"
	"github.com/badu/vortex/middleware"
	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/reactor"
	"github.com/badu/vortex/router"
	"github.com/badu/vortex/websocket"
)

// TLSConfig carries the cert/key/CA/ALPN inputs for enable_tls (spec §6).
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
	ALPN     []string // defaults to ["h2", "http/1.1"] when HTTP/2 is enabled
}

// Server is the C10 control surface. Exported fields are set before Run;
// after Run starts, Use/registration calls are rejected (spec §6: "rejected
// after run starts").
type Server struct {
	Runtime *reactor.Runtime
	Metrics *Metrics
	Log     func(format string, args ...interface{})

	router  *router.Router
	builder *middleware.Builder
	chain   *middleware.Chain

	wsHandlers map[string]websocket.Handler
	wsMu       sync.RWMutex

	tlsConfig *TLSConfig
	http2On   bool

	workers int

	started       int32
	activeConns   int64
	listener      net.Listener
	cancelSource  reactor.CancelToken
	shutdownOnce  sync.Once
	drainComplete chan struct{}
}

// New returns a Server with an empty router and middleware builder, ready
// for registration calls.
func New() *Server {
	return &Server{
		router:        router.New(),
		builder:       middleware.NewBuilder(),
		wsHandlers:    make(map[string]websocket.Handler),
		workers:       0,
		drainComplete: make(chan struct{}),
	}
}

// Use appends middleware to the frozen-at-run chain.
func (s *Server) Use(mw middleware.Middleware) {
	s.mustNotBeRunning("use")
	s.builder.Use(mw)
}

func (s *Server) route(method, path string, h router.Handler) {
	s.mustNotBeRunning(method)
	s.router.Add(method, path, h)
}

func (s *Server) Get(path string, h router.Handler)     { s.route("GET", path, h) }
func (s *Server) Post(path string, h router.Handler)    { s.route("POST", path, h) }
func (s *Server) Put(path string, h router.Handler)     { s.route("PUT", path, h) }
func (s *Server) Delete(path string, h router.Handler)  { s.route("DELETE", path, h) }
func (s *Server) Patch(path string, h router.Handler)   { s.route("PATCH", path, h) }
func (s *Server) Head(path string, h router.Handler)    { s.route("HEAD", path, h) }
func (s *Server) Options(path string, h router.Handler) { s.route("OPTIONS", path, h) }

// WS registers a WebSocket handler for path (spec §6: "ws(path, handler)").
func (s *Server) WS(path string, h websocket.Handler) {
	s.mustNotBeRunning("ws")
	s.wsMu.Lock()
	s.wsHandlers[path] = h
	s.wsMu.Unlock()
}

// EnableTLS sets the TLS termination config; ALPN defaults to h2+http/1.1
// once HTTP/2 is also enabled (spec §6: "in that order when HTTP/2 is
// enabled").
func (s *Server) EnableTLS(cfg TLSConfig) {
	s.mustNotBeRunning("enable_tls")
	s.tlsConfig = &cfg
}

// EnableHTTP2 opts into HTTP/2 (h2 via ALPN, h2c via Upgrade).
func (s *Server) EnableHTTP2() {
	s.mustNotBeRunning("enable_http2")
	s.http2On = true
}

// Threads sets the reactor worker count.
func (s *Server) Threads(n int) {
	s.mustNotBeRunning("threads")
	s.workers = n
}

func (s *Server) mustNotBeRunning(op string) {
	if atomic.LoadInt32(&s.started) != 0 {
		panic(fmt.Sprintf("server: %s called after run started", op))
	}
}

// Run binds one listener and blocks serving connections from a single accept
// loop until Stop or Shutdown completes (spec §6: "run(port) — block until
// stop or shutdown"). When Threads is above 1 the socket is opened with
// SO_REUSEPORT, but Run opens no further listeners, so there is no second
// accept queue for the kernel to balance connections onto.
func (s *Server) Run(ctx context.Context, addr string) error {
	atomic.StoreInt32(&s.started, 1)
	s.chain = s.builder.Freeze(nil) // terminal is supplied per-request by connloop/http2

	if s.Runtime == nil {
		s.Runtime = reactor.New(reactor.Config{Workers: s.workers})
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelSource = reactor.NewCancelToken(ctx)
	defer cancel()

	ln, err := s.listen(ctx, addr)
	if err != nil {
		return err
	}
	s.listener = ln
	defer ln.Close()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.acceptLoop(egCtx, ln) })

	err = eg.Wait()
	close(s.drainComplete)
	return err
}

func (s *Server) listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := reactor.ListenConfig(s.workers > 1)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if s.tlsConfig != nil {
		cert, err := tls.LoadX509KeyPair(s.tlsConfig.CertFile, s.tlsConfig.KeyFile)
		if err != nil {
			return nil, err
		}
		alpn := s.tlsConfig.ALPN
		if len(alpn) == 0 {
			alpn = []string{"http/1.1"}
			if s.http2On {
				alpn = []string{"h2", "http/1.1"}
			}
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: alpn})
	}
	return ln, nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		atomic.AddInt64(&s.activeConns, 1)
		if s.Metrics != nil {
			s.Metrics.ConnectionOpened()
		}
		go s.serveConn(ctx, raw)
	}
}

func (s *Server) serveConn(ctx context.Context, raw net.Conn) {
	defer func() {
		atomic.AddInt64(&s.activeConns, -1)
		if s.Metrics != nil {
			s.Metrics.ConnectionClosed()
		}
	}()

	conn := pipe.New(raw, s.Runtime, ctx, 0)
	conn.SetCancellationToken(s.cancelSource)

	if tlsState := conn.TLSState(); tlsState != nil && conn.NegotiatedProtocol() == "h2" {
		s.serveHTTP2(ctx, conn, nil)
		return
	}

	loop := &connloop.Loop{
		Router:     s.router,
		Chain:      s.chain,
		Log:        s.Log,
		HTTP2On:    s.http2On,
		OnResponse: s.recordResponse,
		FindWS: func(path string) (connloop.WSUpgradeFunc, bool) {
			s.wsMu.RLock()
			h, ok := s.wsHandlers[path]
			s.wsMu.RUnlock()
			if !ok {
				return nil, false
			}
			return func(ctx context.Context, conn *pipe.Connection, req *message.Request) {
				websocket.Serve(ctx, conn, requestIDFunc(req), h)
			}, true
		},
	}
	if s.http2On {
		loop.HTTP2 = func(ctx context.Context, conn *pipe.Connection, seed *message.Request) {
			s.serveHTTP2(ctx, conn, seed)
		}
	}
	loop.Serve(ctx, conn)
}

func requestIDFunc(req *message.Request) func() string {
	return func() string { return req.ID }
}

func (s *Server) recordResponse(method string, status int) {
	if s.Metrics != nil {
		s.Metrics.RequestServed(method, status)
	}
}

func (s *Server) serveHTTP2(ctx context.Context, conn *pipe.Connection, seed *message.Request) {
	engine := http2.New(conn, s.router, s.chain, s.Log)
	engine.OnResponse = s.recordResponse
	if err := engine.ExpectPreface(); err != nil {
		return
	}
	engine.Serve(ctx, seed)
}

// ActiveConnections reports the current accepted-and-not-yet-closed count
// (spec §4: "active-connection counter").
func (s *Server) ActiveConnections() int64 { return atomic.LoadInt64(&s.activeConns) }

// Stop closes the listener and cancels the shared cancellation source
// immediately (spec §6: "stop() — immediate cancel"): every pipe.Connection
// operation started after that returns reactor.ErrCancelled. A read or write
// already blocked in the socket is not interrupted; it ends at its own
// deadline.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		if s.listener != nil {
			s.listener.Close()
		}
		if s.cancelSource.Context() != nil {
			s.cancelSource.Cancel()
		}
	})
}

// ShutdownOptions configures a graceful Shutdown.
type ShutdownOptions struct {
	DrainTimeout           time.Duration
	ForceCloseAfterTimeout bool
}

// Shutdown closes the listener, then waits up to opts.DrainTimeout for
// ActiveConnections to reach zero (spec §6/§8: "Graceful drain"). If the
// deadline passes and ForceCloseAfterTimeout is set, Stop is called.
func (s *Server) Shutdown(ctx context.Context, opts ShutdownOptions) error {
	if s.listener != nil {
		s.listener.Close()
	}
	deadline := time.Now().Add(opts.DrainTimeout)
	for s.ActiveConnections() > 0 {
		if opts.DrainTimeout > 0 && time.Now().After(deadline) {
			if opts.ForceCloseAfterTimeout {
				s.Stop()
			}
			return fmt.Errorf("server: shutdown drain timed out with %d connections active", s.ActiveConnections())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}

// Package connloop implements C7: the per-connection state machine driving
// one accepted HTTP/1.1 socket through PARSING → DISPATCHING → WRITING →
// KEEP_ALIVE/CLOSING, with the upgrade branches to WebSocket and h2c that
// transfer connection ownership out of the loop (spec §4.6). Grounded on the
// teacher's conn.serve/readRequest loop (conn.go), generalized from
// net/http's single Handler call to the router+middleware pipeline.
package connloop

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/badu/vortex/h1"
	"github.com/badu/vortex/hdr"
	"github.com/badu/vortex/herr"
	"github.com/badu/vortex/internal/bufpool"
	"github.com/badu/vortex/message"
	"github.com/badu/vortex/middleware"
	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/router"
)

// stackBufPool backs panic-recovery stack dumps: a fixed 64KiB scratch
// buffer shared (with interior synchronization) across every connection's
// recover path, instead of allocating one per panic.
var stackBufPool = bufpool.New(64 << 10)

// wsGUID is RFC 6455's fixed Sec-WebSocket-Accept salt.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	maxRequestsPerConnection = 100
	idleTimeout              = 30 * time.Second
)

// WSUpgradeFunc takes ownership of conn after the 101 response has been
// written; it runs to completion, then the caller closes conn. req carries
// the original handshake headers for the handler to inspect.
type WSUpgradeFunc func(ctx context.Context, conn *pipe.Connection, req *message.Request)

// H2UpgradeFunc takes ownership of conn after the 101 response has been
// written, seeding the HTTP/2 engine with req as the already half-closed
// stream 1 (spec §4.7 "h2c path").
type H2UpgradeFunc func(ctx context.Context, conn *pipe.Connection, seed *message.Request)

// Loop holds the routing/middleware pipeline and upgrade collaborators for
// the connections it serves. Serve only reads its fields, so one Loop may
// serve many connections; server.Server builds a fresh Loop per connection
// around the shared Router and Chain.
type Loop struct {
	Router  *router.Router
	Chain   *middleware.Chain
	FindWS  func(path string) (WSUpgradeFunc, bool)
	HTTP2   H2UpgradeFunc
	HTTP2On bool
	Log     func(format string, args ...interface{})

	// OnResponse, when set, is called once per dispatched request with the
	// method and final status, letting the caller (server.Server) feed its
	// Metrics without connloop importing server.
	OnResponse func(method string, status int)
}

// Serve runs the state machine to completion: parses requests until the
// connection closes, is upgraded, or a shutdown token fires. It never
// returns an error; all failures are resolved into a response or a close.
func (l *Loop) Serve(ctx context.Context, conn *pipe.Connection) {
	defer func() {
		if r := recover(); r != nil {
			buf := stackBufPool.Get()
			buf = buf[:runtime.Stack(buf, false)]
			l.logf("connloop: panic serving %s: %v\n%s", conn.RemoteAddress(), r, buf)
			stackBufPool.Put(buf[:cap(buf)])
		}
		// A hijacked connection is owned by whoever called Hijack from here
		// on — the loop must never close it out from under them (spec §3
		// Hijacking), matching net/http's Hijacker contract.
		if conn.Hijacked() {
			return
		}
		conn.Close()
	}()

	requestCount := 0
	for {
		if conn.CancelToken().Cancelled() {
			return
		}

		conn.SetTimeout(idleTimeout)
		req, perr := h1.ParseRequestHead(conn)
		if perr != nil {
			l.handleParseError(conn, perr)
			return
		}

		if req.ExpectsContinue() {
			if !l.handleExpectContinue(conn, req) {
				return
			}
		}
		if berr := h1.ReadBody(conn, req); berr != nil {
			l.handleParseError(conn, berr)
			return
		}
		conn.SetTimeout(0)
		requestCount++

		req.RemoteAddr = conn.RemoteAddress()
		req.WithContext(ctx)

		if upgraded := l.tryUpgrade(ctx, conn, req); upgraded {
			return
		}

		req.SetHijackFunc(func() (net.Conn, error) { return conn.Hijack() })

		resp := l.dispatch(req)
		if conn.Hijacked() {
			// The handler took raw ownership via Request.Hijack; the loop
			// no longer owns this socket and must not write a response or
			// read another request from it.
			return
		}
		if l.OnResponse != nil {
			l.OnResponse(req.Method.String(), resp.Status)
		}

		keepAlive := l.wantsKeepAlive(req, requestCount)
		l.applyConnectionHeaders(resp, keepAlive, requestCount)

		wr, werr := h1.WriteResponse(conn, req.ProtoAtLeast(1, 1), req.Method == message.HEAD, resp)
		if werr != nil {
			return
		}
		if wr.NeedsFileTransmit {
			if err := h1.TransmitFile(conn, ctx, wr.File); err != nil {
				return
			}
		}

		if !keepAlive {
			return
		}
	}
}

func (l *Loop) dispatch(req *message.Request) *message.Response {
	result, status := l.Router.Match(req.Method.String(), req.Path)
	var terminal middleware.Next
	switch status {
	case router.Matched:
		req.Params = result.Params
		terminal = func(r *message.Request) (resp *message.Response) {
			defer func() {
				if rec := recover(); rec != nil {
					l.logf("connloop: handler panic: %v", rec)
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

	if l.Chain == nil {
		return terminal(req)
	}
	return l.Chain.InvokeWithTerminal(req, terminal)
}

// handleExpectContinue answers an Expect: 100-continue request (spec §3
// "100-continue handling") before the body is read: 100 Continue when the
// declared body fits the server's cap, 417 Expectation Failed otherwise.
// Returns false when the connection should be closed instead of proceeding
// to read the body.
func (l *Loop) handleExpectContinue(conn *pipe.Connection, req *message.Request) bool {
	if cl := req.Header.Get(hdr.ContentLength); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > h1.MaxBodyBytes {
			resp := message.NewResponse().Text(417, "417 Expectation Failed")
			resp.Header.Set(hdr.Connection, "close")
			h1.WriteResponse(conn, req.ProtoAtLeast(1, 1), false, resp)
			return false
		}
	}
	h1.WriteInterimResponse(conn, req.ProtoAtLeast(1, 1), 100)
	return true
}

func (l *Loop) handleParseError(conn *pipe.Connection, err error) {
	var he *herr.Error
	status := 400
	msg := "400 Bad Request"
	if errors.As(err, &he) {
		status = he.Kind.Status()
		msg = fmt.Sprintf("%d %s", status, he.Public())
	}
	resp := message.NewResponse().Text(status, msg)
	resp.Header.Set(hdr.Connection, "close")
	h1.WriteResponse(conn, true, false, resp)
}

func (l *Loop) wantsKeepAlive(req *message.Request, count int) bool {
	if req.WantsClose() {
		return false
	}
	return count < maxRequestsPerConnection
}

// applyConnectionHeaders is the only place Connection/Keep-Alive headers are
// set — spec §4.6: "handlers never set these".
func (l *Loop) applyConnectionHeaders(resp *message.Response, keepAlive bool, count int) {
	if !keepAlive {
		resp.Header.Set(hdr.Connection, "close")
		return
	}
	resp.Header.Set(hdr.Connection, "keep-alive")
	remaining := maxRequestsPerConnection - count
	resp.Header.Set(hdr.KeepAlive, fmt.Sprintf("timeout=30, max=%d", remaining))
}

// tryUpgrade checks the WebSocket and h2c upgrade predicates in that order
// (spec §4.6 step 1 then 2) and, on a match, writes the 101 response and
// hands the connection to the matching upgrade function.
func (l *Loop) tryUpgrade(ctx context.Context, conn *pipe.Connection, req *message.Request) bool {
	if l.isWebSocketUpgrade(req) && l.FindWS != nil {
		if fn, ok := l.FindWS(req.Path); ok {
			resp := l.webSocketAcceptResponse(req)
			h1.WriteResponse(conn, true, false, resp)
			l.hijackForUpgrade(conn)
			fn(ctx, conn, req)
			conn.Close()
			return true
		}
	}
	if l.HTTP2On && l.isH2CUpgrade(req) && l.HTTP2 != nil {
		resp := message.NewResponse()
		resp.Status = 101
		resp.Header.Set(hdr.Connection, "Upgrade")
		resp.Header.Set(hdr.UpgradeHeader, "h2c")
		h1.WriteResponse(conn, true, false, resp)
		l.hijackForUpgrade(conn)
		l.HTTP2(ctx, conn, req)
		conn.Close()
		return true
	}
	return false
}

// hijackForUpgrade marks conn as owned outside the loop via the same
// Hijack primitive a handler reaches through Request.Hijack (spec §3:
// hijacking is "the general form of" the upgrade ownership-transfer
// already happening here). The returned net.Conn is discarded: conn itself
// — buffered state and all — is what the upgrade handler keeps using.
func (l *Loop) hijackForUpgrade(conn *pipe.Connection) {
	if _, err := conn.Hijack(); err != nil {
		l.logf("connloop: hijack for upgrade: %v", err)
	}
}

func (l *Loop) isWebSocketUpgrade(req *message.Request) bool {
	if req.Method != message.GET {
		return false
	}
	if !hasToken(req.Header.Get(hdr.UpgradeHeader), "websocket") {
		return false
	}
	if !hasToken(req.Header.Get(hdr.Connection), "upgrade") {
		return false
	}
	if req.Header.Get(hdr.SecWebSocketVer) != "13" {
		return false
	}
	return req.Header.Get(hdr.SecWebSocketKey) != ""
}

func (l *Loop) isH2CUpgrade(req *message.Request) bool {
	if !hasToken(req.Header.Get(hdr.UpgradeHeader), "h2c") {
		return false
	}
	if !hasToken(req.Header.Get(hdr.Connection), "upgrade") {
		return false
	}
	return req.Header.Get(hdr.Http2Settings) != ""
}

func (l *Loop) webSocketAcceptResponse(req *message.Request) *message.Response {
	resp := message.NewResponse()
	resp.Status = 101
	resp.Header.Set(hdr.Connection, "Upgrade")
	resp.Header.Set(hdr.UpgradeHeader, "websocket")
	resp.Header.Set(hdr.SecWebSocketAcc, computeAccept(req.Header.Get(hdr.SecWebSocketKey)))
	return resp
}

// computeAccept implements spec §4.6's handshake formula: base64 of the
// SHA-1 of the client key concatenated with the WebSocket GUID.
func computeAccept(key string) string {
	sum := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func hasToken(v, token string) bool {
	for _, tok := range splitCommaTokens(v) {
		if foldEqual(tok, token) {
			return true
		}
	}
	return false
}

func splitCommaTokens(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			tok := trimSpaceBytes(v[start:i])
			if tok != "" {
				out = append(out, tok)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpaceBytes(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func foldEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (l *Loop) logf(format string, args ...interface{}) {
	if l.Log != nil {
		l.Log(format, args...)
	}
}

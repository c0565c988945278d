// Package pipe implements C2: a buffered byte pipe over a net.Conn (plain or
// TLS-wrapped — both satisfy net.Conn so no special-casing is needed, unlike
// the teacher's *tls.Conn type switch in conn.go). It exposes the read,
// read-until, write, write-all and transmit-file primitives spec §4.2
// requires, each honoring a per-connection timeout and cancellation token.
package pipe

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/badu/vortex/reactor"
)

// ErrClosed names the closed-connection condition. No Connection method
// returns it: an operation on a closed Connection returns the socket's own
// error as mapped by mapNetErr.
var ErrClosed = errors.New("pipe: connection closed")

// ErrHijacked is returned by a second Hijack call on the same Connection.
var ErrHijacked = errors.New("pipe: connection already hijacked")

// Connection wraps a socket with the read buffer C3/C8 parsers peek into for
// lookahead, plus the timeout/cancellation plumbing spec §4.2 specifies.
type Connection struct {
	raw      net.Conn
	br       *bufio.Reader
	rt       *reactor.Runtime
	tok      reactor.CancelToken
	tmo      time.Duration
	tls      *tls.ConnectionState
	alpn     string
	hijacked bool
}

// New wraps raw with a lookahead buffer of bufSize bytes (0 defaults to 4KiB,
// matching the teacher's bufio pool sizing).
func New(raw net.Conn, rt *reactor.Runtime, parent context.Context, bufSize int) *Connection {
	if bufSize <= 0 {
		bufSize = 4096
	}
	c := &Connection{raw: raw, rt: rt, tok: reactor.NewCancelToken(parent)}
	c.br = bufio.NewReaderSize(rawReader{c}, bufSize)
	if tc, ok := raw.(*tls.Conn); ok {
		st := tc.ConnectionState()
		c.tls = &st
		c.alpn = st.NegotiatedProtocol
	}
	return c
}

// rawReader feeds the lookahead bufio.Reader straight from the raw socket;
// the cancellation and deadline checks happen in the Connection methods that
// call into the buffer, not here. It keeps raw net.Conn reads away from
// callers that should go through the buffered path.
type rawReader struct{ c *Connection }

func (r rawReader) Read(p []byte) (int, error) { return r.c.raw.Read(p) }

// SetTimeout seeds the per-operation deadline used by every subsequent
// Read/Write until changed again (spec §4.2: "Timeouts are per-operation
// deadlines seeded from set_timeout").
func (c *Connection) SetTimeout(d time.Duration) { c.tmo = d }

// SetCancellationToken replaces the connection's cancellation token, e.g.
// when the server orchestrator links it to a shutdown source.
func (c *Connection) SetCancellationToken(tok reactor.CancelToken) { c.tok = tok }

func (c *Connection) CancelToken() reactor.CancelToken { return c.tok }

func (c *Connection) deadline() time.Time {
	if c.tmo <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.tmo)
}

// Read reads at least one byte into buf, respecting the current timeout and
// cancellation token.
func (c *Connection) Read(buf []byte) (int, error) {
	if c.tok.Cancelled() {
		return 0, reactor.ErrCancelled
	}
	c.raw.SetReadDeadline(c.deadline())
	n, err := c.br.Read(buf)
	return n, mapNetErr(err)
}

// ReadByte reads a single byte through the lookahead buffer — the parser's
// primary primitive for scanning CRLF-terminated lines.
func (c *Connection) ReadByte() (byte, error) {
	if c.tok.Cancelled() {
		return 0, reactor.ErrCancelled
	}
	c.raw.SetReadDeadline(c.deadline())
	b, err := c.br.ReadByte()
	return b, mapNetErr(err)
}

// Peek returns the next n buffered bytes without consuming them.
func (c *Connection) Peek(n int) ([]byte, error) {
	c.raw.SetReadDeadline(c.deadline())
	b, err := c.br.Peek(n)
	return b, mapNetErr(err)
}

// Buffered reports how many bytes are already sitting in the lookahead
// buffer (used by the keep-alive loop to detect pipelined requests).
func (c *Connection) Buffered() int { return c.br.Buffered() }

// ReadUntil reads (and consumes) bytes up to and including the first
// occurrence of delim, per spec §4.2's read_until.
func (c *Connection) ReadUntil(delim byte) ([]byte, error) {
	if c.tok.Cancelled() {
		return nil, reactor.ErrCancelled
	}
	c.raw.SetReadDeadline(c.deadline())
	b, err := c.br.ReadBytes(delim)
	return b, mapNetErr(err)
}

// ReadFull reads exactly len(buf) bytes.
func (c *Connection) ReadFull(buf []byte) (int, error) {
	if c.tok.Cancelled() {
		return 0, reactor.ErrCancelled
	}
	c.raw.SetReadDeadline(c.deadline())
	n, err := io.ReadFull(c.br, buf)
	return n, mapNetErr(err)
}

// Write writes p once (may be a short write on congestion).
func (c *Connection) Write(p []byte) (int, error) {
	if c.tok.Cancelled() {
		return 0, reactor.ErrCancelled
	}
	c.raw.SetWriteDeadline(c.deadline())
	n, err := c.raw.Write(p)
	return n, mapNetErr(err)
}

// WriteAll loops on partial writes until all of p is written or an error
// occurs (spec §4.1's write_all contract, hoisted to the connection level).
func (c *Connection) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := c.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// TransmitFile sends length bytes of file starting at offset. It prefers
// the kernel zero-copy path (io.Copy dispatches to ReadFrom/sendfile when
// the destination is a *net.TCPConn) and falls back to a read/write loop
// otherwise — spec §4.1: "zero-copy where supported; falls back to
// read/write loop".
func (c *Connection) TransmitFile(ctx context.Context, file *os.File, offset, length int64) (int64, error) {
	if err := c.rt.AcquireFileSlot(ctx); err != nil {
		return 0, err
	}
	defer c.rt.ReleaseFileSlot()

	if c.tok.Cancelled() {
		return 0, reactor.ErrCancelled
	}
	section := io.NewSectionReader(file, offset, length)
	c.raw.SetWriteDeadline(c.deadline())
	n, err := io.Copy(c.raw, section)
	return n, mapNetErr(err)
}

// Close closes the underlying socket.
func (c *Connection) Close() error { return c.raw.Close() }

// IsOpen reports whether the connection's cancellation token has not fired.
// net.Conn has no direct "closed" query and Close does not touch the token,
// so IsOpen stays true after Close or a peer hang-up; those show up only as
// Read/Write errors.
func (c *Connection) IsOpen() bool { return !c.tok.Cancelled() }

func (c *Connection) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func (c *Connection) RemoteAddress() string {
	if a := c.raw.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// NegotiatedProtocol returns the ALPN selection ("h2"/"http/1.1") or "" when
// the connection isn't TLS-terminated or ALPN wasn't negotiated.
func (c *Connection) NegotiatedProtocol() string { return c.alpn }

func (c *Connection) TLSState() *tls.ConnectionState { return c.tls }

func (c *Connection) Raw() net.Conn { return c.raw }

// Hijacked reports whether Hijack has already transferred this connection
// away from its serving loop.
func (c *Connection) Hijacked() bool { return c.hijacked }

// Hijack transfers raw ownership of the socket to the caller, the general
// form of the ownership-transfer primitive C7 already uses internally for
// the WebSocket and h2c upgrade paths (spec §3 Hijacking). Any bytes already
// consumed into the lookahead buffer but not yet handed to a caller are
// replayed first, so nothing the parser peeked at is lost. A Connection may
// only be hijacked once; a second call returns ErrHijacked.
func (c *Connection) Hijack() (net.Conn, error) {
	if c.hijacked {
		return nil, ErrHijacked
	}
	c.hijacked = true
	if n := c.br.Buffered(); n > 0 {
		leftover, _ := c.br.Peek(n)
		return &hijackedConn{Conn: c.raw, leftover: append([]byte(nil), leftover...)}, nil
	}
	return c.raw, nil
}

// hijackedConn replays a Connection's buffered lookahead bytes before
// falling through to the raw socket, so a hijacking caller sees the same
// byte stream it would have seen reading through the Connection directly.
type hijackedConn struct {
	net.Conn
	leftover []byte
}

func (h *hijackedConn) Read(p []byte) (int, error) {
	if len(h.leftover) > 0 {
		n := copy(p, h.leftover)
		h.leftover = h.leftover[n:]
		return n, nil
	}
	return h.Conn.Read(p)
}

func mapNetErr(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return err
}

// ErrTimeout is returned in place of the underlying net.Error when a
// deadline fires — the IoError.Timeout kind of spec §7.
var ErrTimeout = errors.New("pipe: i/o timeout")

package websocket

import (
	"context"
	"errors"

	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/wserr"
)

// ErrCancelled is returned by Receive when the server shuts down while a
// handler is blocked waiting for a message (spec §4.8: "Cancellation on
// server shutdown terminates receive with a cancelled error").
var ErrCancelled = errors.New("websocket: receive cancelled")

// Message is a reassembled text or binary message (spec §4.8: "Messages are
// reassembled across continuation frames").
type Message struct {
	Binary  bool
	Payload []byte
}

// Connection is the WebSocketConnection handler contract: Receive,
// SendText, SendBinary, IsOpen, RemoteAddress (spec §4.8).
type Connection struct {
	ID            string
	conn          *pipe.Connection
	maxFrameSize  int
	closeSent     bool
	closeReceived bool
}

// New wraps conn, already past the HTTP/1.1 101 handshake, as a WebSocket
// connection identified by id (the hub's registry key, spec §9).
func New(id string, conn *pipe.Connection, maxFrameSize int) *Connection {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Connection{ID: id, conn: conn, maxFrameSize: maxFrameSize}
}

// Receive blocks for the next complete message, transparently replying to
// interleaved control frames (ping→pong, close→echo-close) before returning
// a data message, a close notification (ok=false, err=nil), or an error.
func (c *Connection) Receive(ctx context.Context) (Message, bool, error) {
	var assembled []byte
	var binary bool
	started := false

	for {
		if c.conn.CancelToken().Cancelled() {
			return Message{}, false, ErrCancelled
		}
		f, err := readFrame(c.conn, c.maxFrameSize)
		if err != nil {
			var we *wserr.Error
			if errors.As(err, &we) {
				c.sendClose(we.Code)
			}
			return Message{}, false, err
		}

		switch f.opcode {
		case OpPing:
			if err := writeFrame(c.conn, true, OpPong, f.payload); err != nil {
				return Message{}, false, err
			}
			continue
		case OpPong:
			continue
		case OpClose:
			c.closeReceived = true
			code := uint16(CloseNormal)
			if len(f.payload) >= 2 {
				code = uint16(f.payload[0])<<8 | uint16(f.payload[1])
			}
			c.sendClose(code)
			return Message{}, false, nil
		case OpText, OpBinary:
			if started {
				return Message{}, false, wserr.New(wserr.InvalidFrame, CloseProtocolError, "new message started before previous one finished")
			}
			started = true
			binary = f.opcode == OpBinary
			assembled = append(assembled, f.payload...)
		case OpContinuation:
			if !started {
				return Message{}, false, wserr.New(wserr.InvalidFrame, CloseProtocolError, "continuation without a started message")
			}
			assembled = append(assembled, f.payload...)
		default:
			return Message{}, false, wserr.New(wserr.InvalidFrame, CloseProtocolError, "unknown opcode %d", f.opcode)
		}

		if started && f.fin {
			return Message{Binary: binary, Payload: assembled}, true, nil
		}
	}
}

// SendText sends a complete text message as a single unfragmented frame.
func (c *Connection) SendText(s string) error { return writeFrame(c.conn, true, OpText, []byte(s)) }

// SendBinary sends a complete binary message as a single unfragmented frame.
func (c *Connection) SendBinary(p []byte) error { return writeFrame(c.conn, true, OpBinary, p) }

// IsOpen reports whether neither side has sent a close frame yet.
func (c *Connection) IsOpen() bool { return !c.closeSent && !c.closeReceived && c.conn.IsOpen() }

func (c *Connection) RemoteAddress() string { return c.conn.RemoteAddress() }

func (c *Connection) sendClose(code uint16) error {
	if c.closeSent {
		return nil
	}
	c.closeSent = true
	payload := []byte{byte(code >> 8), byte(code)}
	return writeFrame(c.conn, true, OpClose, payload)
}

// Close gracefully closes the connection with code 1000 if no close has
// been exchanged yet (spec §4.8: "when the handler returns ... the
// connection is gracefully closed with code 1000 if not already closed"),
// then closes the underlying socket.
func (c *Connection) Close() error {
	c.sendClose(CloseNormal)
	return c.conn.Close()
}

// Handler is the user-supplied WebSocket handler signature; it runs to
// completion, at which point the loop closes the connection (spec §4.8).
type Handler func(ctx context.Context, conn *Connection)

// Serve binds the handshake-upgraded socket to a fresh Connection identified
// by idFunc and runs fn to completion, always closing afterward — the shape
// connloop.WSUpgradeFunc expects.
func Serve(ctx context.Context, raw *pipe.Connection, idFunc func() string, fn Handler) {
	c := New(idFunc(), raw, DefaultMaxFrameSize)
	defer c.Close()
	fn(ctx, c)
}

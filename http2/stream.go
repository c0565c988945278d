package http2

import "github.com/badu/vortex/h2err"

// StreamState is the subset of RFC 7540 §5.1's state machine a server-only,
// no-push engine actually visits (spec §4.7): idle → open →
// half_closed_remote → closed. reserved_local is declared but never entered.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedRemote
	StreamReservedLocal
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamOpen:
		return "open"
	case StreamHalfClosedRemote:
		return "half_closed_remote"
	case StreamReservedLocal:
		return "reserved_local"
	default:
		return "closed"
	}
}

const initialWindowSize = 65535

// stream tracks one HTTP/2 request/response exchange.
type stream struct {
	id    uint32
	state StreamState

	headerBlock []byte // accumulated HEADERS+CONTINUATION fragments
	endHeaders  bool
	endStream   bool // END_STREAM seen (on HEADERS or a DATA frame)
	body        []byte

	sendWindow int32
	recvWindow int32

	pseudoDone bool // pseudo-headers must precede regular headers per block
}

func newStream(id uint32) *stream {
	return &stream{id: id, state: StreamIdle, sendWindow: initialWindowSize, recvWindow: initialWindowSize}
}

// onHeaders opens the stream (if idle) and appends a HEADERS/CONTINUATION
// fragment. endHeaders/endStream reflect the frame's flags.
func (s *stream) onHeaders(fragment []byte, endHeaders, endStream bool) error {
	switch s.state {
	case StreamIdle:
		s.state = StreamOpen
	case StreamOpen:
		// trailing HEADERS (e.g. a second block) only legal with END_STREAM
		if !endStream {
			return h2err.NewStreamError(s.id, h2err.ProtocolError, "HEADERS on open stream without END_STREAM")
		}
	default:
		return h2err.NewStreamError(s.id, h2err.StreamClosed, "HEADERS on stream in state %s", s.state)
	}
	s.headerBlock = append(s.headerBlock, fragment...)
	s.endHeaders = endHeaders
	if endStream {
		s.markEndStream()
	}
	return nil
}

// onContinuation appends a CONTINUATION fragment; the caller must already
// have verified a HEADERS block is open and awaiting END_HEADERS
// (handleContinuation rejects a stream whose endHeaders is already set).
func (s *stream) onContinuation(fragment []byte, endHeaders bool) {
	s.headerBlock = append(s.headerBlock, fragment...)
	s.endHeaders = endHeaders
}

// onData appends a DATA payload to the accumulated request body.
func (s *stream) onData(payload []byte, endStream bool) error {
	if s.state != StreamOpen {
		return h2err.NewStreamError(s.id, h2err.StreamClosed, "DATA on stream in state %s", s.state)
	}
	s.body = append(s.body, payload...)
	if endStream {
		s.markEndStream()
	}
	return nil
}

func (s *stream) markEndStream() {
	s.endStream = true
	if s.state == StreamOpen {
		s.state = StreamHalfClosedRemote
	}
}

// ready reports whether the full request (headers + body, if any) is ready
// to dispatch: END_HEADERS and END_STREAM both seen.
func (s *stream) ready() bool { return s.endHeaders && s.endStream }

func (s *stream) close() { s.state = StreamClosed }

// applyWindowUpdate increments the stream's send window (spec §4.7: "Flow
// control: ... receiving WINDOW_UPDATE increments").
func (s *stream) applyWindowUpdate(n uint32) error {
	next := int64(s.sendWindow) + int64(n)
	if next > 1<<31-1 {
		return h2err.NewStreamError(s.id, h2err.FlowControlError, "window overflow")
	}
	s.sendWindow = int32(next)
	return nil
}

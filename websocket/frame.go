// Package websocket implements C9: RFC 6455 frame codec, message
// reassembly, and the WebSocketConnection handler contract (spec §4.8).
// Grounded on the pack's WebSocket server example's frame-field layout,
// adapted from a buffer-parsing loop into a pipe.Connection-driven reader.
package websocket

import (
	"encoding/binary"

	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/wserr"
)

type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) isControl() bool { return op >= OpClose }

// DefaultMaxFrameSize is the 1 MiB default spec §4.8 calls for.
const DefaultMaxFrameSize = 1 << 20

// CloseCode values per RFC 6455 §7.4.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseProtocolError  = 1002
	CloseUnsupportedData = 1003
	CloseInvalidPayload = 1007
	CloseMessageTooBig  = 1009
)

// frame is one decoded RFC 6455 frame.
type frame struct {
	fin     bool
	opcode  Opcode
	payload []byte
}

// readFrame reads and unmasks one frame, rejecting an unmasked client frame
// with wserr (spec §4.8: "server rejects unmasked client frames with close
// 1002").
func readFrame(conn *pipe.Connection, maxFrameSize int) (frame, error) {
	var head [2]byte
	if _, err := conn.ReadFull(head[:]); err != nil {
		return frame{}, err
	}
	fin := head[0]&0x80 != 0
	opcode := Opcode(head[0] & 0x0f)
	masked := head[1]&0x80 != 0
	length := int64(head[1] & 0x7f)

	if !masked {
		return frame{}, wserr.New(wserr.InvalidFrame, CloseProtocolError, "client frame not masked")
	}

	switch length {
	case 126:
		var ext [2]byte
		if _, err := conn.ReadFull(ext[:]); err != nil {
			return frame{}, err
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := conn.ReadFull(ext[:]); err != nil {
			return frame{}, err
		}
		length = int64(binary.BigEndian.Uint64(ext[:]))
	}
	if length > int64(maxFrameSize) {
		return frame{}, wserr.New(wserr.MessageTooLarge, CloseMessageTooBig, "frame length %d exceeds max %d", length, maxFrameSize)
	}
	if opcode.isControl() && length > 125 {
		return frame{}, wserr.New(wserr.InvalidFrame, CloseProtocolError, "control frame payload exceeds 125 bytes")
	}

	var maskKey [4]byte
	if _, err := conn.ReadFull(maskKey[:]); err != nil {
		return frame{}, err
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := conn.ReadFull(payload); err != nil {
			return frame{}, err
		}
	}
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}
	return frame{fin: fin, opcode: opcode, payload: payload}, nil
}

// writeFrame writes an unmasked server frame (servers never mask per RFC
// 6455 §5.1).
func writeFrame(conn *pipe.Connection, fin bool, opcode Opcode, payload []byte) error {
	var head [10]byte
	n := 2
	head[0] = byte(opcode)
	if fin {
		head[0] |= 0x80
	}
	switch {
	case len(payload) <= 125:
		head[1] = byte(len(payload))
	case len(payload) <= 0xffff:
		head[1] = 126
		binary.BigEndian.PutUint16(head[2:4], uint16(len(payload)))
		n = 4
	default:
		head[1] = 127
		binary.BigEndian.PutUint64(head[2:10], uint64(len(payload)))
		n = 10
	}
	if err := conn.WriteAll(head[:n]); err != nil {
		return err
	}
	return conn.WriteAll(payload)
}

// Package http2 implements C8: the server side of RFC 7540 without server
// push. Frame codec grounded on the vendored x/net/http2 frame layout seen
// across the retrieval pack; HPACK is delegated to golang.org/x/net/http2/hpack
// rather than reimplemented (spec §4.7: "a canonical, spec-exact
// implementation is already the ecosystem standard").
package http2

import (
	"encoding/binary"
	"io"

	"github.com/badu/vortex/h2err"
)

// ClientPreface is the 24-byte magic the server must see before any frame.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

type Flags uint8

const (
	FlagEndStream  Flags = 0x1
	FlagAck        Flags = 0x1
	FlagEndHeaders Flags = 0x4
	FlagPadded     Flags = 0x8
	FlagPriority   Flags = 0x20
)

func (f Flags) Has(v Flags) bool { return f&v != 0 }

// FrameHeader is the fixed 9-byte frame prefix (spec §4.7).
type FrameHeader struct {
	Length   uint32 // 24-bit on the wire
	Type     FrameType
	Flags    Flags
	StreamID uint32 // 31-bit on the wire, high bit reserved
}

// Frame is a decoded frame header plus its raw payload.
type Frame struct {
	FrameHeader
	Payload []byte
}

const frameHeaderLen = 9

// MaxFrameSize is the default SETTINGS_MAX_FRAME_SIZE this server advertises
// and enforces on frames it reads.
const MaxFrameSize = 16384

// ReadFrame reads one frame from r. A frame whose declared length exceeds
// maxSize is a connection error with code FRAME_SIZE_ERROR.
func ReadFrame(r io.Reader, maxSize uint32) (Frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	length := uint32(hdr[0])<<16 | uint32(hdr[1])<<8 | uint32(hdr[2])
	if length > maxSize {
		return Frame{}, h2err.NewConnError(h2err.FrameSizeError, "frame length %d exceeds max %d", length, maxSize)
	}
	fh := FrameHeader{
		Length:   length,
		Type:     FrameType(hdr[3]),
		Flags:    Flags(hdr[4]),
		StreamID: binary.BigEndian.Uint32(hdr[5:9]) & 0x7fffffff,
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{FrameHeader: fh, Payload: payload}, nil
}

// WriteFrame serializes fh+payload onto w.
func WriteFrame(w io.Writer, fh FrameHeader, payload []byte) error {
	var buf [frameHeaderLen]byte
	n := len(payload)
	buf[0] = byte(n >> 16)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n)
	buf[3] = byte(fh.Type)
	buf[4] = byte(fh.Flags)
	binary.BigEndian.PutUint32(buf[5:9], fh.StreamID&0x7fffffff)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ParsePriority reads the 5-byte PRIORITY payload (exclusive bit + stream
// dependency + weight). The server parses but ignores prioritization (spec
// §4.7: "PRIORITY (parsed and ignored)").
func ParsePriority(payload []byte) (streamDep uint32, exclusive bool, weight uint8, err error) {
	if len(payload) < 5 {
		return 0, false, 0, h2err.NewConnError(h2err.FrameSizeError, "PRIORITY payload too short")
	}
	raw := binary.BigEndian.Uint32(payload[0:4])
	return raw & 0x7fffffff, raw&0x80000000 != 0, payload[4], nil
}

// Setting is one SETTINGS key/value pair.
type Setting struct {
	ID    uint16
	Value uint32
}

const (
	SettingHeaderTableSize      uint16 = 0x1
	SettingEnablePush           uint16 = 0x2
	SettingMaxConcurrentStreams uint16 = 0x3
	SettingInitialWindowSize    uint16 = 0x4
	SettingMaxFrameSize         uint16 = 0x5
	SettingMaxHeaderListSize    uint16 = 0x6
)

// ParseSettings decodes a SETTINGS frame payload (6 bytes per entry).
func ParseSettings(payload []byte) ([]Setting, error) {
	if len(payload)%6 != 0 {
		return nil, h2err.NewConnError(h2err.FrameSizeError, "SETTINGS payload not a multiple of 6")
	}
	out := make([]Setting, 0, len(payload)/6)
	for i := 0; i+6 <= len(payload); i += 6 {
		out = append(out, Setting{
			ID:    binary.BigEndian.Uint16(payload[i : i+2]),
			Value: binary.BigEndian.Uint32(payload[i+2 : i+6]),
		})
	}
	return out, nil
}

// EncodeSettings serializes a SETTINGS payload.
func EncodeSettings(settings []Setting) []byte {
	buf := make([]byte, 6*len(settings))
	for i, s := range settings {
		binary.BigEndian.PutUint16(buf[i*6:i*6+2], s.ID)
		binary.BigEndian.PutUint32(buf[i*6+2:i*6+6], s.Value)
	}
	return buf
}

// ParseWindowUpdate decodes a WINDOW_UPDATE payload's increment.
func ParseWindowUpdate(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, h2err.NewConnError(h2err.FrameSizeError, "WINDOW_UPDATE payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(payload) & 0x7fffffff, nil
}

// EncodeWindowUpdate serializes a WINDOW_UPDATE increment.
func EncodeWindowUpdate(increment uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, increment&0x7fffffff)
	return buf
}

// ParseRSTStream decodes an RST_STREAM error code.
func ParseRSTStream(payload []byte) (h2err.Code, error) {
	if len(payload) != 4 {
		return 0, h2err.NewConnError(h2err.FrameSizeError, "RST_STREAM payload must be 4 bytes")
	}
	return h2err.Code(binary.BigEndian.Uint32(payload)), nil
}

// EncodeRSTStream serializes an RST_STREAM error code.
func EncodeRSTStream(code h2err.Code) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(code))
	return buf
}

// EncodeGoAway serializes a GOAWAY payload.
func EncodeGoAway(lastStreamID uint32, code h2err.Code, debug []byte) []byte {
	buf := make([]byte, 8+len(debug))
	binary.BigEndian.PutUint32(buf[0:4], lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(buf[4:8], uint32(code))
	copy(buf[8:], debug)
	return buf
}

// stripPadding removes PADDED-flag padding from a DATA/HEADERS payload,
// returning the body with the pad-length byte and the trailing padding
// removed.
func stripPadding(payload []byte, padded bool) ([]byte, error) {
	if !padded {
		return payload, nil
	}
	if len(payload) < 1 {
		return nil, h2err.NewConnError(h2err.FrameSizeError, "PADDED frame with empty payload")
	}
	padLen := int(payload[0])
	body := payload[1:]
	if padLen > len(body) {
		return nil, h2err.NewConnError(h2err.ProtocolError, "pad length exceeds frame payload")
	}
	return body[:len(body)-padLen], nil
}

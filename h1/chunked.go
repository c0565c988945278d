package h1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/badu/vortex/hdr"
	"github.com/badu/vortex/herr"
	"github.com/badu/vortex/pipe"
)

// readChunkedBody reads chunks until the zero-size terminator and
// concatenates them, honoring MaxBodyBytes across the whole body (spec
// §4.3: "read chunks until the zero-size terminator; concatenate").
func readChunkedBody(conn *pipe.Connection, h hdr.Header) ([]byte, error) {
	var out []byte
	for {
		sizeLine, err := conn.ReadUntil('\n')
		if err != nil {
			return nil, err
		}
		if len(sizeLine) > maxChunkLineBytes {
			return nil, herr.New(herr.BadRequest, "chunk size line too long")
		}
		sizeLine = bytes.TrimRight(sizeLine, "\r\n")
		if i := bytes.IndexByte(sizeLine, ';'); i >= 0 {
			sizeLine = sizeLine[:i] // strip chunk extensions, not interpreted
		}
		size, err := strconv.ParseUint(strings.TrimSpace(string(sizeLine)), 16, 64)
		if err != nil {
			return nil, herr.New(herr.BadRequest, "malformed chunk size %q", sizeLine)
		}
		if size == 0 {
			// Trailer headers (if any) precede the terminating blank line;
			// the request model doesn't surface request trailers, so they
			// are read and discarded.
			for {
				line, err := conn.ReadUntil('\n')
				if err != nil {
					return nil, err
				}
				if len(bytes.TrimRight(line, "\r\n")) == 0 {
					return out, nil
				}
			}
		}
		if uint64(len(out))+size > MaxBodyBytes {
			return nil, herr.New(herr.PayloadTooLarge, "chunked body exceeds cap of %d", MaxBodyBytes)
		}
		chunk := make([]byte, size)
		if _, err := conn.ReadFull(chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)

		crlf := make([]byte, 2)
		if _, err := conn.ReadFull(crlf); err != nil {
			return nil, err
		}
		if crlf[0] != '\r' || crlf[1] != '\n' {
			return nil, herr.New(herr.BadRequest, "malformed chunk terminator")
		}
	}
}

// writeChunk writes one chunk frame: "<hex-size>\r\n<data>\r\n".
func writeChunk(conn *pipe.Connection, data []byte) error {
	head := strconv.AppendUint(nil, uint64(len(data)), 16)
	head = append(head, '\r', '\n')
	if err := conn.WriteAll(head); err != nil {
		return err
	}
	if err := conn.WriteAll(data); err != nil {
		return err
	}
	return conn.WriteAll([]byte("\r\n"))
}

// writeChunkTerminator writes the zero-size terminating chunk, optionally
// followed by a trailer header block (spec §9 supplemented feature).
func writeChunkTerminator(conn *pipe.Connection, trailers hdr.Header) error {
	if err := conn.WriteAll([]byte("0\r\n")); err != nil {
		return err
	}
	if trailers != nil {
		var buf bytes.Buffer
		trailers.Write(&buf)
		if err := conn.WriteAll(buf.Bytes()); err != nil {
			return err
		}
	}
	return conn.WriteAll([]byte("\r\n"))
}

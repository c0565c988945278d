package h1

import (
	"context"
	"fmt"
	"os"

	"github.com/badu/vortex/hdr"
	"github.com/badu/vortex/message"
	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/sniff"
)

// WriteResult tells the connection loop whether it still owns a transmit_file
// call to make (the serializer writes only the header block for file
// bodies — spec §4.3: "the body is streamed via transmit_file").
type WriteResult struct {
	NeedsFileTransmit bool
	File              message.FileBody
}

// WriteResponse serializes resp as an HTTP/1.1 response: status line,
// headers (auto Content-Length / Transfer-Encoding filled in when absent),
// then the body. proto1_1 selects "HTTP/1.1" vs "HTTP/1.0" in the status
// line, matching the request's own version (spec §6: HTTP/1.0 is accepted).
func WriteResponse(conn *pipe.Connection, proto1_1 bool, headOnly bool, resp *message.Response) (WriteResult, error) {
	applyAutoHeaders(resp, headOnly)

	if err := writeStatusLine(conn, proto1_1, resp.Status); err != nil {
		return WriteResult{}, err
	}

	exclude := map[string]bool{}
	for _, name := range resp.TrailerNames() {
		exclude[name] = true
	}
	if err := resp.Header.WriteSubset(writerAdapter{conn}, exclude); err != nil {
		return WriteResult{}, err
	}
	if err := conn.WriteAll([]byte("\r\n")); err != nil {
		return WriteResult{}, err
	}

	if headOnly || !message.BodyAllowedForStatus(resp.Status) {
		return WriteResult{}, nil
	}

	switch resp.Kind {
	case message.BodyBuffered:
		if err := conn.WriteAll(resp.Buffered); err != nil {
			return WriteResult{}, err
		}
	case message.BodyFile:
		return WriteResult{NeedsFileTransmit: true, File: resp.File}, nil
	case message.BodyStream:
		for {
			chunk, ok, err := resp.Stream()
			if err != nil {
				return WriteResult{}, err
			}
			if !ok {
				break
			}
			if len(chunk) == 0 {
				continue
			}
			if err := writeChunk(conn, chunk); err != nil {
				return WriteResult{}, err
			}
		}
		if err := writeChunkTerminator(conn, resp.FinalTrailers()); err != nil {
			return WriteResult{}, err
		}
	}
	return WriteResult{}, nil
}

// TransmitFile is called by the connection loop after WriteResponse reports
// NeedsFileTransmit, so the loop (not h1) owns opening/closing the file —
// h1 stays a pure wire-format concern.
func TransmitFile(conn *pipe.Connection, ctx context.Context, fb message.FileBody) error {
	f, err := os.Open(fb.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = conn.TransmitFile(ctx, f, fb.Offset, fb.Length)
	return err
}

func applyAutoHeaders(resp *message.Response, headOnly bool) {
	switch resp.Kind {
	case message.BodyBuffered:
		if resp.Header.Get(hdr.ContentLength) == "" && message.BodyAllowedForStatus(resp.Status) {
			resp.Header.Set(hdr.ContentLength, fmt.Sprintf("%d", len(resp.Buffered)))
		}
		if resp.Header.Get(hdr.ContentType) == "" && message.BodyAllowedForStatus(resp.Status) && !headOnly {
			resp.Header.Set(hdr.ContentType, sniff.DetectContentType(resp.Buffered))
		}
	case message.BodyFile:
		if resp.Header.Get(hdr.ContentLength) == "" {
			resp.Header.Set(hdr.ContentLength, fmt.Sprintf("%d", fb(resp)))
		}
	case message.BodyStream:
		resp.Header.Del(hdr.ContentLength)
		resp.Header.Set(hdr.TransferEncoding, "chunked")
		if len(resp.TrailerNames()) > 0 {
			var names string
			for i, n := range resp.TrailerNames() {
				if i > 0 {
					names += ", "
				}
				names += n
			}
			resp.Header.Set(hdr.Trailer, names)
		}
	}
	if !message.BodyAllowedForStatus(resp.Status) {
		resp.Header.Del(hdr.ContentLength)
		resp.Header.Del(hdr.TransferEncoding)
	}
}

func fb(resp *message.Response) int64 { return resp.File.Length }

// WriteInterimResponse writes a bare 1xx status line with no headers or
// body (spec §3 100-continue: "replies 100 Continue before the handler
// reads the body"). The final response is still written separately once
// the handler runs.
func WriteInterimResponse(conn *pipe.Connection, proto1_1 bool, status int) error {
	if err := writeStatusLine(conn, proto1_1, status); err != nil {
		return err
	}
	return conn.WriteAll([]byte("\r\n"))
}

func writeStatusLine(conn *pipe.Connection, proto1_1 bool, status int) error {
	proto := "HTTP/1.0"
	if proto1_1 {
		proto = "HTTP/1.1"
	}
	line := fmt.Sprintf("%s %d %s\r\n", proto, status, message.StatusText(status))
	return conn.WriteAll([]byte(line))
}

type writerAdapter struct{ c *pipe.Connection }

func (w writerAdapter) Write(p []byte) (int, error) {
	if err := w.c.WriteAll(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Package h1 implements C3: the incremental HTTP/1.1 request parser and
// response serializer (spec §4.3), adapted from the teacher's
// readRequest/chunk_writer machinery but restructured around pipe.Connection
// and message.Request/Response instead of net/http's *Request/ResponseWriter.
package h1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/badu/vortex/hdr"
	"github.com/badu/vortex/herr"
	"github.com/badu/vortex/message"
	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/vurl"
)

const (
	// MaxHeaderBytes bounds the request line + header block (spec §4.3).
	MaxHeaderBytes = 8 << 10
	// MaxBodyBytes bounds a sized or chunked request body (spec §4.3).
	MaxBodyBytes = 10 << 20
	// maxChunkLineBytes bounds a single chunk-size line against malformed
	// or hostile chunked encodings.
	maxChunkLineBytes = 1 << 10
)

// ParseRequest performs the START → REQUEST_LINE → HEADER → BODY → DONE walk
// of spec §4.3. All errors are *herr.Error so the connection loop can map
// them directly to a status line. Callers that need to answer an
// Expect: 100-continue request before the body arrives (spec §3's
// 100-continue handling, driven by C7) should use ParseRequestHead and
// ReadBody instead, with a 100/417 response written in between.
func ParseRequest(conn *pipe.Connection) (*message.Request, error) {
	req, err := ParseRequestHead(conn)
	if err != nil {
		return nil, err
	}
	if err := ReadBody(conn, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseRequestHead reads the request line and headers only, leaving the body
// unread on conn. req.ExpectsContinue() is valid to call once this returns.
func ParseRequestHead(conn *pipe.Connection) (*message.Request, error) {
	line, err := readLine(conn, MaxHeaderBytes)
	if err != nil {
		return nil, err
	}
	method, target, proto, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	req := message.NewRequest()
	req.Method = message.ParseMethod(method)
	if req.Method == message.Unknown {
		return nil, herr.New(herr.BadRequest, "unknown method %q", method)
	}
	major, minor, ok := parseProto(proto)
	if !ok {
		return nil, herr.New(herr.BadRequest, "malformed HTTP version %q", proto)
	}
	req.Proto, req.Major, req.Minor = proto, major, minor

	rawPath, rawQuery := vurl.SplitPathQuery(target)
	req.RawPath = rawPath
	req.Path = vurl.Unescape(rawPath, false)
	req.Query = vurl.ParseQuery(rawQuery)

	budget := MaxHeaderBytes - len(line)
	if err := parseHeaders(conn, req.Header, &budget); err != nil {
		return nil, err
	}

	hosts := req.Header.Values(hdr.Host)
	if major >= 1 && minor >= 1 && len(hosts) == 0 && req.Method != message.CONNECT {
		return nil, herr.New(herr.BadRequest, "missing required Host header")
	}
	if len(hosts) > 1 {
		return nil, herr.New(herr.BadRequest, "too many Host headers")
	}
	if len(hosts) == 1 && !vurl.ValidHostHeader(hosts[0]) {
		return nil, herr.New(herr.BadRequest, "malformed Host header")
	}
	for k, vv := range req.Header {
		if !hdr.ValidHeaderFieldName(k) {
			return nil, herr.New(herr.BadRequest, "invalid header name %q", k)
		}
		for _, v := range vv {
			if !hdr.ValidHeaderFieldValue(v) {
				return nil, herr.New(herr.BadRequest, "invalid header value for %q", k)
			}
		}
	}

	return req, nil
}

// ReadBody reads req's body off conn (sized or chunked per its headers) and
// merges a form-urlencoded body into req.Query, matching ParseRequest's
// former single-pass behavior.
func ReadBody(conn *pipe.Connection, req *message.Request) error {
	body, err := readBody(conn, req.Header)
	if err != nil {
		return err
	}
	req.Body = body

	if isFormURLEncoded(req.Header.Get(hdr.ContentType)) && len(body) > 0 {
		req.Query = append(req.Query, vurl.ParseQuery(string(body))...)
	}
	return nil
}

func readLine(conn *pipe.Connection, maxLen int) ([]byte, error) {
	line, err := conn.ReadUntil('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > maxLen {
		return nil, herr.New(herr.UriTooLong, "request line exceeds %d bytes", maxLen)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func parseRequestLine(line []byte) (method, target, proto string, err error) {
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 {
		return "", "", "", herr.New(herr.BadRequest, "malformed request line %q", line)
	}
	return parts[0], parts[1], parts[2], nil
}

func parseProto(proto string) (major, minor int, ok bool) {
	if !strings.HasPrefix(proto, "HTTP/") {
		return 0, 0, false
	}
	rest := proto[len("HTTP/"):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(rest[:dot])
	min, err2 := strconv.Atoi(rest[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

func parseHeaders(conn *pipe.Connection, h hdr.Header, budget *int) error {
	for {
		line, err := conn.ReadUntil('\n')
		if err != nil {
			return err
		}
		*budget -= len(line)
		if *budget < 0 {
			return herr.New(herr.PayloadTooLarge, "header block exceeds %d bytes", MaxHeaderBytes)
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			return nil
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return herr.New(herr.BadRequest, "malformed header line %q", line)
		}
		key := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		if key == "" {
			return herr.New(herr.BadRequest, "empty header name")
		}
		h.Add(key, value)
	}
}

func isFormURLEncoded(contentType string) bool {
	ct := contentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.EqualFold(strings.TrimSpace(ct), "application/x-www-form-urlencoded")
}

func readBody(conn *pipe.Connection, h hdr.Header) ([]byte, error) {
	te := h.Get(hdr.TransferEncoding)
	if strings.EqualFold(te, "chunked") {
		return readChunkedBody(conn, h)
	}

	cl := h.Get(hdr.ContentLength)
	if cl == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || n < 0 {
		return nil, herr.New(herr.BadRequest, "malformed Content-Length %q", cl)
	}
	if n > MaxBodyBytes {
		return nil, herr.New(herr.PayloadTooLarge, "body of %d bytes exceeds cap of %d", n, MaxBodyBytes)
	}
	buf := make([]byte, n)
	if _, err := conn.ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

package message

import (
	"fmt"

	"github.com/badu/vortex/hdr"
)

// BodyKind selects which variant of Response.Body is populated. Exactly one
// is ever set (spec §3 invariant).
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyBuffered
	BodyFile
	BodyStream
)

// StatusText returns the standard reason phrase for a status code, falling
// back to a generic phrase for unregistered codes.
func StatusText(code int) string {
	if t, ok := statusText[code]; ok {
		return t
	}
	return fmt.Sprintf("status %d", code)
}

var statusText = map[int]string{
	100: "Continue", 101: "Switching Protocols",
	200: "OK", 201: "Created", 202: "Accepted", 204: "No Content", 206: "Partial Content",
	301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 411: "Length Required", 413: "Payload Too Large",
	414: "URI Too Long", 417: "Expectation Failed", 431: "Request Header Fields Too Large",
	500: "Internal Server Error", 501: "Not Implemented", 503: "Service Unavailable",
}

// FileBody locates a byte-range slice of a file on disk for zero-copy
// transmit_file serving (spec §3: "file slice (path + offset + length)").
type FileBody struct {
	Path   string
	Offset int64
	Length int64
}

// StreamFunc produces successive chunk-body fragments; returning ok=false
// ends the stream (emits the terminating zero-size chunk).
type StreamFunc func() (chunk []byte, ok bool, err error)

// Response is built by a handler or middleware and consumed exactly once by
// C7/C8. Connection/Keep-Alive headers are never set here — only by C7.
type Response struct {
	Status int

	Header hdr.Header

	Kind     BodyKind
	Buffered []byte
	File     FileBody
	Stream   StreamFunc

	// trailerNames is populated by DeclareTrailer; trailerValues are filled
	// in after the body is produced (teacher: Trailer/TrailerPrefix).
	trailerNames  []string
	trailerValues hdr.Header
}

// NewResponse returns a 200 response with an empty header set and no body.
func NewResponse() *Response {
	return &Response{Status: 200, Header: hdr.New()}
}

// Text sets a buffered text/plain body.
func (r *Response) Text(status int, body string) *Response {
	r.Status = status
	r.Kind = BodyBuffered
	r.Buffered = []byte(body)
	if r.Header.Get(hdr.ContentType) == "" {
		r.Header.Set(hdr.ContentType, "text/plain; charset=utf-8")
	}
	return r
}

// Bytes sets an arbitrary buffered body.
func (r *Response) Bytes(status int, contentType string, body []byte) *Response {
	r.Status = status
	r.Kind = BodyBuffered
	r.Buffered = body
	if contentType != "" {
		r.Header.Set(hdr.ContentType, contentType)
	}
	return r
}

// SendFile sets a file-backed body slice, served via transmit_file.
func (r *Response) SendFile(status int, path string, offset, length int64) *Response {
	r.Status = status
	r.Kind = BodyFile
	r.File = FileBody{Path: path, Offset: offset, Length: length}
	return r
}

// SendStream sets a chunked generator body.
func (r *Response) SendStream(status int, fn StreamFunc) *Response {
	r.Status = status
	r.Kind = BodyStream
	r.Stream = fn
	return r
}

// DeclareTrailer registers a header name that will be emitted only as a
// chunked-body trailer, not in the leading header block (spec §9).
func (r *Response) DeclareTrailer(name string) {
	r.trailerNames = append(r.trailerNames, hdr.CanonicalHeaderKey(name))
}

// SetTrailer sets a trailer value; name must have been declared first.
func (r *Response) SetTrailer(name, value string) {
	if r.trailerValues == nil {
		r.trailerValues = hdr.New()
	}
	r.trailerValues.Set(name, value)
}

// HasTrailers reports whether any trailer names were declared.
func (r *Response) HasTrailers() bool { return len(r.trailerNames) > 0 }

// TrailerNames returns the declared trailer names, canonicalized.
func (r *Response) TrailerNames() []string { return r.trailerNames }

// FinalTrailers returns the trailer header block to emit after the body,
// restricted to declared names that were actually set.
func (r *Response) FinalTrailers() hdr.Header {
	if len(r.trailerNames) == 0 {
		return nil
	}
	out := hdr.New()
	for _, name := range r.trailerNames {
		if v := r.trailerValues.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

// BodyAllowedForStatus reports whether a body may be sent for this status
// (1xx, 204, 304 never carry a body — RFC 7230 §3.3.2).
func BodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == 204:
		return false
	case status == 304:
		return false
	}
	return true
}

// NotFound synthesizes the dispatcher's 404 — the router itself never
// builds a response (spec §4.4).
func NotFound() *Response {
	return NewResponse().Text(404, "404 Not Found")
}

// MethodNotAllowed synthesizes a 405.
func MethodNotAllowed() *Response {
	return NewResponse().Text(405, "405 Method Not Allowed")
}

// Package message implements the C4 data model: Request and Response, the
// in-memory representations C3/C8 parse into and C5/C6/C7 operate on.
package message

import (
	"context"
	"errors"
	"net"

	"github.com/google/uuid"

	"github.com/badu/vortex/hdr"
	"github.com/badu/vortex/vurl"
)

// ErrHijackNotSupported is returned by Request.Hijack when the serving loop
// that produced this request didn't attach a hijack primitive (e.g. an
// HTTP/2 stream — mirroring net/http, HTTP/2 intentionally does not support
// Hijacker).
var ErrHijackNotSupported = errors.New("message: connection does not support hijacking")

const hijackAttachmentKey = "vortex.hijack"

// HijackFunc takes raw ownership of the connection a request arrived on.
type HijackFunc func() (net.Conn, error)

// Method is the enum of the nine HTTP methods plus Unknown (spec §3).
type Method int

const (
	Unknown Method = iota
	GET
	HEAD
	POST
	PUT
	DELETE
	CONNECT
	OPTIONS
	TRACE
	PATCH
)

var methodNames = map[string]Method{
	"GET": GET, "HEAD": HEAD, "POST": POST, "PUT": PUT, "DELETE": DELETE,
	"CONNECT": CONNECT, "OPTIONS": OPTIONS, "TRACE": TRACE, "PATCH": PATCH,
}

var methodStrings = map[Method]string{
	GET: "GET", HEAD: "HEAD", POST: "POST", PUT: "PUT", DELETE: "DELETE",
	CONNECT: "CONNECT", OPTIONS: "OPTIONS", TRACE: "TRACE", PATCH: "PATCH",
}

func ParseMethod(s string) Method {
	if m, ok := methodNames[s]; ok {
		return m
	}
	return Unknown
}

func (m Method) String() string {
	if s, ok := methodStrings[m]; ok {
		return s
	}
	return "UNKNOWN"
}

// Param is one decoded route capture, keyed by the name given in the route
// pattern (spec §3: "ordered sequence of decoded strings").
type Param struct {
	Name  string
	Value string
}

// Request is the in-memory representation parsed by C3 (HTTP/1.1) or C8
// (HTTP/2), mutated by C7 before dispatch, consumed by handlers.
type Request struct {
	ID      string // generated per connection-scope request; used in logs and the WS hub
	Method  Method
	Path    string // decoded path, no query
	RawPath string // original (possibly percent-encoded) path, for diagnostics
	Query   []vurl.Pair
	Proto   string // "HTTP/1.0", "HTTP/1.1", "HTTP/2"
	Major   int
	Minor   int

	Header hdr.Header
	Body   []byte

	RemoteAddr string
	RemotePort string

	Params []Param

	// TLS and ALPN details, populated by pipe.Connection when available.
	TLSNegotiatedProtocol string

	attachments map[string]interface{}
	ctx         context.Context
}

// NewRequest builds an empty Request ready for the parser to fill in.
func NewRequest() *Request {
	return &Request{ID: uuid.NewString(), Header: hdr.New()}
}

// ProtoAtLeast reports whether the request's HTTP version is >= major.minor.
func (r *Request) ProtoAtLeast(major, minor int) bool {
	return r.Major > major || (r.Major == major && r.Minor >= minor)
}

// Context returns the request's context, defaulting to Background.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext attaches ctx, mirroring the teacher's request.ctx plumbing.
func (r *Request) WithContext(ctx context.Context) {
	r.ctx = ctx
}

// Attach sets a typed attachment under key, available to downstream
// middleware/handlers (spec §3: "typed attachment table for per-request
// context"). Values are opaque — callers type-assert on retrieval.
func (r *Request) Attach(key string, value interface{}) {
	if r.attachments == nil {
		r.attachments = make(map[string]interface{})
	}
	r.attachments[key] = value
}

// Attachment retrieves a value set with Attach.
func (r *Request) Attachment(key string) (interface{}, bool) {
	if r.attachments == nil {
		return nil, false
	}
	v, ok := r.attachments[key]
	return v, ok
}

// SetHijackFunc attaches fn as this request's hijack primitive. Called by
// C7/C8 before dispatch; handlers never call it directly.
func (r *Request) SetHijackFunc(fn HijackFunc) {
	r.Attach(hijackAttachmentKey, fn)
}

// Hijack takes raw ownership of the connection this request arrived on
// (spec §3 Hijacking), the general form of the same mechanism the
// WebSocket/HTTP2 upgrade paths use internally. Returns
// ErrHijackNotSupported if the serving loop didn't attach a hijack
// primitive, or the underlying error if the connection was already
// hijacked.
func (r *Request) Hijack() (net.Conn, error) {
	v, ok := r.Attachment(hijackAttachmentKey)
	if !ok {
		return nil, ErrHijackNotSupported
	}
	return v.(HijackFunc)()
}

// Param returns the i-th route capture's decoded value and whether index i
// exists. This is the "typed helper" design note §9 calls for in place of
// heterogeneous handler parameter packs.
func (r *Request) Param(i int) (string, bool) {
	if i < 0 || i >= len(r.Params) {
		return "", false
	}
	return r.Params[i].Value, true
}

// ParamByName looks up a route capture by the name given in the pattern.
func (r *Request) ParamByName(name string) (string, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// QueryParam returns the first query-string value for key.
func (r *Request) QueryParam(key string) (string, bool) {
	return vurl.Get(r.Query, key)
}

// WantsClose reports whether the client asked for the connection to be
// closed after this response (Connection: close, or HTTP/1.0 without
// keep-alive).
func (r *Request) WantsClose() bool {
	if hasToken(r.Header.Get(hdr.Connection), "close") {
		return true
	}
	if !r.ProtoAtLeast(1, 1) {
		return !hasToken(r.Header.Get(hdr.Connection), "keep-alive")
	}
	return false
}

// ExpectsContinue reports whether the client sent Expect: 100-continue.
func (r *Request) ExpectsContinue() bool {
	return hasToken(r.Header.Get(hdr.Expect), "100-continue")
}

func hasToken(v, token string) bool {
	if v == "" {
		return false
	}
	for _, tok := range splitTokens(v) {
		if eqFold(tok, token) {
			return true
		}
	}
	return false
}

func splitTokens(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			tok := trimOWS(v[start:i])
			if tok != "" {
				out = append(out, tok)
			}
			start = i + 1
		}
	}
	return out
}

func trimOWS(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func eqFold(a, b string) bool {
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

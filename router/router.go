// Package router implements C5: a compiled URL-pattern router keyed by
// method, yielding a handler plus the ordered, decoded path captures (spec
// §4.4). Routes are added at setup time, in insertion order; on equal
// specificity the first inserted wins — ties are broken purely by
// registration order, never by pattern "complexity" heuristics, so match
// results are deterministic across runs (spec §8 "Route determinism").
package router

import (
	"regexp"
	"strings"

	"github.com/badu/vortex/message"
	"github.com/badu/vortex/vurl"
)

// CaptureType selects the regex class a named segment matches (spec §4.4).
type CaptureType int

const (
	CaptureString CaptureType = iota
	CaptureNumber
	CapturePath
)

const (
	stringClass = `[A-Za-z_%0-9.\-]+`
	numberClass = `[0-9]+`
	pathClass   = `[A-Za-z_%0-9.\/\-]+`
)

// Handler is the single handler signature spec §9 calls for, replacing
// heterogeneous typed parameter packs: one shape, ergonomics layered on top
// via Request.Param.
type Handler func(req *message.Request) *message.Response

type segment struct {
	literal   string // "" when this is a capture
	name      string
	captype   CaptureType
	isCapture bool
}

type route struct {
	method   string
	pattern  string
	segments []segment
	re       *regexp.Regexp
	names    []string
	handler  Handler
	order    int
}

// Router is a compiled, method-keyed set of routes. It is built during setup
// via Add and frozen (read-only) once Match is first called concurrently —
// no further synchronization is needed after that point (spec §3:
// "shared immutably by all workers for the server's lifetime").
type Router struct {
	routes []*route
}

func New() *Router { return &Router{} }

// Add compiles pattern and registers it for method. Pattern segments are
// literals or "{name}" / "{name:number}" / "{name:path}" captures.
func (r *Router) Add(method, pattern string, h Handler) {
	segs := compileSegments(pattern)
	re, names := compileRegexp(segs)
	r.routes = append(r.routes, &route{
		method: method, pattern: pattern, segments: segs,
		re: re, names: names, handler: h, order: len(r.routes),
	})
}

func compileSegments(pattern string) []segment {
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			inner := p[1 : len(p)-1]
			name, typ := inner, CaptureString
			if i := strings.IndexByte(inner, ':'); i >= 0 {
				name = inner[:i]
				switch inner[i+1:] {
				case "number":
					typ = CaptureNumber
				case "path":
					typ = CapturePath
				default:
					typ = CaptureString
				}
			}
			segs = append(segs, segment{isCapture: true, name: name, captype: typ})
		} else {
			segs = append(segs, segment{literal: p})
		}
	}
	return segs
}

func classFor(t CaptureType) string {
	switch t {
	case CaptureNumber:
		return numberClass
	case CapturePath:
		return pathClass
	default:
		return stringClass
	}
}

func compileRegexp(segs []segment) (*regexp.Regexp, []string) {
	var sb strings.Builder
	sb.WriteString(`^`)
	var names []string
	for _, s := range segs {
		sb.WriteByte('/')
		if s.isCapture {
			sb.WriteString("(")
			sb.WriteString(classFor(s.captype))
			sb.WriteString(")")
			names = append(names, s.name)
		} else {
			sb.WriteString(regexp.QuoteMeta(s.literal))
		}
	}
	sb.WriteString(`$`)
	return regexp.MustCompile(sb.String()), names
}

// Result is returned by Match on success.
type Result struct {
	Handler Handler
	Params  []message.Param
}

// MatchStatus distinguishes "no route at all" from "route path matched but
// method didn't", so the dispatcher can tell a 404 from a 405 (spec §4.4:
// "On method-matched but path-not-matched the return is no-match").
type MatchStatus int

const (
	NoMatch MatchStatus = iota
	MethodNotAllowed
	Matched
)

// Match finds the first-inserted route (of any method) whose pattern
// matches path, deterministically. If a pattern matches path for a
// different method, MethodNotAllowed is reported instead of NoMatch.
func (r *Router) Match(method, path string) (Result, MatchStatus) {
	pathMatchedOtherMethod := false
	for _, rt := range r.routes {
		m := rt.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		if rt.method != method {
			pathMatchedOtherMethod = true
			continue
		}
		params := make([]message.Param, len(rt.names))
		for i, name := range rt.names {
			params[i] = message.Param{Name: name, Value: decodeCapture(m[i+1])}
		}
		return Result{Handler: rt.handler, Params: params}, Matched
	}
	if pathMatchedOtherMethod {
		return Result{}, MethodNotAllowed
	}
	return Result{}, NoMatch
}

func decodeCapture(s string) string {
	// Captures may contain percent-escapes (string/path classes allow '%');
	// numeric captures never do, so Unescape is a cheap no-op for them.
	return vurl.Unescape(s, false)
}

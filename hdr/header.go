/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements an ordered, case-insensitive, multi-valued HTTP
// header collection, adapted from the teacher's net/http-derived header
// package and trimmed to what the C3/C4 request/response model needs: no
// textproto dot-reader, no header-reader convenience type — h1 owns parsing.
package hdr

import (
	"io"
	"sort"
	"strings"
	"sync"
)

const (
	toLower = 'a' - 'A'

	Accept           = "Accept"
	AcceptEncoding   = "Accept-Encoding"
	Connection       = "Connection"
	ContentEncoding  = "Content-Encoding"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	Date             = "Date"
	Expect           = "Expect"
	Host             = "Host"
	KeepAlive        = "Keep-Alive"
	Location         = "Location"
	ServerHeader     = "Server"
	TransferEncoding = "Transfer-Encoding"
	Trailer          = "Trailer"
	UpgradeHeader    = "Upgrade"
	UserAgent        = "User-Agent"
	SecWebSocketKey  = "Sec-WebSocket-Key"
	SecWebSocketAcc  = "Sec-WebSocket-Accept"
	SecWebSocketVer  = "Sec-WebSocket-Version"
	SecWebSocketProt = "Sec-WebSocket-Protocol"
	Http2Settings    = "Http2-Settings"

	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

	// TrailerPrefix is a header-key prefix marking trailer-only headers.
	// Nothing in this module reads or writes it: the response model records
	// trailer names in a separate list instead (see DeclareTrailer).
	TrailerPrefix = "Trailer:"
)

var (
	headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

	headerSorterPool = sync.Pool{
		New: func() interface{} { return new(headerSorter) },
	}

	// isTokenTable is a copy of net/http/lex.go's isTokenTable.
	// See https://httpwg.github.io/specs/rfc7230.html#rule.token.separators
	isTokenTable = [127]bool{
		'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
		'8': true, '9': true,

		'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
		'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
		'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
		'y': true, 'z': true,

		'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
		'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
		'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
		'Y': true, 'Z': true,

		'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true, '+': true,
		'-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
	}
)

type (
	// Header represents the key-value pairs of an HTTP header block. Keys
	// are stored canonicalized; values preserve insertion order and every
	// duplicate (no value is ever silently dropped).
	Header map[string][]string

	writeStringer interface {
		WriteString(string) (int, error)
	}

	stringWriter struct {
		w io.Writer
	}

	keyValues struct {
		key    string
		values []string
	}

	headerSorter struct {
		kvs []keyValues
	}
)

func (w stringWriter) WriteString(s string) (int, error) {
	return w.w.Write([]byte(s))
}

func (s *headerSorter) Len() int           { return len(s.kvs) }
func (s *headerSorter) Swap(i, j int)      { s.kvs[i], s.kvs[j] = s.kvs[j], s.kvs[i] }
func (s *headerSorter) Less(i, j int) bool { return s.kvs[i].key < s.kvs[j].key }

// New returns an empty Header ready for use.
func New() Header { return make(Header) }

// Add appends value to any existing values associated with key.
func (h Header) Add(key, value string) {
	key = CanonicalHeaderKey(key)
	h[key] = append(h[key], value)
}

// Set replaces any existing values associated with key with value.
func (h Header) Set(key, value string) {
	h[CanonicalHeaderKey(key)] = []string{value}
}

// Get returns the first value associated with key, or "".
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	v := h[CanonicalHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values associated with key, preserving order.
func (h Header) Values(key string) []string {
	if h == nil {
		return nil
	}
	return h[CanonicalHeaderKey(key)]
}

func (h Header) get(key string) string {
	if v := h[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Del deletes the values associated with key.
func (h Header) Del(key string) {
	delete(h, CanonicalHeaderKey(key))
}

// Has reports whether key is present at all.
func (h Header) Has(key string) bool {
	_, ok := h[CanonicalHeaderKey(key)]
	return ok
}

// Write writes the header in wire format (key: value\r\n per value).
func (h Header) Write(w io.Writer) error {
	return h.WriteSubset(w, nil)
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	h2 := make(Header, len(h))
	for k, vv := range h {
		vv2 := make([]string, len(vv))
		copy(vv2, vv)
		h2[k] = vv2
	}
	return h2
}

func (h Header) sortedKeyValues(exclude map[string]bool) (kvs []keyValues, hs *headerSorter) {
	hs = headerSorterPool.Get().(*headerSorter)
	if cap(hs.kvs) < len(h) {
		hs.kvs = make([]keyValues, 0, len(h))
	}
	kvs = hs.kvs[:0]
	for k, vv := range h {
		if !exclude[k] {
			kvs = append(kvs, keyValues{k, vv})
		}
	}
	hs.kvs = kvs
	sort.Sort(hs)
	return kvs, hs
}

// WriteSubset writes the header in wire format, skipping any key for which
// exclude[key] is true.
func (h Header) WriteSubset(w io.Writer, exclude map[string]bool) error {
	ws, ok := w.(writeStringer)
	if !ok {
		ws = stringWriter{w}
	}
	kvs, sorter := h.sortedKeyValues(exclude)
	for _, kv := range kvs {
		for _, v := range kv.values {
			v = headerNewlineToSpace.Replace(v)
			v = strings.TrimSpace(v)
			for _, s := range [...]string{kv.key, ": ", v, "\r\n"} {
				if _, err := ws.WriteString(s); err != nil {
					headerSorterPool.Put(sorter)
					return err
				}
			}
		}
	}
	headerSorterPool.Put(sorter)
	return nil
}

// CanonicalHeaderKey returns the canonical form of header key s
// (e.g. "accept-encoding" becomes "Accept-Encoding").
func CanonicalHeaderKey(s string) string {
	upper := true
	b := []byte(s)
	for i, c := range b {
		if upper && 'a' <= c && c <= 'z' {
			b[i] = c - toLower
		} else if !upper && 'A' <= c && c <= 'Z' {
			b[i] = c + toLower
		}
		upper = c == '-'
	}
	return string(b)
}

// ValidHeaderFieldName reports whether s is a syntactically valid header
// field name (an HTTP token, per RFC 7230 §3.2).
func ValidHeaderFieldName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if int(c) >= len(isTokenTable) || !isTokenTable[c] {
			return false
		}
	}
	return true
}

// ValidHeaderFieldValue reports whether v may legally appear as a header
// field value: no control characters other than tab.
func ValidHeaderFieldValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b < ' ' && b != '\t' || b == 0x7f {
			return false
		}
	}
	return true
}

/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package vurl implements the percent-decoding and ordered query-parameter
// parsing the request-target grammar needs (spec §4.3, §8 "Percent-decoding").
// It is a narrow, purpose-built sibling of the teacher's url package: the
// core only ever needs path/query decoding, never a general URL type with
// scheme/userinfo/fragment, so the surface is trimmed accordingly.
package vurl

import "strings"

// Pair is one decoded (key, value) entry of a query string. Order matters —
// spec §3 requires ordered collections.
type Pair struct {
	Key   string
	Value string
}

// SplitPathQuery splits a raw request-target on the first '?'. The query
// half is "" (not present) when there is no '?'.
func SplitPathQuery(target string) (path, rawQuery string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

func ishex(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// Unescape percent-decodes s. When plusAsSpace is true (query strings and
// form bodies) a literal '+' decodes to ' '; path segments never do. Any
// escape that isn't a valid "%XX" hex pair is passed through byte-for-byte
// rather than erroring — spec §8 requires this tolerance.
func Unescape(s string, plusAsSpace bool) string {
	// Fast path: nothing to decode.
	needsDecode := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || (plusAsSpace && c == '+') {
			needsDecode = true
			break
		}
	}
	if !needsDecode {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '%' && i+2 < len(s) && ishex(s[i+1]) && ishex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		case c == '+' && plusAsSpace:
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseQuery parses a raw query string into an ordered slice of decoded
// (key, value) pairs. A segment with no '=' yields value "". Segments are
// split on '&' or ';' per the historical form-encoding grammar the teacher
// (and RFC 3986 appendix usage) both accept.
func ParseQuery(rawQuery string) []Pair {
	if rawQuery == "" {
		return nil
	}
	var out []Pair
	for rawQuery != "" {
		var segment string
		if i := strings.IndexAny(rawQuery, "&;"); i >= 0 {
			segment, rawQuery = rawQuery[:i], rawQuery[i+1:]
		} else {
			segment, rawQuery = rawQuery, ""
		}
		if segment == "" {
			continue
		}
		key, value := segment, ""
		if i := strings.IndexByte(segment, '='); i >= 0 {
			key, value = segment[:i], segment[i+1:]
		}
		out = append(out, Pair{Key: Unescape(key, true), Value: Unescape(value, true)})
	}
	return out
}

// Get returns the first value for key, and whether it was present.
func Get(pairs []Pair, key string) (string, bool) {
	for _, p := range pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// ValidHostHeader reports whether host is syntactically acceptable as the
// value of a Host header (RFC 7230 §5.4): no control characters, no bare
// whitespace.
func ValidHostHeader(host string) bool {
	if host == "" {
		return true
	}
	for i := 0; i < len(host); i++ {
		if host[i] <= ' ' || host[i] == 0x7f {
			return false
		}
	}
	return true
}

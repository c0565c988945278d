/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package sniff implements the trimmed content-type sniffing algorithm the
// C3 serializer applies to buffered response bodies that have no explicit
// Content-Type (spec §9, "supplemented features"). It is adapted from the
// teacher's exactSig/maskedSig split, which itself mirrors the WHATWG MIME
// Sniffing Standard subset net/http implements.
package sniff

import "bytes"

type sig interface {
	match(data []byte, firstNonWS int) string
}

type exactSig struct {
	sig []byte
	ct  string
}

func (e *exactSig) match(data []byte, firstNonWS int) string {
	if len(data) >= len(e.sig) && bytes.Equal(data[:len(e.sig)], e.sig) {
		return e.ct
	}
	return ""
}

type maskedSig struct {
	mask, pat []byte
	skipWS    bool
	ct        string
}

func (m *maskedSig) match(data []byte, firstNonWS int) string {
	if m.skipWS {
		data = data[firstNonWS:]
	}
	if len(data) < len(m.mask) {
		return ""
	}
	for i, mask := range m.mask {
		db := data[i] & mask
		if db != m.pat[i] {
			return ""
		}
	}
	return m.ct
}

type textSig struct{ ct string }

func (t *textSig) match(data []byte, firstNonWS int) string {
	data = data[firstNonWS:]
	for _, b := range data {
		switch {
		case b <= 0x08, b == 0x0B, b >= 0x0E && b <= 0x1A, b >= 0x1C && b <= 0x1F:
			return ""
		}
	}
	return t.ct
}

var sniffSignatures = []sig{
	&maskedSig{pat: []byte("<!DOCTYPE HTML"), mask: mask("FFFFFFFFFFFFFF"), skipWS: true, ct: "text/html; charset=utf-8"},
	&maskedSig{pat: []byte("<HTML"), mask: mask("FFFFF"), skipWS: true, ct: "text/html; charset=utf-8"},
	&maskedSig{pat: []byte("<?xml"), mask: mask("FFFFF"), skipWS: true, ct: "text/xml; charset=utf-8"},
	&exactSig{sig: []byte("%PDF-"), ct: "application/pdf"},
	&exactSig{sig: []byte("\x89PNG\r\n\x1a\n"), ct: "image/png"},
	&exactSig{sig: []byte("GIF87a"), ct: "image/gif"},
	&exactSig{sig: []byte("GIF89a"), ct: "image/gif"},
	&exactSig{sig: []byte("\xFF\xD8\xFF"), ct: "image/jpeg"},
	&exactSig{sig: []byte("PK\x03\x04"), ct: "application/zip"},
	&exactSig{sig: []byte("\x1F\x8B\x08"), ct: "application/x-gzip"},
	&exactSig{sig: []byte("{"), ct: "application/json"},
	&textSig{ct: "text/plain; charset=utf-8"},
}

// mask expands a hex string like "FFFFFF" into the equivalent byte mask; a
// small helper so the signature table above reads the way the spec it is
// transcribed from (WHATWG) writes it.
func mask(hex string) []byte {
	out := make([]byte, len(hex)/2)
	for i := range out {
		hi := hexNibble(hex[i*2])
		lo := hexNibble(hex[i*2+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

// DetectContentType implements the same contract as net/http's function of
// the same name: it never returns "", falling back to
// "application/octet-stream", and only the first 512 bytes matter.
func DetectContentType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	firstNonWS := 0
	for ; firstNonWS < len(data) && isWS(data[firstNonWS]); firstNonWS++ {
	}
	for _, s := range sniffSignatures {
		if ct := s.match(data, firstNonWS); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}

func isWS(b byte) bool {
	switch b {
	case '\t', '\n', '\x0c', '\r', ' ':
		return true
	}
	return false
}

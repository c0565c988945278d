package websocket

import (
	"crypto/sha1"
	"encoding/base64"

	"github.com/badu/vortex/hdr"
	"github.com/badu/vortex/message"
)

const guid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Accept computes Sec-WebSocket-Accept for key per RFC 6455 §1.3.
func Accept(key string) string {
	sum := sha1.Sum([]byte(key + guid))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// IsUpgrade mirrors the predicate connloop already applies before handing a
// request here — exported so callers outside connloop (tests, alternate
// servers embedding this package) can reuse the same check.
func IsUpgrade(req *message.Request) bool {
	if req.Method != message.GET {
		return false
	}
	return req.Header.Get(hdr.SecWebSocketKey) != "" && req.Header.Get(hdr.SecWebSocketVer) == "13"
}

// File: protocol/handshake.go
// Author: momentics <momentics@gmail.com>
//
// WebSocket upgrade handshake: request parsing, header validation and the
// Sec-WebSocket-Accept computation. Works on buffered bytes so it can run on
// a non-blocking connection once the full request head has arrived.

package protocol

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	MaxHandshakeHeadersSize  = 8192
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	RequiredWebSocketVersion = "13"
)

var (
	ErrInvalidUpgradeHeaders = fmt.Errorf("invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = fmt.Errorf("missing Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = fmt.Errorf("unsupported WebSocket version; only '13' is supported")
	ErrHandshakeTooLarge     = fmt.Errorf("handshake headers too large")
)

var headEnd = []byte("\r\n\r\n")

// HeaderEnd returns the length of the request head in b including the blank
// line, or -1 if the head is not complete yet.
func HeaderEnd(b []byte) int {
	i := bytes.Index(b, headEnd)
	if i < 0 {
		return -1
	}
	return i + len(headEnd)
}

// ComputeAcceptKey derives Sec-WebSocket-Accept from the client key.
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ReadUpgradeRequest parses a complete request head.
func ReadUpgradeRequest(head []byte) (*http.Request, error) {
	if len(head) > MaxHandshakeHeadersSize {
		return nil, ErrHandshakeTooLarge
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return nil, fmt.Errorf("handshake read request: %w", err)
	}
	return req, nil
}

// Upgrade validates req and returns the response headers for a 101 reply.
func Upgrade(req *http.Request) (http.Header, error) {
	if req.Method != http.MethodGet {
		return nil, ErrInvalidUpgradeHeaders
	}
	if !headerContainsToken(req.Header, HeaderConnection, "Upgrade") ||
		!headerContainsToken(req.Header, HeaderUpgrade, "websocket") {
		return nil, ErrInvalidUpgradeHeaders
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return nil, ErrBadWebSocketVersion
	}
	key := req.Header.Get(HeaderSecWebSocketKey)
	if key == "" {
		return nil, ErrMissingWebSocketKey
	}
	hdr := make(http.Header)
	hdr.Set(HeaderUpgrade, "websocket")
	hdr.Set(HeaderConnection, "Upgrade")
	hdr.Set(HeaderSecWebSocketAccept, ComputeAcceptKey(key))
	return hdr, nil
}

// AppendUpgradeResponse appends the 101 Switching Protocols response.
func AppendUpgradeResponse(dst []byte, hdr http.Header) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	hdr.Write(&b)
	b.WriteString("\r\n")
	return append(dst, b.Bytes()...)
}

// AppendRejectResponse appends a plain HTTP error reply for a failed upgrade.
func AppendRejectResponse(dst []byte, status int, err error) []byte {
	body := err.Error()
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	if err == ErrBadWebSocketVersion {
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketVer, RequiredWebSocketVersion)
	}
	fmt.Fprintf(&b, "Connection: close\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	return append(dst, b.Bytes()...)
}

// headerContainsToken reports whether headerName lists token, case-insensitively.
func headerContainsToken(h http.Header, headerName, token string) bool {
	for _, v := range h[http.CanonicalHeaderKey(headerName)] {
		for _, p := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(p), token) {
				return true
			}
		}
	}
	return false
}

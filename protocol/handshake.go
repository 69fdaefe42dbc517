// File: protocol/handshake.go
// Package protocol implements the client side of the WebSocket opening handshake.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Builds the HTTP/1.1 Upgrade request, splits the server response from any
// early frame bytes and validates the 101 response against the expected
// Sec-WebSocket-Accept value per RFC6455.

package protocol

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/momentics/wsclient/api"
)

// Constants used for handshake processing.
const (
	WebSocketGUID                = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection             = "Connection"
	HeaderUpgrade                = "Upgrade"
	HeaderSecWebSocketKey        = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer        = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept     = "Sec-WebSocket-Accept"
	HeaderSecWebSocketProtocol   = "Sec-WebSocket-Protocol"
	HeaderSecWebSocketExtensions = "Sec-WebSocket-Extensions"
	RequiredWebSocketVersion     = "13"
	MaxHandshakeHeadersSize      = 8192
)

var headerTerminator = []byte("\r\n\r\n")

// RequestOptions tunes the opening request.
type RequestOptions struct {
	Subprotocols []string
	Origin       string
	Header       http.Header // extra headers; handshake headers may not be overridden
	NonceSource  io.Reader   // defaults to crypto/rand.Reader
}

// HandshakeRequest is the serialized Upgrade request and the accept value the
// server must answer with.
type HandshakeRequest struct {
	Bytes          []byte
	Key            string
	ExpectedAccept string
	Subprotocols   []string
}

// HandshakeResult is the connected/rejected verdict.
type HandshakeResult struct {
	Accepted    bool
	Subprotocol string
	Err         error
}

// Connected builds an accepted verdict.
func Connected(subprotocol string) HandshakeResult {
	return HandshakeResult{Accepted: true, Subprotocol: subprotocol}
}

// Rejected builds a rejected verdict.
func Rejected(err error) HandshakeResult {
	return HandshakeResult{Err: err}
}

func rejectf(status int, format string, args ...any) HandshakeResult {
	return Rejected(&HandshakeError{Status: status, Reason: fmt.Sprintf(format, args...)})
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// BuildRequest serializes the GET Upgrade request for target (ws:// or wss://).
func BuildRequest(target string, opts RequestOptions) (*HandshakeRequest, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", api.ErrInvalidArgument, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", api.ErrInvalidArgument, target)
	}
	for _, p := range opts.Subprotocols {
		if !isToken(p) {
			return nil, fmt.Errorf("%w: invalid subprotocol %q", api.ErrInvalidArgument, p)
		}
	}

	src := opts.NonceSource
	if src == nil {
		src = rand.Reader
	}
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(src, nonce); err != nil {
		return nil, fmt.Errorf("handshake nonce: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(nonce)

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", u.RequestURI())
	fmt.Fprintf(&b, "Host: %s\r\n", u.Host)
	fmt.Fprintf(&b, "%s: websocket\r\n", HeaderUpgrade)
	fmt.Fprintf(&b, "%s: Upgrade\r\n", HeaderConnection)
	fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketKey, key)
	fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketVer, RequiredWebSocketVersion)
	if len(opts.Subprotocols) > 0 {
		fmt.Fprintf(&b, "%s: %s\r\n", HeaderSecWebSocketProtocol, strings.Join(opts.Subprotocols, ", "))
	}
	if opts.Origin != "" {
		fmt.Fprintf(&b, "Origin: %s\r\n", opts.Origin)
	}

	names := make([]string, 0, len(opts.Header))
	for k := range opts.Header {
		names = append(names, k)
	}
	slices.Sort(names)
	for _, k := range names {
		ck := http.CanonicalHeaderKey(k)
		if isHandshakeHeader(ck) {
			return nil, fmt.Errorf("%w: header %q is set by the handshake", api.ErrInvalidArgument, ck)
		}
		for _, v := range opts.Header[k] {
			if strings.ContainsAny(v, "\r\n") {
				return nil, fmt.Errorf("%w: header %q contains a line break", api.ErrInvalidArgument, ck)
			}
			fmt.Fprintf(&b, "%s: %s\r\n", ck, v)
		}
	}
	b.WriteString("\r\n")

	return &HandshakeRequest{
		Bytes:          []byte(b.String()),
		Key:            key,
		ExpectedAccept: ComputeAcceptKey(key),
		Subprotocols:   slices.Clone(opts.Subprotocols),
	}, nil
}

// SplitResponse separates the response head from bytes that follow it.
// complete is false while the header terminator has not arrived yet.
func SplitResponse(buf []byte) (head, rest []byte, complete bool, err error) {
	idx := bytes.Index(buf, headerTerminator)
	if idx < 0 {
		if len(buf) > MaxHandshakeHeadersSize {
			return nil, nil, false, &HandshakeError{Reason: "response headers too large"}
		}
		return nil, nil, false, nil
	}
	end := idx + len(headerTerminator)
	if end > MaxHandshakeHeadersSize {
		return nil, nil, false, &HandshakeError{Reason: "response headers too large"}
	}
	return buf[:end], buf[end:], true, nil
}

// ValidateResponse checks the server response head against expectedAccept.
func ValidateResponse(head []byte, expectedAccept string, offered []string) HandshakeResult {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(head)), nil)
	if err != nil {
		return rejectf(0, "malformed response: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return rejectf(resp.StatusCode, "unexpected status %q", resp.Status)
	}
	if !headerContainsToken(resp.Header, HeaderUpgrade, "websocket") {
		return rejectf(resp.StatusCode, "missing or invalid %s header", HeaderUpgrade)
	}
	if !headerContainsToken(resp.Header, HeaderConnection, "upgrade") {
		return rejectf(resp.StatusCode, "missing or invalid %s header", HeaderConnection)
	}
	accepts := resp.Header.Values(HeaderSecWebSocketAccept)
	if len(accepts) != 1 || accepts[0] != expectedAccept {
		return rejectf(resp.StatusCode, "%s mismatch", HeaderSecWebSocketAccept)
	}
	if ext := resp.Header.Get(HeaderSecWebSocketExtensions); ext != "" {
		return rejectf(resp.StatusCode, "server selected extensions %q that were not offered", ext)
	}

	protos := resp.Header.Values(HeaderSecWebSocketProtocol)
	switch {
	case len(protos) == 0:
		return Connected("")
	case len(protos) > 1 || strings.Contains(protos[0], ","):
		return rejectf(resp.StatusCode, "server selected more than one subprotocol")
	}
	selected := strings.TrimSpace(protos[0])
	if !slices.Contains(offered, selected) {
		return rejectf(resp.StatusCode, "server selected subprotocol %q that was not offered", selected)
	}
	return Connected(selected)
}

// headerContainsToken checks if headerName contains the given token (case-insensitive).
func headerContainsToken(h http.Header, headerName, token string) bool {
	for _, v := range h.Values(headerName) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func isHandshakeHeader(name string) bool {
	for _, h := range []string{"Host", HeaderUpgrade, HeaderConnection, HeaderSecWebSocketKey, HeaderSecWebSocketVer,
		HeaderSecWebSocketProtocol, HeaderSecWebSocketExtensions, "Origin"} {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// isToken reports whether s is an RFC 7230 token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`()<>@,;:\"/[]?={}`, c) >= 0 {
			return false
		}
	}
	return true
}

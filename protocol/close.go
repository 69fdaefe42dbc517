// File: protocol/close.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Close frame payload encoding and validation.

package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/momentics/wsclient/api"
)

// EncodeClosePayload builds a close frame body. CloseNoStatusRcvd yields an
// empty body.
func EncodeClosePayload(code uint16, reason string) ([]byte, error) {
	if code == CloseNoStatusRcvd {
		if reason != "" {
			return nil, fmt.Errorf("%w: reason without status code", api.ErrInvalidArgument)
		}
		return nil, nil
	}
	if !validCloseCode(code) {
		return nil, fmt.Errorf("%w: close code %d", api.ErrInvalidArgument, code)
	}
	if len(reason) > MaxCloseReasonLen {
		return nil, fmt.Errorf("%w: close reason longer than %d bytes", api.ErrInvalidArgument, MaxCloseReasonLen)
	}
	if !utf8.ValidString(reason) {
		return nil, fmt.Errorf("%w: close reason is not valid UTF-8", api.ErrInvalidArgument)
	}
	p := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	return append(p, reason...), nil
}

// ParseClosePayload extracts code and reason from a received close frame.
// An empty body reports CloseNoStatusRcvd.
func ParseClosePayload(p []byte) (uint16, string, error) {
	switch {
	case len(p) == 0:
		return CloseNoStatusRcvd, "", nil
	case len(p) == 1:
		return 0, "", protocolErr(CloseProtocolError, ErrInvalidClosePayload)
	}
	code := binary.BigEndian.Uint16(p)
	if !validCloseCode(code) {
		return 0, "", protocolErr(CloseProtocolError, fmt.Errorf("%w: code %d", ErrInvalidClosePayload, code))
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", protocolErr(CloseInvalidPayloadData, ErrInvalidUTF8)
	}
	return code, string(reason), nil
}

// File: protocol/errors.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Protocol and handshake error taxonomy.

package protocol

import (
	"errors"
	"fmt"
)

// Protocol violations. Each one is wrapped in a *ProtocolError carrying the
// close code sent to the peer.
var (
	ErrReservedBits           = errors.New("reserved bits set")
	ErrReservedOpcode         = errors.New("reserved opcode")
	ErrFragmentedControl      = errors.New("fragmented control frame")
	ErrControlTooLarge        = errors.New("control frame payload exceeds 125 bytes")
	ErrMaskedFrame            = errors.New("masked frame from server")
	ErrFrameTooLarge          = errors.New("frame payload exceeds maximum allowed size")
	ErrMessageTooLarge        = errors.New("message exceeds maximum allowed size")
	ErrInvalidLength          = errors.New("invalid payload length encoding")
	ErrUnexpectedContinuation = errors.New("continuation frame without a fragmented message")
	ErrExpectedContinuation   = errors.New("new data frame while a fragmented message is in progress")
	ErrInvalidUTF8            = errors.New("invalid UTF-8 in text payload")
	ErrInvalidClosePayload    = errors.New("invalid close frame payload")
)

// ProtocolError is a fatal wire-level violation.
type ProtocolError struct {
	Code uint16
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (close %d): %v", e.Code, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(code uint16, err error) *ProtocolError {
	return &ProtocolError{Code: code, Err: err}
}

// HandshakeError reports a rejected opening handshake.
type HandshakeError struct {
	Status int
	Reason string
}

func (e *HandshakeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("handshake rejected (status %d): %s", e.Status, e.Reason)
	}
	return "handshake rejected: " + e.Reason
}

// TransportError wraps an I/O failure on the underlying byte stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "transport " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

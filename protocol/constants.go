// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

// Opcode is the 4-bit frame operation code.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

const (
	// Frame limit settings
	MaxControlPayloadLen = 125
	MaxFrameHeaderLen    = 14 // for extended payloads with masking
	MaxCloseReasonLen    = MaxControlPayloadLen - 2

	// Bit masks
	FinBit      = 0x80
	RsvBits     = 0x70
	OpcodeMask  = 0x0F
	MaskBit     = 0x80
	PayloadMask = 0x7F
)

// Close codes
const (
	CloseNormalClosure      uint16 = 1000
	CloseGoingAway          uint16 = 1001
	CloseProtocolError      uint16 = 1002
	CloseUnsupportedData    uint16 = 1003
	CloseNoStatusRcvd       uint16 = 1005
	CloseAbnormalClosure    uint16 = 1006
	CloseInvalidPayloadData uint16 = 1007
	ClosePolicyViolation    uint16 = 1008
	CloseMessageTooBig      uint16 = 1009
	CloseMissingExtension   uint16 = 1010
	CloseInternalServerErr  uint16 = 1011
	CloseTLSHandshake       uint16 = 1015
)

// IsControl reports whether op is close, ping or pong.
func (op Opcode) IsControl() bool { return op&0x8 != 0 }

// IsData reports whether op is text, binary or continuation.
func (op Opcode) IsData() bool {
	return op == OpcodeContinuation || op == OpcodeText || op == OpcodeBinary
}

func (op Opcode) valid() bool {
	switch op {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return "reserved"
	}
}

// validCloseCode reports whether code may appear on the wire in a close frame.
func validCloseCode(code uint16) bool {
	switch {
	case code < 1000:
		return false
	case code == 1004, code == CloseNoStatusRcvd, code == CloseAbnormalClosure, code == CloseTLSHandshake:
		return false
	case code <= 1014:
		return true
	case code < 3000:
		return false
	default:
		return code <= 4999
	}
}

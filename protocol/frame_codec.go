// File: protocol/frame_codec.go
// Package protocol implements the frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements WebSocket frame encoding/decoding with payload size limits
// to prevent resource exhaustion. Decoding is streaming-safe: an incomplete
// frame consumes nothing and the caller retries with more bytes.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/momentics/wsclient/api"
)

// MaxFramePayload defines the default maximum payload size for a single frame.
const MaxFramePayload = 1 << 20 // 1 MiB

// Codec holds decode policy.
type Codec struct {
	// MaxPayload bounds a single frame payload; zero means MaxFramePayload.
	MaxPayload int64
	// RejectMasked fails masked inbound frames, as a client must.
	RejectMasked bool
}

// DecodeFrameFromBytes parses raw using the default codec.
func DecodeFrameFromBytes(raw []byte) (*Frame, int, error) {
	return Codec{}.Decode(raw)
}

func (c Codec) maxPayload() uint64 {
	if c.MaxPayload <= 0 {
		return MaxFramePayload
	}
	return uint64(c.MaxPayload)
}

// Decode parses one frame from the head of raw.
// Returns frame, consumed bytes, and error.
// If frame is incomplete, returns (nil, 0, nil).
// Header violations are reported as soon as the header bytes are present,
// without waiting for the payload.
func (c Codec) Decode(raw []byte) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil // Incomplete
	}
	b0, b1 := raw[0], raw[1]
	if b0&RsvBits != 0 {
		return nil, 0, protocolErr(CloseProtocolError, ErrReservedBits)
	}
	op := Opcode(b0 & OpcodeMask)
	if !op.valid() {
		return nil, 0, protocolErr(CloseProtocolError, fmt.Errorf("%w %#x", ErrReservedOpcode, byte(op)))
	}
	fin := b0&FinBit != 0
	masked := b1&MaskBit != 0
	if masked && c.RejectMasked {
		return nil, 0, protocolErr(CloseProtocolError, ErrMaskedFrame)
	}
	length := uint64(b1 & PayloadMask)
	if op.IsControl() {
		if !fin {
			return nil, 0, protocolErr(CloseProtocolError, ErrFragmentedControl)
		}
		if length > MaxControlPayloadLen {
			return nil, 0, protocolErr(CloseProtocolError, ErrControlTooLarge)
		}
	}
	offset := 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil // Incomplete
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil // Incomplete
		}
		length = binary.BigEndian.Uint64(raw[offset:])
		if length>>63 != 0 {
			return nil, 0, protocolErr(CloseProtocolError, ErrInvalidLength)
		}
		offset += 8
	}

	if length > c.maxPayload() {
		return nil, 0, protocolErr(CloseMessageTooBig, ErrFrameTooLarge)
	}

	var maskKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, 0, nil // Incomplete
		}
		copy(maskKey[:], raw[offset:offset+4])
		offset += 4
	}

	totalLen := offset + int(length)
	if len(raw) < totalLen {
		return nil, 0, nil // Incomplete
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:totalLen])
	if masked {
		maskBytes(maskKey, payload)
	}

	return &Frame{
		IsFinal: fin,
		Opcode:  op,
		Masked:  masked,
		MaskKey: maskKey,
		Payload: payload,
	}, totalLen, nil
}

// EncodeFrame serializes a single frame. A non-nil maskSource supplies a
// fresh 4-byte masking key; nil produces an unmasked frame.
func EncodeFrame(op Opcode, fin bool, payload []byte, maskSource io.Reader) ([]byte, error) {
	return AppendFrame(make([]byte, 0, MaxFrameHeaderLen+len(payload)), op, fin, payload, maskSource)
}

// AppendFrame serializes a frame onto dst, minimizing allocations.
// payload is never modified.
func AppendFrame(dst []byte, op Opcode, fin bool, payload []byte, maskSource io.Reader) ([]byte, error) {
	if !op.valid() {
		return nil, fmt.Errorf("%w: opcode %#x", api.ErrInvalidArgument, byte(op))
	}
	if op.IsControl() && (!fin || len(payload) > MaxControlPayloadLen) {
		return nil, fmt.Errorf("%w: control frame must be final and at most %d bytes", api.ErrInvalidArgument, MaxControlPayloadLen)
	}

	b0 := byte(op)
	if fin {
		b0 |= FinBit
	}
	var maskBit byte
	if maskSource != nil {
		maskBit = MaskBit
	}

	plen := len(payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, byte(plen)|maskBit)
	case plen <= 0xFFFF:
		dst = append(dst, b0, 126|maskBit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, 127|maskBit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if maskSource == nil {
		return append(dst, payload...), nil
	}

	var key [4]byte
	if _, err := io.ReadFull(maskSource, key[:]); err != nil {
		return nil, fmt.Errorf("masking key: %w", err)
	}
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(key, dst[start:])
	return dst, nil
}

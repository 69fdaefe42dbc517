// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame representation and masking helpers.

package protocol

// Frame represents a decoded WebSocket frame. Payload is always unmasked.
type Frame struct {
	IsFinal bool   // FIN bit
	Opcode  Opcode // Operation code
	Masked  bool   // Whether the frame arrived masked
	MaskKey [4]byte
	Payload []byte
}

// maskBytes applies XOR on b using key, cycling from the first key byte.
func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

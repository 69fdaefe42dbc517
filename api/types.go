// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ConnState enumerates the lifecycle of a WebSocket client connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageKind distinguishes text from binary application messages.
type MessageKind int

const (
	TextMessage MessageKind = iota + 1
	BinaryMessage
)

func (k MessageKind) String() string {
	switch k {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is a fully reassembled application message.
// Payload of a TextMessage is always valid UTF-8.
type Message struct {
	Kind    MessageKind
	Payload []byte
}

// Text builds a text message.
func Text(s string) Message { return Message{Kind: TextMessage, Payload: []byte(s)} }

// Binary builds a binary message.
func Binary(b []byte) Message { return Message{Kind: BinaryMessage, Payload: b} }

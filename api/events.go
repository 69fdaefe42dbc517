// File: api/events.go
// Package api defines core event types for wsclient.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Event is the closed set of notifications a connection emits:
// *ConnectedEvent, *MessageEvent, *PongEvent, *ClosedEvent, *FailedEvent.
type Event interface {
	event()
}

// ConnectedEvent is emitted once the opening handshake succeeds.
type ConnectedEvent struct {
	Subprotocol string
}

// MessageEvent carries one complete inbound message.
type MessageEvent struct {
	Message
}

// PongEvent reports a pong frame, for liveness observers.
type PongEvent struct {
	Payload []byte
}

// ClosedEvent is emitted when the connection reaches CLOSED after a close
// handshake. Abnormal is set when the peer never answered (code 1006).
type ClosedEvent struct {
	Code     uint16
	Reason   string
	Abnormal bool
}

// FailedEvent is emitted when the connection is torn down by a handshake
// rejection, protocol error, transport error or forced shutdown.
type FailedEvent struct {
	Err error
}

func (*ConnectedEvent) event() {}
func (*MessageEvent) event()   {}
func (*PongEvent) event()      {}
func (*ClosedEvent) event()    {}
func (*FailedEvent) event()    {}

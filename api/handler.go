// File: api/handler.go
// Package api defines EventHandler interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// EventHandler receives connection events.
type EventHandler interface {
	HandleEvent(ev Event)
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc func(ev Event)

// HandleEvent calls f(ev).
func (f EventHandlerFunc) HandleEvent(ev Event) { f(ev) }

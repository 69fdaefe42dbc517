// Package api
// Author: momentics
//
// Mock/testing utilities for the transport contract.

package api

import "sync/atomic"

// MockTransport is a func-driven Transport. Nil funcs fall back to a
// write sink, a closed reader and a no-op close.
type MockTransport struct {
	SendFunc  func([][]byte) error
	RecvFunc  func() ([][]byte, error)
	CloseFunc func() error

	closes atomic.Int32
}

func (m *MockTransport) Send(b [][]byte) error {
	if m.SendFunc == nil {
		return nil
	}
	return m.SendFunc(b)
}

func (m *MockTransport) Recv() ([][]byte, error) {
	if m.RecvFunc == nil {
		return nil, ErrTransportClosed
	}
	return m.RecvFunc()
}

func (m *MockTransport) Close() error {
	m.closes.Add(1)
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

// Closes reports how many times Close was called.
func (m *MockTransport) Closes() int { return int(m.closes.Load()) }

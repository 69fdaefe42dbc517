// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the transport contract.

package fake

import (
	"sync"

	"github.com/momentics/wsclient/api"
)

// Transport is an in-memory api.Transport. Recv blocks until data is added,
// an error is configured, or the transport is closed.
type Transport struct {
	mu         sync.Mutex
	cond       *sync.Cond
	sendBuffer [][]byte
	recvBuffer [][]byte
	closed     bool
	closeCalls int
	sendError  error
	recvError  error
	onSend     func(t *Transport, buffers [][]byte)
}

// NewTransport creates a new fake transport.
func NewTransport() *Transport {
	t := &Transport{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Send implements api.Transport.Send.
func (t *Transport) Send(buffers [][]byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return api.ErrTransportClosed
	}
	if t.sendError != nil {
		err := t.sendError
		t.mu.Unlock()
		return err
	}
	copies := make([][]byte, 0, len(buffers))
	for _, buf := range buffers {
		copies = append(copies, append([]byte(nil), buf...))
	}
	t.sendBuffer = append(t.sendBuffer, copies...)
	hook := t.onSend
	t.mu.Unlock()

	if hook != nil {
		hook(t, copies)
	}
	return nil
}

// Recv implements api.Transport.Recv.
func (t *Transport) Recv() ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.recvBuffer) == 0 && !t.closed && t.recvError == nil {
		t.cond.Wait()
	}
	if len(t.recvBuffer) > 0 {
		buffers := t.recvBuffer
		t.recvBuffer = nil
		return buffers, nil
	}
	if t.recvError != nil {
		return nil, t.recvError
	}
	return nil, api.ErrTransportClosed
}

// Close implements api.Transport.Close.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeCalls++
	t.cond.Broadcast()
	return nil
}

// OnSend installs a hook invoked after every successful Send, outside the lock.
func (t *Transport) OnSend(fn func(t *Transport, buffers [][]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSend = fn
}

// SetSendError configures the transport to return an error on Send.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendError = err
}

// SetRecvError makes pending and future Recv calls fail once buffered data is drained.
func (t *Transport) SetRecvError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvError = err
	t.cond.Broadcast()
}

// AddRecvData adds data to be returned by the next Recv call.
func (t *Transport) AddRecvData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvBuffer = append(t.recvBuffer, append([]byte(nil), data...))
	t.cond.Broadcast()
}

// GetSentData returns all data that has been sent via Send.
func (t *Transport) GetSentData() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	sent := make([][]byte, len(t.sendBuffer))
	copy(sent, t.sendBuffer)
	return sent
}

// ClearSentData clears the internal send buffer.
func (t *Transport) ClearSentData() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendBuffer = nil
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseCalls returns how many times Close has been called.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// File: internal/concurrency/dispatcher.go
// Package concurrency implements the ordered event dispatcher.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher decouples the connection state machine from user handlers:
// Post never blocks on a slow handler, and every subscriber sees events in
// the order they were posted, from a single goroutine.

package concurrency

import (
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/wsclient/api"
)

// ErrDispatcherClosed is returned by Subscribe after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher is an unbounded FIFO of events drained by one goroutine.
type Dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  *queue.Queue
	handlers []api.EventHandler
	started  bool
	closed   bool
	done     chan struct{}

	// statistics
	posted    int64
	delivered int64
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		pending: queue.New(),
		done:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Subscribe adds h to the fan-out list. Handlers added after Start only see
// events dequeued after the call.
func (d *Dispatcher) Subscribe(h api.EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.handlers = append(d.handlers, h)
	return nil
}

// Start launches the delivery goroutine. It is idempotent and a no-op after Close.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// HandleEvent implements api.EventHandler by posting ev.
func (d *Dispatcher) HandleEvent(ev api.Event) {
	d.Post(ev)
}

// Post enqueues ev. Events posted after Close are dropped.
func (d *Dispatcher) Post(ev api.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending.Add(ev)
	d.posted++
	d.cond.Signal()
}

// Close stops accepting events; queued ones are still delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	d.cond.Broadcast()
	d.mu.Unlock()
	if !started {
		close(d.done)
	}
}

// Done is closed once the queue has been drained after Close.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stats returns counters for metrics reporting.
func (d *Dispatcher) Stats() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]int64{
		"posted":    d.posted,
		"delivered": d.delivered,
		"pending":   int64(d.pending.Length()),
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for d.pending.Length() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.pending.Length() == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.pending.Remove().(api.Event)
		handlers := d.handlers
		d.mu.Unlock()

		for _, h := range handlers {
			h.HandleEvent(ev)
		}

		d.mu.Lock()
		d.delivered++
		d.mu.Unlock()
	}
}

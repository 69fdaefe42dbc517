// File: client/helpers_test.go
// Package client_test: shared helpers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/momentics/wsclient/api"
	"github.com/momentics/wsclient/client"
)

type eventLog struct {
	ch chan api.Event
}

func newEventLog() *eventLog { return &eventLog{ch: make(chan api.Event, 256)} }

func (l *eventLog) HandleEvent(ev api.Event) { l.ch <- ev }

// expectEvent skips events of other types until one of type T arrives.
func expectEvent[T api.Event](t *testing.T, l *eventLog) T {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-l.ch:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, cfg *client.Config, opts ...client.Option) (*client.Client, *eventLog) {
	t.Helper()
	opts = append([]client.Option{client.WithLogger(quietLogger())}, opts...)
	c := client.New(cfg, opts...)
	events := newEventLog()
	if err := c.Subscribe(events); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Shutdown)
	return c, events
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitDone(t *testing.T, c *client.Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client never finished")
	}
}

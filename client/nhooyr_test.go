// File: client/nhooyr_test.go
// Package client_test: integration against an nhooyr.io/websocket server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"nhooyr.io/websocket"

	"github.com/momentics/wsclient/api"
	"github.com/momentics/wsclient/client"
	"github.com/momentics/wsclient/protocol"
)

// TestSubprotocolNhooyr negotiates a sub-protocol, echoes once, and lets the
// server close.
func TestSubprotocolNhooyr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"chat.v2"}})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, typ, data); err != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	cfg := client.DefaultConfig()
	cfg.Subprotocols = []string{"chat.v1", "chat.v2"}
	c, events := newClient(t, cfg)

	if err := c.Open(context.Background(), wsURL(srv)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ev := expectEvent[*api.ConnectedEvent](t, events); ev.Subprotocol != "chat.v2" {
		t.Fatalf("subprotocol = %q", ev.Subprotocol)
	}
	if err := c.SendText("Hello from Go!"); err != nil {
		t.Fatal(err)
	}
	if msg := expectEvent[*api.MessageEvent](t, events); string(msg.Payload) != "Hello from Go!" {
		t.Errorf("echo = %q", msg.Payload)
	}
	closed := expectEvent[*api.ClosedEvent](t, events)
	if closed.Code != protocol.CloseNormalClosure || closed.Reason != "done" || closed.Abnormal {
		t.Errorf("closed = %+v", closed)
	}
	waitDone(t, c)
}

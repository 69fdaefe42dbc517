// File: client/gorilla_test.go
// Package client_test: integration against a gorilla/websocket server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/momentics/wsclient/api"
	"github.com/momentics/wsclient/client"
	"github.com/momentics/wsclient/protocol"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{Subprotocols: []string{"echo"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestEchoHelloFromCpp is the demo program scenario end to end.
func TestEchoHelloFromCpp(t *testing.T) {
	srv := echoServer(t)
	c, events := newClient(t, client.DefaultConfig())

	if err := c.Open(context.Background(), wsURL(srv)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	expectEvent[*api.ConnectedEvent](t, events)
	if c.State() != api.StateOpen {
		t.Fatalf("state = %v", c.State())
	}

	if err := c.SendText("Hello from C++!"); err != nil {
		t.Fatal(err)
	}
	msg := expectEvent[*api.MessageEvent](t, events)
	if msg.Kind != api.TextMessage || string(msg.Payload) != "Hello from C++!" {
		t.Fatalf("echo = %v %q", msg.Kind, msg.Payload)
	}

	if err := c.Close(protocol.CloseNormalClosure, ""); err != nil {
		t.Fatal(err)
	}
	closed := expectEvent[*api.ClosedEvent](t, events)
	if closed.Code != protocol.CloseNormalClosure || closed.Abnormal {
		t.Errorf("closed = %+v", closed)
	}
	waitDone(t, c)
	if code, _, ok := c.CloseStatus(); !ok || code != protocol.CloseNormalClosure {
		t.Errorf("close status = (%d, %v)", code, ok)
	}
}

// TestEchoFragmentedBinary sends a message split into many frames.
func TestEchoFragmentedBinary(t *testing.T) {
	srv := echoServer(t)
	cfg := client.DefaultConfig()
	cfg.FragmentSize = 1024
	c, events := newClient(t, cfg)

	if err := c.Open(context.Background(), wsURL(srv)); err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 10000)
	if err := c.SendBinary(payload); err != nil {
		t.Fatal(err)
	}
	msg := expectEvent[*api.MessageEvent](t, events)
	if msg.Kind != api.BinaryMessage || !bytes.Equal(msg.Payload, payload) {
		t.Fatalf("echo mismatch: %d bytes", len(msg.Payload))
	}
	if st := c.Stats(); st["conn.frames_sent"] < 30 {
		t.Errorf("expected fragmented send, stats = %v", st)
	}
}

// TestSubprotocolGorilla checks the selected sub-protocol is reported.
func TestSubprotocolGorilla(t *testing.T) {
	srv := echoServer(t)
	cfg := client.DefaultConfig()
	cfg.Subprotocols = []string{"other", "echo"}
	c, events := newClient(t, cfg)

	if err := c.Open(context.Background(), wsURL(srv)); err != nil {
		t.Fatal(err)
	}
	if ev := expectEvent[*api.ConnectedEvent](t, events); ev.Subprotocol != "echo" {
		t.Errorf("event subprotocol = %q", ev.Subprotocol)
	}
	if c.Subprotocol() != "echo" {
		t.Errorf("subprotocol = %q", c.Subprotocol())
	}
}

// TestServerInitiatedCloseGorilla checks the echo and the normal close event.
func TestServerInitiatedCloseGorilla(t *testing.T) {
	gotEcho := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			return
		}
		_, _, err = conn.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			gotEcho <- ce.Code
		}
	}))
	defer srv.Close()

	c, events := newClient(t, client.DefaultConfig())
	if err := c.Open(context.Background(), wsURL(srv)); err != nil {
		t.Fatal(err)
	}
	closed := expectEvent[*api.ClosedEvent](t, events)
	if closed.Code != protocol.CloseGoingAway || closed.Reason != "bye" || closed.Abnormal {
		t.Errorf("closed = %+v", closed)
	}
	select {
	case code := <-gotEcho:
		if code != websocket.CloseGoingAway {
			t.Errorf("echoed code = %d", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the close echo")
	}
}

// TestServerPing checks pongs go back automatically.
func TestServerPing(t *testing.T) {
	pong := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPongHandler(func(data string) error {
			pong <- data
			return nil
		})
		if err := conn.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, _ := newClient(t, client.DefaultConfig())
	if err := c.Open(context.Background(), wsURL(srv)); err != nil {
		t.Fatal(err)
	}
	select {
	case data := <-pong:
		if data != "hb" {
			t.Errorf("pong payload = %q", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no pong")
	}
}

// TestHandshakeRejectedByServer checks a plain HTTP error response.
func TestHandshakeRejectedByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, events := newClient(t, client.DefaultConfig())
	err := c.Open(context.Background(), wsURL(srv))
	var he *protocol.HandshakeError
	if !errors.As(err, &he) || he.Status != http.StatusForbidden {
		t.Fatalf("Open err = %v", err)
	}
	failed := expectEvent[*api.FailedEvent](t, events)
	if !errors.As(failed.Err, &he) {
		t.Errorf("event err = %v", failed.Err)
	}
	if c.State() != api.StateClosed {
		t.Errorf("state = %v", c.State())
	}
	waitDone(t, c)
}

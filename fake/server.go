// Package fake
// Author: momentics <momentics@gmail.com>
//
// Scripted server side of the opening handshake for client tests.

package fake

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/momentics/wsclient/protocol"
)

// ServerOptions shapes the fabricated 101 response.
type ServerOptions struct {
	Subprotocol string
	// TamperAccept corrupts the Sec-WebSocket-Accept value.
	TamperAccept bool
	// Status overrides 101 when non-zero.
	Status int
	// Trailing bytes are appended right after the response head, as frames
	// sent by an eager server.
	Trailing []byte
}

// AcceptHandshake answers the first Send (the Upgrade request) with a
// response built from opts. Later Sends are ignored.
func (t *Transport) AcceptHandshake(opts ServerOptions) {
	var answered atomic.Bool
	t.OnSend(func(t *Transport, buffers [][]byte) {
		if !answered.CompareAndSwap(false, true) {
			return
		}
		resp, err := Respond(bytes.Join(buffers, nil), opts)
		if err != nil {
			t.SetRecvError(err)
			return
		}
		t.AddRecvData(resp)
	})
}

// Respond builds the server response for a serialized Upgrade request.
func Respond(request []byte, opts ServerOptions) ([]byte, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(request)))
	if err != nil {
		return nil, fmt.Errorf("fake server: %w", err)
	}
	accept := protocol.ComputeAcceptKey(req.Header.Get(protocol.HeaderSecWebSocketKey))
	if opts.TamperAccept {
		accept = strings.ToLower(accept)
		if accept == protocol.ComputeAcceptKey(req.Header.Get(protocol.HeaderSecWebSocketKey)) {
			accept = "x" + accept
		}
	}
	status := opts.Status
	if status == 0 {
		status = http.StatusSwitchingProtocols
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	b.WriteString("Upgrade: websocket\r\nConnection: Upgrade\r\n")
	fmt.Fprintf(&b, "%s: %s\r\n", protocol.HeaderSecWebSocketAccept, accept)
	if opts.Subprotocol != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", protocol.HeaderSecWebSocketProtocol, opts.Subprotocol)
	}
	b.WriteString("\r\n")
	return append([]byte(b.String()), opts.Trailing...), nil
}

// Frame fabricates an unmasked server frame.
func Frame(op protocol.Opcode, fin bool, payload []byte) []byte {
	f, err := protocol.EncodeFrame(op, fin, payload, nil)
	if err != nil {
		panic(err)
	}
	return f
}

// ClientFrames decodes every masked client frame in sent.
func ClientFrames(sent [][]byte) ([]*protocol.Frame, error) {
	raw := bytes.Join(sent, nil)
	var frames []*protocol.Frame
	for len(raw) > 0 {
		f, n, err := protocol.DecodeFrameFromBytes(raw)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("fake server: truncated client frame")
		}
		frames = append(frames, f)
		raw = raw[n:]
	}
	return frames, nil
}

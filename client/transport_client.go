// File: client/transport_client.go
// Package client implements the Transport over net.Conn,
// with write deadline support and vectored batch writes.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/momentics/wsclient/api"
)

// clientTransport wraps net.Conn to implement api.Transport.
// Buffers returned by Recv are valid until the next Recv.
type clientTransport struct {
	conn         net.Conn
	rxBuf        []byte
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewClientTransport wraps conn. bufSize bounds one read; writeTimeout of
// zero disables write deadlines.
func NewClientTransport(conn net.Conn, bufSize int, writeTimeout time.Duration) api.Transport {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &clientTransport{conn: conn, rxBuf: make([]byte, bufSize), writeTimeout: writeTimeout}
}

// Send writes buffers with a single vectored write where the platform allows.
func (t *clientTransport) Send(buffers [][]byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return t.wrap("set write deadline", err)
		}
	}
	// WriteTo consumes its receiver; keep the caller's slice intact.
	bufs := append(net.Buffers(nil), buffers...)
	if _, err := bufs.WriteTo(t.conn); err != nil {
		return t.wrap("write error", err)
	}
	return nil
}

func (t *clientTransport) Recv() ([][]byte, error) {
	n, err := t.conn.Read(t.rxBuf)
	if n > 0 {
		return [][]byte{t.rxBuf[:n]}, nil
	}
	if err == nil {
		return nil, nil
	}
	return nil, t.wrap("read error", err)
}

// SetReadDeadline bounds Recv; the zero time clears it. The handshake uses
// it so a silent server cannot hold Open past its deadline.
func (t *clientTransport) SetReadDeadline(tm time.Time) error {
	return t.conn.SetReadDeadline(tm)
}

func (t *clientTransport) Close() error {
	t.closeOnce.Do(func() { t.closeErr = t.conn.Close() })
	return t.closeErr
}

func (t *clientTransport) wrap(op string, err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s: %w", op, api.ErrTransportClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

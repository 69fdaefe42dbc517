// File: client/client.go
// Package client provides the WebSocket client facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This client implements:
// - RFC6455 opening handshake over a dialed TCP stream or a caller transport
// - Ordered event delivery on a dedicated dispatcher goroutine
// - Configurable handshake/write deadlines and optional heartbeat (Ping)
// - Idempotent Close and forced Shutdown
// - Structured logging tagged with a per-connection id
//
// A Client drives exactly one connection. Reconnection is left to callers.

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/wsclient/api"
	"github.com/momentics/wsclient/control"
	"github.com/momentics/wsclient/internal/concurrency"
	"github.com/momentics/wsclient/protocol"
)

// ContextDialer opens the TCP stream for Open.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the structured logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDialer replaces the TCP dialer used by Open.
func WithDialer(d ContextDialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithMaskSource replaces crypto/rand as the source of masking keys.
func WithMaskSource(r io.Reader) Option {
	return func(c *Client) { c.mask = r }
}

// Client is a single-connection WebSocket client.
type Client struct {
	cfg    *Config
	id     uuid.UUID
	log    *slog.Logger
	dialer ContextDialer
	mask   io.Reader

	dispatcher *concurrency.Dispatcher
	metrics    *control.MetricsRegistry
	probes     *control.DebugProbes

	mu       sync.Mutex
	conn     *protocol.Conn
	url      string
	opened   bool
	shutdown bool
	failed   bool // closed before a connection existed

	wg sync.WaitGroup
}

// New creates an idle client. A nil cfg means DefaultConfig().
func New(cfg *Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Client{
		cfg:        cfg,
		id:         uuid.New(),
		log:        slog.Default(),
		dispatcher: concurrency.NewDispatcher(),
		metrics:    control.NewMetricsRegistry(),
		probes:     control.NewDebugProbes(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{Timeout: cfg.HandshakeTimeout}
	}
	c.log = c.log.With("conn", c.id.String())

	c.probes.RegisterProbe("conn.id", func() any { return c.id.String() })
	c.probes.RegisterProbe("conn.state", func() any { return c.State().String() })
	c.probes.RegisterProbe("conn.subprotocol", func() any { return c.Subprotocol() })
	c.probes.RegisterProbe("conn.url", func() any {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.url
	})
	c.probes.RegisterProbe("conn.close_status", func() any {
		code, reason, closed := c.CloseStatus()
		if !closed {
			return nil
		}
		return map[string]any{"code": code, "reason": reason}
	})

	c.dispatcher.Start()
	return c
}

// ID returns the connection id used in logs.
func (c *Client) ID() uuid.UUID { return c.id }

// Subscribe registers h for connection events. Handlers run on the
// dispatcher goroutine and must not call Shutdown.
func (c *Client) Subscribe(h api.EventHandler) error {
	return c.dispatcher.Subscribe(h)
}

// Open dials uri (Config.Addr when empty) and performs the handshake.
// Only ws:// is supported. HandshakeTimeout bounds dial and handshake together.
func (c *Client) Open(ctx context.Context, uri string) error {
	if uri == "" {
		uri = c.cfg.Addr
	}
	if err := c.claim(uri); err != nil {
		return err
	}
	addr, err := dialAddress(uri)
	if err != nil {
		c.failEarly(err)
		return err
	}

	ctx, cancel := c.handshakeContext(ctx)
	defer cancel()
	nc, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		err = &protocol.TransportError{Op: "dial", Err: err}
		c.failEarly(err)
		return err
	}
	if err := tuneConn(nc, c.cfg.NoDelay); err != nil {
		c.log.Debug("socket tuning failed", "err", err)
	}
	return c.handshake(ctx, NewClientTransport(nc, c.cfg.IOBufferSize, c.cfg.WriteTimeout), uri)
}

// OpenTransport performs the handshake for uri over a caller-supplied
// transport and starts reading from it.
func (c *Client) OpenTransport(ctx context.Context, tr api.Transport, uri string) error {
	if err := c.claim(uri); err != nil {
		return err
	}
	ctx, cancel := c.handshakeContext(ctx)
	defer cancel()
	return c.handshake(ctx, tr, uri)
}

func (c *Client) handshakeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.HandshakeTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) claim(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return api.ErrInvalidState
	}
	c.opened = true
	c.url = uri
	c.log = c.log.With("url", uri)
	return nil
}

// failEarly reports a failure that happened before a connection existed.
func (c *Client) failEarly(err error) {
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
	c.log.Warn("connection failed", "err", err)
	c.dispatcher.Post(&api.FailedEvent{Err: err})
	c.dispatcher.Close()
}

// handshake runs the opening handshake within ctx and starts the read loop.
func (c *Client) handshake(ctx context.Context, tr api.Transport, uri string) error {
	req, err := protocol.BuildRequest(uri, c.cfg.requestOptions())
	if err != nil {
		_ = tr.Close()
		c.failEarly(err)
		return err
	}

	ccfg := c.cfg.connConfig()
	ccfg.MaskSource = c.mask
	conn := protocol.NewConn(tr, ccfg, api.EventHandlerFunc(c.onEvent))
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		_ = tr.Close()
		return api.ErrShutdown
	}
	c.conn = conn
	c.mu.Unlock()

	dl, hasDeadline := tr.(readDeadliner)
	if deadline, ok := ctx.Deadline(); ok && hasDeadline {
		_ = dl.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = tr.Close() })
	head, rest, err := exchange(tr, req)
	if !stop() && err == nil {
		err = &protocol.TransportError{Op: "handshake", Err: api.ErrTransportClosed}
	}
	if err == nil && hasDeadline {
		if derr := dl.SetReadDeadline(time.Time{}); derr != nil {
			err = &protocol.TransportError{Op: "handshake", Err: derr}
		}
	}
	if err != nil {
		switch ctxErr := ctx.Err(); {
		case errors.Is(ctxErr, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
			err = fmt.Errorf("handshake: %w", api.ErrOperationTimeout)
		case ctxErr != nil:
			err = fmt.Errorf("handshake: %w", ctxErr)
		}
		_ = conn.OnHandshakeResult(protocol.Rejected(err))
		return err
	}

	res := protocol.ValidateResponse(head, req.ExpectedAccept, req.Subprotocols)
	if err := conn.OnHandshakeResult(res); err != nil {
		return err
	}
	if !res.Accepted {
		return res.Err
	}
	c.log.Info("connected", "subprotocol", res.Subprotocol)

	if len(rest) > 0 {
		// A malformed early frame has already failed the connection.
		if err := conn.Feed(rest); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return api.ErrShutdown
	}
	c.wg.Add(1)
	go c.readLoop(conn, tr)
	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop(conn)
	}
	return nil
}

// readDeadliner is implemented by transports that can bound a blocking Recv.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// exchange writes the request and reads until the response head is complete.
func exchange(tr api.Transport, req *protocol.HandshakeRequest) (head, rest []byte, err error) {
	if err := tr.Send([][]byte{req.Bytes}); err != nil {
		return nil, nil, &protocol.TransportError{Op: "write", Err: err}
	}
	var buf []byte
	for {
		bufs, err := tr.Recv()
		if err != nil {
			return nil, nil, &protocol.TransportError{Op: "read", Err: err}
		}
		for _, b := range bufs {
			buf = append(buf, b...)
		}
		head, rest, complete, err := protocol.SplitResponse(buf)
		if err != nil {
			return nil, nil, err
		}
		if complete {
			return head, rest, nil
		}
	}
}

// readLoop feeds inbound bytes until the transport fails or the
// connection closes.
func (c *Client) readLoop(conn *protocol.Conn, tr api.Transport) {
	defer c.wg.Done()
	for {
		bufs, err := tr.Recv()
		for _, b := range bufs {
			if ferr := conn.Feed(b); ferr != nil {
				return
			}
		}
		if err != nil {
			conn.OnTransportError(err)
			return
		}
	}
}

// heartbeatLoop sends Ping frames at the configured interval.
func (c *Client) heartbeatLoop(conn *protocol.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(nil); err != nil && !errors.Is(err, api.ErrInvalidState) {
				c.log.Debug("heartbeat ping failed", "err", err)
			}
		case <-conn.Done():
			return
		}
	}
}

// onEvent is the connection sink: log, then hand off to the dispatcher.
func (c *Client) onEvent(ev api.Event) {
	terminal := false
	switch e := ev.(type) {
	case *api.ConnectedEvent:
		c.log.Debug("state transition", "state", api.StateOpen.String(), "subprotocol", e.Subprotocol)
	case *api.ClosedEvent:
		terminal = true
		if e.Abnormal {
			c.log.Warn("connection closed abnormally", "code", e.Code, "reason", e.Reason)
		} else {
			c.log.Debug("state transition", "state", api.StateClosed.String(), "code", e.Code, "reason", e.Reason)
		}
	case *api.FailedEvent:
		terminal = true
		c.log.Warn("connection failed", "err", e.Err)
	}
	c.dispatcher.Post(ev)
	if terminal {
		c.dispatcher.Close()
	}
}

func (c *Client) current() *protocol.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Send writes one message.
func (c *Client) Send(msg api.Message) error {
	conn := c.current()
	if conn == nil {
		return api.ErrInvalidState
	}
	return conn.Send(msg)
}

// SendText writes a text message.
func (c *Client) SendText(s string) error { return c.Send(api.Text(s)) }

// SendBinary writes a binary message.
func (c *Client) SendBinary(b []byte) error { return c.Send(api.Binary(b)) }

// Ping sends a ping with payload (at most 125 bytes).
func (c *Client) Ping(payload []byte) error {
	conn := c.current()
	if conn == nil {
		return api.ErrInvalidState
	}
	return conn.Ping(payload)
}

// Close starts the close handshake; idempotent once closing. Closing a
// client whose Open already failed is a no-op.
func (c *Client) Close(code uint16, reason string) error {
	c.mu.Lock()
	conn, ended := c.conn, c.failed || c.shutdown
	c.mu.Unlock()
	if conn == nil {
		if ended {
			return nil
		}
		return api.ErrInvalidState
	}
	c.log.Debug("closing", "code", code, "reason", reason)
	return conn.Close(code, reason)
}

// Shutdown aborts the connection and waits for the read loop and for every
// queued event to be delivered. It must not be called from an event handler.
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.opened = true
	c.shutdown = true
	conn := c.conn
	if conn == nil {
		c.failed = true
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Abort(api.ErrShutdown)
	} else {
		c.dispatcher.Close()
	}
	c.wg.Wait()
	<-c.dispatcher.Done()
}

// Done is closed once the connection is CLOSED and its events are delivered.
func (c *Client) Done() <-chan struct{} {
	return c.dispatcher.Done()
}

// State returns the lifecycle state.
func (c *Client) State() api.ConnState {
	c.mu.Lock()
	conn, failed := c.conn, c.failed
	c.mu.Unlock()
	switch {
	case conn != nil:
		return conn.State()
	case failed:
		return api.StateClosed
	default:
		return api.StateConnecting
	}
}

// Subprotocol returns the negotiated sub-protocol, if any.
func (c *Client) Subprotocol() string {
	if conn := c.current(); conn != nil {
		return conn.Subprotocol()
	}
	return ""
}

// CloseStatus returns the final close code and reason; closed is false until CLOSED.
func (c *Client) CloseStatus() (code uint16, reason string, closed bool) {
	if conn := c.current(); conn != nil {
		return conn.CloseStatus()
	}
	if c.State() == api.StateClosed {
		return protocol.CloseAbnormalClosure, "", true
	}
	return 0, "", false
}

// Stats publishes and returns connection and dispatcher counters.
func (c *Client) Stats() map[string]int64 {
	if conn := c.current(); conn != nil {
		c.metrics.Record("conn", conn.Stats())
	}
	c.metrics.Record("events", c.dispatcher.Stats())
	return c.metrics.GetSnapshot()
}

// DumpState returns debug probe output.
func (c *Client) DumpState() map[string]any {
	return c.probes.DumpState()
}

// dialAddress maps a ws:// URL to host:port.
func dialAddress(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", api.ErrInvalidArgument, err)
	}
	switch u.Scheme {
	case "ws":
	case "wss":
		return "", fmt.Errorf("%w: wss:// requires TLS", api.ErrNotSupported)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", api.ErrInvalidArgument, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", api.ErrInvalidArgument, uri)
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

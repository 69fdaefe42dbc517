// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn owns one client connection's lifecycle
// (CONNECTING -> OPEN -> CLOSING -> CLOSED), sequences outbound frames,
// reassembles fragmented inbound messages and enforces the close handshake.

package protocol

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/cpu"

	"github.com/momentics/wsclient/api"
)

// Connection defaults.
const (
	DefaultFragmentSize   = 32 * 1024
	DefaultMaxMessageSize = 32 << 20 // 32MB
	DefaultCloseTimeout   = 5 * time.Second
)

// ConnConfig tunes a Conn.
type ConnConfig struct {
	MaxFrameSize   int64         // inbound frame payload limit
	MaxMessageSize int64         // reassembled inbound message limit
	FragmentSize   int           // outbound payloads above this are fragmented; <= 0 disables
	CloseTimeout   time.Duration // wait for the peer's close frame
	MaskSource     io.Reader     // masking keys; crypto/rand.Reader when nil
}

// DefaultConnConfig returns sensible defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		MaxFrameSize:   MaxFramePayload,
		MaxMessageSize: DefaultMaxMessageSize,
		FragmentSize:   DefaultFragmentSize,
		CloseTimeout:   DefaultCloseTimeout,
	}
}

// connStats keeps reader and writer counters on separate cache lines.
type connStats struct {
	framesReceived int64
	bytesReceived  int64
	_              cpu.CacheLinePad
	framesSent     int64
	bytesSent      int64
}

// Conn is the client connection state machine. It is driven by one reader
// (Feed/OnFrame/OnTransportError) and any number of writers
// (Send/Ping/Close/Abort); a single mutex serializes them.
//
// Events go to the sink in order, outside the state mutex. The sink must not
// call back into the Conn synchronously.
type Conn struct {
	cfg       ConnConfig
	codec     Codec
	mask      io.Reader
	transport api.Transport
	sink      api.EventHandler

	mu          sync.Mutex
	emitMu      sync.Mutex
	state       api.ConnState
	subprotocol string
	closeCode   uint16
	closeReason string

	closeSent     bool
	closeReceived bool
	recvCode      uint16
	recvReason    string
	closeTimer    *time.Timer

	rx         []byte // undecoded inbound bytes
	fragActive bool
	fragOp     Opcode
	fragBuf    []byte

	stats connStats
	done  chan struct{}
}

// NewConn creates a connection in CONNECTING state over tr.
func NewConn(tr api.Transport, cfg ConnConfig, sink api.EventHandler) *Conn {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	mask := cfg.MaskSource
	if mask == nil {
		mask = rand.Reader
	}
	if sink == nil {
		sink = api.EventHandlerFunc(func(api.Event) {})
	}
	return &Conn{
		cfg:       cfg,
		codec:     Codec{MaxPayload: cfg.MaxFrameSize, RejectMasked: true},
		mask:      mask,
		transport: tr,
		sink:      sink,
		state:     api.StateConnecting,
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() api.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subprotocol returns the negotiated sub-protocol, if any.
func (c *Conn) Subprotocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subprotocol
}

// CloseStatus returns the final close code and reason; closed is false until CLOSED.
func (c *Conn) CloseStatus() (code uint16, reason string, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.state == api.StateClosed
}

// Done returns channel closed when the connection reaches CLOSED.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// OnHandshakeResult moves CONNECTING to OPEN or CLOSED.
func (c *Conn) OnHandshakeResult(res HandshakeResult) error {
	c.mu.Lock()
	if c.state != api.StateConnecting {
		c.mu.Unlock()
		return api.ErrInvalidState
	}
	var evs []api.Event
	if res.Accepted {
		c.state = api.StateOpen
		c.subprotocol = res.Subprotocol
		evs = append(evs, &api.ConnectedEvent{Subprotocol: res.Subprotocol})
	} else {
		err := res.Err
		if err == nil {
			err = &HandshakeError{Reason: "rejected"}
		}
		evs = c.finishLocked(CloseAbnormalClosure, "", &api.FailedEvent{Err: err})
	}
	c.unlockAndEmit(evs)
	return nil
}

// Send writes msg, fragmenting payloads larger than FragmentSize.
func (c *Conn) Send(msg api.Message) error {
	var op Opcode
	switch msg.Kind {
	case api.TextMessage:
		if !utf8.Valid(msg.Payload) {
			return fmt.Errorf("%w: text message is not valid UTF-8", api.ErrInvalidArgument)
		}
		op = OpcodeText
	case api.BinaryMessage:
		op = OpcodeBinary
	default:
		return fmt.Errorf("%w: message kind %d", api.ErrInvalidArgument, msg.Kind)
	}

	c.mu.Lock()
	if c.state != api.StateOpen {
		c.mu.Unlock()
		return api.ErrInvalidState
	}
	frames, err := c.fragment(op, msg.Payload)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.writeLocked(frames, len(msg.Payload)); err != nil {
		c.unlockAndEmit(c.transportFailureLocked(err))
		return err
	}
	c.mu.Unlock()
	return nil
}

// Ping sends a ping control frame while OPEN.
func (c *Conn) Ping(payload []byte) error {
	c.mu.Lock()
	if c.state != api.StateOpen {
		c.mu.Unlock()
		return api.ErrInvalidState
	}
	frame, err := AppendFrame(nil, OpcodePing, true, payload, c.mask)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.writeLocked([][]byte{frame}, len(payload)); err != nil {
		c.unlockAndEmit(c.transportFailureLocked(err))
		return err
	}
	c.mu.Unlock()
	return nil
}

// Close starts the close handshake. It is a no-op once CLOSING or CLOSED.
func (c *Conn) Close(code uint16, reason string) error {
	payload, err := EncodeClosePayload(code, reason)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case api.StateConnecting:
		c.mu.Unlock()
		return api.ErrInvalidState
	case api.StateClosing, api.StateClosed:
		c.mu.Unlock()
		return nil
	}
	frame, err := AppendFrame(nil, OpcodeClose, true, payload, c.mask)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.closeSent = true
	c.state = api.StateClosing
	if err := c.writeLocked([][]byte{frame}, len(payload)); err != nil {
		c.unlockAndEmit(c.transportFailureLocked(err))
		return err
	}
	c.startCloseTimerLocked()
	c.mu.Unlock()
	return nil
}

// Abort force-transitions to CLOSED from any state. Any partially
// reassembled message is discarded.
func (c *Conn) Abort(cause error) {
	c.mu.Lock()
	if c.state == api.StateClosed {
		c.mu.Unlock()
		return
	}
	if cause == nil {
		cause = api.ErrShutdown
	}
	c.unlockAndEmit(c.finishLocked(CloseAbnormalClosure, "", &api.FailedEvent{Err: cause}))
}

// OnTransportError reports a failed read on the underlying stream.
func (c *Conn) OnTransportError(err error) {
	c.mu.Lock()
	if c.state == api.StateClosed {
		c.mu.Unlock()
		return
	}
	c.unlockAndEmit(c.transportFailureLocked(err))
}

// Feed appends inbound bytes and processes every complete frame.
// A returned *ProtocolError has already closed the connection.
func (c *Conn) Feed(data []byte) error {
	c.mu.Lock()
	if c.state == api.StateConnecting || c.state == api.StateClosed {
		c.mu.Unlock()
		return api.ErrInvalidState
	}
	c.rx = append(c.rx, data...)

	var (
		evs      []api.Event
		failure  error
		consumed int
	)
	for c.state == api.StateOpen || c.state == api.StateClosing {
		frame, n, err := c.codec.Decode(c.rx[consumed:])
		if err != nil {
			failure = err
			evs = append(evs, c.failLocked(err)...)
			break
		}
		if frame == nil {
			break
		}
		consumed += n
		evs = c.onFrameLocked(frame, evs)
	}
	if c.state != api.StateClosed {
		c.rx = append(c.rx[:0], c.rx[consumed:]...)
	}
	c.unlockAndEmit(evs)
	return failure
}

// OnFrame processes one already-decoded frame.
func (c *Conn) OnFrame(f *Frame) error {
	c.mu.Lock()
	if c.state == api.StateConnecting || c.state == api.StateClosed {
		c.mu.Unlock()
		return api.ErrInvalidState
	}
	if f.Masked {
		c.unlockAndEmit(c.failLocked(protocolErr(CloseProtocolError, ErrMaskedFrame)))
		return nil
	}
	c.unlockAndEmit(c.onFrameLocked(f, nil))
	return nil
}

// Stats returns a snapshot of connection statistics for metrics reporting.
func (c *Conn) Stats() map[string]int64 {
	return map[string]int64{
		"bytes_received":  atomic.LoadInt64(&c.stats.bytesReceived),
		"bytes_sent":      atomic.LoadInt64(&c.stats.bytesSent),
		"frames_received": atomic.LoadInt64(&c.stats.framesReceived),
		"frames_sent":     atomic.LoadInt64(&c.stats.framesSent),
	}
}

func (c *Conn) onFrameLocked(f *Frame, evs []api.Event) []api.Event {
	atomic.AddInt64(&c.stats.framesReceived, 1)
	atomic.AddInt64(&c.stats.bytesReceived, int64(len(f.Payload)))

	switch f.Opcode {
	case OpcodeText, OpcodeBinary:
		if c.fragActive {
			return append(evs, c.failLocked(protocolErr(CloseProtocolError, ErrExpectedContinuation))...)
		}
		if int64(len(f.Payload)) > c.cfg.MaxMessageSize {
			return append(evs, c.failLocked(protocolErr(CloseMessageTooBig, ErrMessageTooLarge))...)
		}
		if f.IsFinal {
			return c.deliverLocked(f.Opcode, f.Payload, evs)
		}
		c.fragActive = true
		c.fragOp = f.Opcode
		c.fragBuf = append(c.fragBuf[:0], f.Payload...)
		return evs

	case OpcodeContinuation:
		if !c.fragActive {
			return append(evs, c.failLocked(protocolErr(CloseProtocolError, ErrUnexpectedContinuation))...)
		}
		if int64(len(c.fragBuf))+int64(len(f.Payload)) > c.cfg.MaxMessageSize {
			return append(evs, c.failLocked(protocolErr(CloseMessageTooBig, ErrMessageTooLarge))...)
		}
		c.fragBuf = append(c.fragBuf, f.Payload...)
		if !f.IsFinal {
			return evs
		}
		payload := c.fragBuf
		c.fragBuf = nil
		c.fragActive = false
		return c.deliverLocked(c.fragOp, payload, evs)

	case OpcodePing:
		// No pong once our close frame is out.
		if c.state != api.StateOpen {
			return evs
		}
		pong, err := AppendFrame(nil, OpcodePong, true, f.Payload, c.mask)
		if err != nil {
			return append(evs, c.failLocked(err)...)
		}
		if err := c.writeLocked([][]byte{pong}, len(f.Payload)); err != nil {
			return append(evs, c.transportFailureLocked(err)...)
		}
		return evs

	case OpcodePong:
		return append(evs, &api.PongEvent{Payload: f.Payload})

	case OpcodeClose:
		code, reason, err := ParseClosePayload(f.Payload)
		if err != nil {
			return append(evs, c.failLocked(err)...)
		}
		c.closeReceived = true
		c.recvCode, c.recvReason = code, reason
		if c.state == api.StateClosing {
			// Our close frame is already out: handshake complete.
			return append(evs, c.finishLocked(code, reason, &api.ClosedEvent{Code: code, Reason: reason})...)
		}
		payload, _ := EncodeClosePayload(code, "")
		frame, err := AppendFrame(nil, OpcodeClose, true, payload, c.mask)
		if err != nil {
			return append(evs, c.failLocked(err)...)
		}
		c.closeSent = true
		c.state = api.StateClosing
		if err := c.writeLocked([][]byte{frame}, len(payload)); err != nil {
			return append(evs, c.transportFailureLocked(err)...)
		}
		c.startCloseTimerLocked()
		return evs
	}
	return append(evs, c.failLocked(protocolErr(CloseProtocolError, ErrReservedOpcode))...)
}

func (c *Conn) deliverLocked(op Opcode, payload []byte, evs []api.Event) []api.Event {
	kind := api.BinaryMessage
	if op == OpcodeText {
		if !utf8.Valid(payload) {
			return append(evs, c.failLocked(protocolErr(CloseInvalidPayloadData, ErrInvalidUTF8))...)
		}
		kind = api.TextMessage
	}
	return append(evs, &api.MessageEvent{Message: api.Message{Kind: kind, Payload: payload}})
}

// fragment splits payload into the frame sequence for one message.
func (c *Conn) fragment(op Opcode, payload []byte) ([][]byte, error) {
	size := c.cfg.FragmentSize
	if size <= 0 || len(payload) <= size {
		f, err := AppendFrame(nil, op, true, payload, c.mask)
		if err != nil {
			return nil, err
		}
		return [][]byte{f}, nil
	}
	frames := make([][]byte, 0, (len(payload)+size-1)/size)
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))
		fop := OpcodeContinuation
		if off == 0 {
			fop = op
		}
		f, err := AppendFrame(nil, fop, end == len(payload), payload[off:end], c.mask)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (c *Conn) writeLocked(frames [][]byte, payloadLen int) error {
	if err := c.transport.Send(frames); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	atomic.AddInt64(&c.stats.framesSent, int64(len(frames)))
	atomic.AddInt64(&c.stats.bytesSent, int64(payloadLen))
	return nil
}

// failLocked handles a fatal protocol violation: close frame with the
// matching code if still allowed, then CLOSED.
func (c *Conn) failLocked(err error) []api.Event {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		pe = protocolErr(CloseProtocolError, err)
	}
	if c.state == api.StateOpen && !c.closeSent {
		payload, _ := EncodeClosePayload(pe.Code, "")
		if frame, ferr := AppendFrame(nil, OpcodeClose, true, payload, c.mask); ferr == nil {
			_ = c.writeLocked([][]byte{frame}, len(payload))
		}
		c.closeSent = true
	}
	return c.finishLocked(pe.Code, "", &api.FailedEvent{Err: pe})
}

func (c *Conn) transportFailureLocked(err error) []api.Event {
	var te *TransportError
	if !errors.As(err, &te) {
		te = &TransportError{Op: "read", Err: err}
	}
	if c.state == api.StateClosing {
		if c.closeReceived {
			return c.finishLocked(c.recvCode, c.recvReason, &api.ClosedEvent{Code: c.recvCode, Reason: c.recvReason})
		}
		return c.finishLocked(CloseAbnormalClosure, te.Error(),
			&api.ClosedEvent{Code: CloseAbnormalClosure, Reason: te.Error(), Abnormal: true})
	}
	return c.finishLocked(CloseAbnormalClosure, "", &api.FailedEvent{Err: te})
}

func (c *Conn) startCloseTimerLocked() {
	c.closeTimer = time.AfterFunc(c.cfg.CloseTimeout, c.onCloseTimeout)
}

func (c *Conn) onCloseTimeout() {
	c.mu.Lock()
	if c.state != api.StateClosing {
		c.mu.Unlock()
		return
	}
	var evs []api.Event
	if c.closeReceived {
		evs = c.finishLocked(c.recvCode, c.recvReason, &api.ClosedEvent{Code: c.recvCode, Reason: c.recvReason})
	} else {
		const reason = "close handshake timed out"
		evs = c.finishLocked(CloseAbnormalClosure, reason,
			&api.ClosedEvent{Code: CloseAbnormalClosure, Reason: reason, Abnormal: true})
	}
	c.unlockAndEmit(evs)
}

// finishLocked is the only path into CLOSED.
func (c *Conn) finishLocked(code uint16, reason string, ev api.Event) []api.Event {
	c.state = api.StateClosed
	c.closeCode, c.closeReason = code, reason
	c.fragActive = false
	c.fragBuf = nil
	c.rx = nil
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	_ = c.transport.Close()
	close(c.done)
	return []api.Event{ev}
}

// unlockAndEmit releases c.mu and delivers evs in order. emitMu is taken
// before c.mu is released so events from racing goroutines keep the order of
// the state transitions that produced them.
func (c *Conn) unlockAndEmit(evs []api.Event) {
	if len(evs) == 0 {
		c.mu.Unlock()
		return
	}
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	for _, ev := range evs {
		c.sink.HandleEvent(ev)
	}
}

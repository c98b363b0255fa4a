// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection WebSocket session: handshake, read loop and frame dispatch.

package session

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/control"
	"github.com/momentics/tinyws/pool"
	"github.com/momentics/tinyws/protocol"
)

// Config holds per-session timing and limits.
type Config struct {
	KeepAliveInterval time.Duration
	ConnectionTimeout time.Duration
	HandshakeTimeout  time.Duration
	MaxMessageSize    uint64 // 0 = unlimited
	RequireMask       bool
	ReadBufferSize    int
}

// DefaultConfig returns the built-in session settings.
func DefaultConfig() Config {
	return Config{
		KeepAliveInterval: control.DefaultKeepAliveInterval,
		ConnectionTimeout: control.DefaultConnectionTimeout,
		HandshakeTimeout:  control.DefaultHandshakeTimeout,
		MaxMessageSize:    control.DefaultMaxMessageSize,
		RequireMask:       true,
		ReadBufferSize:    control.DefaultReadBufferSize,
	}
}

// ConfigFrom converts the file-level section.
func ConfigFrom(c control.SessionConfig) Config {
	return Config{
		KeepAliveInterval: c.KeepAliveInterval.Duration,
		ConnectionTimeout: c.ConnectionTimeout.Duration,
		HandshakeTimeout:  c.HandshakeTimeout.Duration,
		MaxMessageSize:    uint64(c.MaxMessageSize),
		RequireMask:       c.RequireMask,
		ReadBufferSize:    c.ReadBufferSize,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	return c
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the base logger; session attributes are added to it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *control.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithBufferPool makes the session borrow its read buffer from p while it
// runs. Ignored when the pool's size differs from ReadBufferSize.
func WithBufferPool(p *pool.BytePool) Option {
	return func(s *Session) { s.buffers = p }
}

// Session owns one client connection from handshake to disconnect.
type Session struct {
	id      string
	conn    net.Conn
	cfg     Config
	handler api.Handler
	log     *slog.Logger
	metrics *control.Metrics
	buffers *pool.BytePool

	// mu guards state, closeStatus and extensions. It is held across the
	// state change and the Close frame write of both close paths.
	mu          sync.Mutex
	state       State
	closeStatus uint16
	extensions  protocol.Extensions

	// wmu serializes frame writes.
	wmu       sync.Mutex
	closeSent bool

	waitingForPong atomic.Bool

	// Read goroutine only.
	chunk       []byte
	buf         []byte
	partial     *protocol.Frame
	pending     *queue.Queue
	pendingSize uint64

	done     chan struct{}
	doneOnce sync.Once
}

var _ api.Session = (*Session)(nil)

// New wraps conn. The session does nothing until Run is called.
func New(conn net.Conn, h api.Handler, cfg Config, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:          uuid.NewString(),
		conn:        conn,
		cfg:         cfg,
		handler:     h,
		log:         control.DiscardLogger(),
		state:       WaitingForHandshake,
		closeStatus: protocol.CloseNormalClosure,
		pending:     queue.New(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session_id", s.id, "remote", remoteString(conn))
	return s
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Done is closed once the session reached Disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CloseStatus returns the status recorded for the close handshake.
func (s *Session) CloseStatus() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeStatus
}

// Extensions lists the extensions recorded during the handshake.
func (s *Session) Extensions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extensions.Names()
}

// SendText writes one unfragmented text frame.
func (s *Session) SendText(text string) error {
	if !s.State().IsActive() {
		return api.ErrSessionClosed
	}
	return s.write(protocol.NewTextFrame(text))
}

// Run drives the session until it is disconnected. It returns after the
// socket is closed and the keep-alive watchdog exited.
func (s *Session) Run() {
	if s.buffers != nil && s.buffers.Size() == s.cfg.ReadBufferSize {
		s.chunk = s.buffers.Get()
		defer s.buffers.Put(s.chunk)
	} else {
		s.chunk = make([]byte, s.cfg.ReadBufferSize)
	}

	if !s.handshake() {
		s.terminate()
		return
	}
	s.log.Debug("session opened", "extensions", s.Extensions())
	s.callback(func(cs api.Session) { s.handler.OnOpen(cs) })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive()
	}()

	s.readLoop()
	s.terminate()
	wg.Wait()
	status := s.CloseStatus()
	s.log.Debug("session closed", "status", status)
	s.callback(func(cs api.Session) { s.handler.OnClose(cs, status) })
}

// handshake reads until a complete upgrade request is buffered and answers it.
func (s *Session) handshake() bool {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	for {
		n, err := s.conn.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.chunk[:n]...)
			neg, consumed, nerr := protocol.Negotiate(s.buf)
			switch {
			case nerr == nil:
				return s.accept(neg, consumed)
			case errors.Is(nerr, protocol.ErrIncompleteRequest):
			default:
				s.log.Debug("handshake rejected", "error", nerr)
				s.metrics.RecordHandshake(false)
				return false
			}
		}
		if err != nil {
			s.log.Debug("handshake read failed", "error", err)
			s.metrics.RecordHandshake(false)
			return false
		}
	}
}

// accept publishes Connected and writes the 101 under mu, so a Close racing
// the response always finds an upgraded session and sends a Close frame.
func (s *Session) accept(neg *protocol.Negotiation, consumed int) bool {
	s.mu.Lock()
	if s.state != WaitingForHandshake {
		s.mu.Unlock()
		return false
	}
	s.extensions = neg.Extensions
	s.state = Connected
	err := s.writeBytes(neg.Response, "")
	s.mu.Unlock()
	if err != nil {
		s.log.Debug("handshake response failed", "error", err)
		s.metrics.RecordHandshake(false)
		return false
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	s.buf = s.buf[consumed:]
	s.metrics.RecordHandshake(true)
	return true
}

func (s *Session) readLoop() {
	for {
		if !s.consume() {
			return
		}
		n, err := s.conn.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.chunk[:n]...)
		}
		if err != nil {
			if n > 0 {
				s.consume()
			}
			s.readFailed(err)
			return
		}
	}
}

// readFailed handles end of stream or a read error.
func (s *Session) readFailed(err error) {
	st := s.State()
	if !st.IsActive() {
		return
	}
	if errors.Is(err, io.EOF) {
		s.log.Debug("peer closed the stream")
	} else {
		s.log.Debug("read failed", "error", err)
	}
	_ = s.initiateClose(0, closeNow)
}

// consume decodes and dispatches every complete frame in the buffer. It
// returns false once the session is disconnected.
func (s *Session) consume() bool {
	for len(s.buf) > 0 {
		if s.State() == Disconnected {
			s.buf = nil
			return false
		}

		if s.partial != nil {
			n := s.partial.AppendPayload(s.buf)
			s.buf = s.buf[n:]
			if !s.partial.IsPayloadComplete() {
				return true
			}
			f := s.partial
			s.partial = nil
			s.swapState(InDataPayload, Connected)
			s.dispatch(f)
			continue
		}

		f, n, err := protocol.DecodeFrame(s.buf, s.cfg.MaxMessageSize)
		if err != nil {
			code := protocol.CloseProtocolError
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				code = protocol.CloseMessageTooBig
			}
			s.violation(code, err.Error())
			return false
		}
		if f == nil {
			return true
		}
		s.buf = s.buf[n:]
		if !f.IsPayloadComplete() {
			s.partial = f
			s.swapState(Connected, InDataPayload)
			return true
		}
		s.dispatch(f)
	}
	return s.State() != Disconnected
}

func (s *Session) dispatch(f *protocol.Frame) {
	s.metrics.RecordFrameReceived(f.Opcode.String())

	if s.State() == Closing {
		// only the peer's Close matters now
		if f.Opcode == protocol.OpcodeClose {
			s.closeFromPeer(f.Payload)
		}
		return
	}

	if code, reason := s.validate(f); code != 0 {
		s.violation(code, reason)
		return
	}

	switch f.Opcode {
	case protocol.OpcodeClose:
		s.closeFromPeer(f.Payload)
	case protocol.OpcodePong:
		s.waitingForPong.Store(false)
	case protocol.OpcodePing:
		if err := s.write(protocol.NewPongFrame()); err != nil {
			s.log.Debug("pong write failed", "error", err)
		}
	case protocol.OpcodeText, protocol.OpcodeContinuation:
		s.queueFragment(f)
	default:
		// binary and unknown opcodes are not delivered
	}
}

// validate returns a close code and reason for frames that break the protocol.
func (s *Session) validate(f *protocol.Frame) (uint16, string) {
	switch {
	case f.Rsv != 0:
		return protocol.CloseProtocolError, "reserved bits set"
	case s.cfg.RequireMask && !f.Masked:
		return protocol.CloseProtocolError, "unmasked client frame"
	case f.Opcode.IsControl() && !f.Fin:
		return protocol.CloseProtocolError, "fragmented control frame"
	case f.Opcode.IsControl() && f.PayloadLen > protocol.MaxControlPayloadLen:
		return protocol.CloseProtocolError, "control frame payload too long"
	case f.Opcode == protocol.OpcodeText && s.pending.Length() > 0:
		return protocol.CloseProtocolError, "text frame while a fragmented message is pending"
	case f.Opcode == protocol.OpcodeContinuation && s.pending.Length() == 0:
		return protocol.CloseProtocolError, "continuation without a message in progress"
	}
	return 0, ""
}

// queueFragment appends a text fragment and delivers the message on FIN.
func (s *Session) queueFragment(f *protocol.Frame) {
	s.pendingSize += uint64(len(f.Payload))
	if s.cfg.MaxMessageSize > 0 && s.pendingSize > s.cfg.MaxMessageSize {
		s.violation(protocol.CloseMessageTooBig, "reassembled message too large")
		return
	}
	s.pending.Add(f.Payload)
	if !f.Fin {
		return
	}

	var b strings.Builder
	b.Grow(int(s.pendingSize))
	for s.pending.Length() > 0 {
		b.Write(s.pending.Remove().([]byte))
	}
	s.pendingSize = 0

	text := b.String()
	if !utf8.ValidString(text) {
		s.violation(protocol.CloseInvalidPayloadData, "text message is not valid UTF-8")
		return
	}
	s.metrics.RecordMessage()
	s.callback(func(cs api.Session) { s.handler.OnMessage(cs, text) })
}

func (s *Session) violation(code uint16, reason string) {
	s.log.Debug("protocol violation", "reason", reason, "code", code)
	_ = s.initiateClose(code, closeNow)
}

// callback runs fn on the read goroutine with a session view whose Close
// does not wait while fn is running.
func (s *Session) callback(fn func(api.Session)) {
	cs := &callbackSession{Session: s}
	cs.running.Store(true)
	defer cs.running.Store(false)
	fn(cs)
}

func (s *Session) swapState(from, to State) {
	s.mu.Lock()
	if s.state == from {
		s.state = to
	}
	s.mu.Unlock()
}

// write encodes and sends f. Nothing is written after a Close frame.
func (s *Session) write(f *protocol.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	return s.writeBytes(data, f.Opcode.String())
}

// writeBytes sends data under the write lock. An empty label marks raw
// handshake bytes that are not counted as frames.
func (s *Session) writeBytes(data []byte, label string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closeSent {
		return api.ErrSessionClosed
	}
	if label == protocol.OpcodeClose.String() {
		s.closeSent = true
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.ConnectionTimeout))
	_, err := s.conn.Write(data)
	_ = s.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return err
	}
	if label != "" {
		s.metrics.RecordFrameSent(label)
	}
	return nil
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

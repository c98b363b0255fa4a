// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp provides the TCP listener: bind, accept loop with admission
// control, cooperative stop and session shutdown.

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/control"
	"github.com/momentics/tinyws/internal/session"
	"github.com/momentics/tinyws/pool"
	"github.com/momentics/tinyws/protocol"
)

// State is the accept loop state.
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// shutdownParallelism bounds concurrent session closes in Shutdown.
const shutdownParallelism = 64

// Config holds listener settings.
type Config struct {
	Host        string // bind host, default all interfaces
	Session     session.Config
	AcceptRate  float64 // accepted connections per second, 0 = unlimited
	AcceptBurst int
	ReuseAddr   bool
	NoDelay     bool
	AcceptCPU   int // pin the accept goroutine's thread, -1 = no pinning
}

// DefaultConfig returns the built-in listener settings.
func DefaultConfig() Config {
	return Config{
		Host:      "0.0.0.0",
		Session:   session.DefaultConfig(),
		NoDelay:   true,
		AcceptCPU: -1,
	}
}

// ConfigFrom builds a listener Config from the file-level configuration.
func ConfigFrom(c *control.Config) Config {
	cfg := DefaultConfig()
	cfg.Session = session.ConfigFrom(c.Session)
	cfg.AcceptRate = c.Server.AcceptRate
	cfg.AcceptBurst = c.Server.AcceptBurst
	cfg.ReuseAddr = c.Server.ReuseAddr
	cfg.NoDelay = c.Server.NoDelay
	cfg.AcceptCPU = c.Server.AcceptCPU
	return cfg
}

// Option customizes a Listener.
type Option func(*Listener)

// WithLogger sets the logger used by the listener and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Listener) {
		if l != nil {
			ln.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *control.Metrics) Option {
	return func(ln *Listener) { ln.metrics = m }
}

// WithTLSConfig sets the configuration used when Listen is called with useTLS.
func WithTLSConfig(c *tls.Config) Option {
	return func(ln *Listener) { ln.tlsConfig = c }
}

// Listener accepts TCP connections and runs one session per connection.
type Listener struct {
	cfg       Config
	handler   api.Handler
	log       *slog.Logger
	metrics   *control.Metrics
	tlsConfig *tls.Config
	limiter   *rate.Limiter
	buffers   *pool.BytePool

	mu      sync.Mutex
	ln      net.Listener
	useTLS  bool
	stopped chan struct{}

	state          atomic.Int32
	maxConnections atomic.Int64
	current        atomic.Int64
	pinnedCPU      atomic.Int32

	sessions *session.Registry
	wg       sync.WaitGroup
}

// NewListener creates a stopped listener delivering events to h.
func NewListener(cfg Config, h api.Handler, opts ...Option) *Listener {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Session.ReadBufferSize <= 0 {
		cfg.Session.ReadBufferSize = session.DefaultConfig().ReadBufferSize
	}
	l := &Listener{
		cfg:      cfg,
		handler:  h,
		log:      control.DiscardLogger(),
		sessions: session.NewRegistry(0),
		buffers:  pool.NewBytePool(cfg.Session.ReadBufferSize),
	}
	l.pinnedCPU.Store(-1)
	for _, opt := range opts {
		opt(l)
	}
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	return l
}

// Listen binds port (0 picks an ephemeral port) and starts the accept loop
// in its own goroutine. A bind failure is returned as *api.Error with
// ErrCodeBindFailed; the listener stays usable for another attempt.
func (l *Listener) Listen(port, maxConnections int, useTLS bool) error {
	if maxConnections <= 0 {
		return fmt.Errorf("%w: maxConnections must be positive", api.ErrInvalidArgument)
	}
	// mu is held until ln is published, so a Stop racing this call waits
	// for either a bound socket or a nil one.
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return api.ErrListenerRunning
	}

	lc := net.ListenConfig{Control: l.control}
	addr := net.JoinHostPort(l.cfg.Host, strconv.Itoa(port))
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		l.ln, l.stopped = nil, nil
		l.state.Store(int32(Stopped))
		return api.NewError(api.ErrCodeBindFailed, "bind failed").
			WithContext("port", port).
			Wrap(err)
	}

	if useTLS && l.tlsConfig == nil {
		l.log.Warn("TLS requested but no certificate configured, serving plain TCP", "addr", ln.Addr().String())
	}

	stopped := make(chan struct{})
	l.ln = ln
	l.useTLS = useTLS
	l.stopped = stopped
	l.maxConnections.Store(int64(maxConnections))

	l.log.Info("listening", "addr", ln.Addr().String(), "max_connections", maxConnections, "tls", useTLS)
	go l.acceptLoop(ln, stopped)
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener, stopped chan struct{}) {
	defer close(stopped)
	defer l.state.Store(int32(Stopped))

	if cpu := l.cfg.AcceptCPU; cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := setCPUAffinity(cpu); err != nil {
			l.log.Warn("failed to set CPU affinity", "cpu", cpu, "error", err)
		} else {
			l.pinnedCPU.Store(int32(cpu))
			defer l.pinnedCPU.Store(-1)
		}
	}

	for {
		conn, err := ln.Accept()
		if State(l.state.Load()) == Stopping {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			l.log.Error("accept failed, listener stopped", "error", err)
			_ = ln.Close()
			return
		}
		l.admit(conn)
	}
}

// admit applies admission control and starts a session for conn.
func (l *Listener) admit(conn net.Conn) {
	if l.current.Load() >= l.maxConnections.Load() {
		l.metrics.RecordRejected(control.RejectMaxConnections)
		_ = conn.Close()
		l.log.Debug("connection rejected", "reason", control.RejectMaxConnections, "remote", conn.RemoteAddr().String())
		return
	}
	if l.limiter != nil && !l.limiter.Allow() {
		l.metrics.RecordRejected(control.RejectRateLimit)
		_ = conn.Close()
		l.log.Debug("connection rejected", "reason", control.RejectRateLimit, "remote", conn.RemoteAddr().String())
		return
	}

	l.current.Add(1)
	l.metrics.RecordAccepted()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(l.cfg.NoDelay)
	}
	l.mu.Lock()
	useTLS, tlsConfig := l.useTLS, l.tlsConfig
	l.mu.Unlock()
	if useTLS && tlsConfig != nil {
		conn = tls.Server(conn, tlsConfig)
	}

	s := session.New(conn, l.handler, l.cfg.Session,
		session.WithLogger(l.log),
		session.WithMetrics(l.metrics),
		session.WithBufferPool(l.buffers),
	)
	l.sessions.Add(s)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.sessions.Remove(s.ID())
			l.current.Add(-1)
			l.metrics.RecordReleased()
		}()
		s.Run()
	}()
}

// Stop ends the accept loop. Sessions already running are left alone.
func (l *Listener) Stop() error {
	if !l.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return api.ErrListenerStopped
	}
	l.mu.Lock()
	ln, stopped := l.ln, l.stopped
	l.mu.Unlock()
	if ln == nil {
		// a concurrent Listen failed to bind
		return api.ErrListenerStopped
	}

	// wake Accept with a connection to ourselves
	if c, err := net.DialTimeout("tcp", wakeAddr(ln.Addr()), time.Second); err == nil {
		_ = c.Close()
	} else {
		l.log.Debug("self-connect failed, closing socket", "error", err)
		_ = ln.Close()
	}
	<-stopped

	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	l.log.Info("listener stopped", "addr", ln.Addr().String())
	return err
}

// Shutdown stops accepting, closes every live session with 1001 and waits
// for the session goroutines or ctx.
func (l *Listener) Shutdown(ctx context.Context) error {
	if err := l.Stop(); err != nil && !errors.Is(err, api.ErrListenerStopped) {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shutdownParallelism)
	for _, s := range l.sessions.Snapshot() {
		s := s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.CloseWithStatus(protocol.CloseGoingAway); err != nil && !errors.Is(err, api.ErrSessionClosed) {
				l.log.Debug("session close failed", "session_id", s.ID(), "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	waited := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every session goroutine returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

// CurrentConnections returns the number of admitted, not yet disconnected sessions.
func (l *Listener) CurrentConnections() int64 {
	return l.current.Load()
}

// MaxConnections returns the admission limit.
func (l *Listener) MaxConnections() int64 {
	return l.maxConnections.Load()
}

// SetMaxConnections changes the admission limit of a running listener.
func (l *Listener) SetMaxConnections(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: maxConnections must be positive", api.ErrInvalidArgument)
	}
	l.maxConnections.Store(int64(n))
	return nil
}

// State returns the accept loop state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Port returns the bound port, or 0 before Listen.
func (l *Listener) Port() int {
	if a, ok := l.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Sessions returns the live sessions.
func (l *Listener) Sessions() []*session.Session {
	return l.sessions.Snapshot()
}

// PinnedCPU returns the CPU the accept loop's thread is pinned to, or -1.
func (l *Listener) PinnedCPU() int {
	return int(l.pinnedCPU.Load())
}

// BufferStats reports the shared read buffer pool.
func (l *Listener) BufferStats() pool.Stats {
	return l.buffers.Stats()
}

// wakeAddr maps a wildcard bind address to loopback.
func wakeAddr(a net.Addr) string {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return a.String()
	}
	ip := tcp.IP
	if ip == nil || ip.IsUnspecified() {
		if ip.To4() == nil && ip != nil {
			ip = net.IPv6loopback
		} else {
			ip = net.IPv4(127, 0, 0, 1)
		}
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(tcp.Port))
}

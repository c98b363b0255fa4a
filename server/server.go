// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server facade: wires configuration, metrics and control around a TCP
// listener and binds the first free port of a candidate list.

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/control"
	"github.com/momentics/tinyws/transport/tcp"
)

// New builds a stopped Server delivering session events to h.
func New(cfg *control.Config, h api.Handler, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if h == nil {
		return nil, fmt.Errorf("%w: nil handler", api.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err)
	}

	s := &Server{
		cfg:     cfg,
		handler: h,
		log:     control.DiscardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = control.NewMetrics()
	}

	if cfg.Server.UseTLS && s.tlsConfig == nil && cfg.Server.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.CertFile, cfg.Server.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	lopts := []tcp.Option{
		tcp.WithLogger(s.log),
		tcp.WithMetrics(s.metrics),
	}
	if s.tlsConfig != nil {
		lopts = append(lopts, tcp.WithTLSConfig(s.tlsConfig))
	}
	s.listener = tcp.NewListener(tcp.ConfigFrom(cfg), h, lopts...)
	s.control = newControlAdapter(cfg, s.listener)
	return s, nil
}

// Start binds the first port of ports that is free, falling back to the
// configured list when ports is empty, and returns the bound port.
// Port 0 selects an ephemeral port.
func (s *Server) Start(ports []int) (int, error) {
	if len(ports) == 0 {
		ports = s.cfg.Server.Ports
	}

	var bindErrs []error
	for _, port := range ports {
		err := s.listener.Listen(port, s.cfg.Server.MaxConnections, s.cfg.Server.UseTLS)
		if err == nil {
			bound := s.listener.Port()
			s.mu.Lock()
			s.port = bound
			s.mu.Unlock()
			if err := s.startMetrics(); err != nil {
				_ = s.listener.Stop()
				return 0, err
			}
			s.log.Info("server started", "port", bound)
			return bound, nil
		}

		var apiErr *api.Error
		if !errors.As(err, &apiErr) || apiErr.Code != api.ErrCodeBindFailed {
			return 0, err
		}
		s.log.Warn("port unavailable, trying next", "port", port, "error", err)
		bindErrs = append(bindErrs, err)
	}
	return 0, fmt.Errorf("%w %v: %w", api.ErrNoPortAvailable, ports, errors.Join(bindErrs...))
}

// startMetrics serves the Prometheus registry and the debug probes when an
// address is configured.
func (s *Server) startMetrics() error {
	addr := s.cfg.Metrics.Addr
	if addr == "" {
		return nil
	}
	path := s.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics endpoint: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(path, s.metrics.Handler())
	mux.Handle("/debug/state", s.control.debug.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.metricsSrv = srv
	s.metricsAddr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics endpoint failed", "error", err)
		}
	}()
	s.log.Info("metrics endpoint listening", "addr", ln.Addr().String(), "path", path)
	return nil
}

// Stop ends accepting. Running sessions continue until their peers leave.
func (s *Server) Stop() error {
	err := s.listener.Stop()
	s.stopMetrics(context.Background())
	return err
}

// Shutdown stops accepting, closes every session with 1001 and waits for
// them or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.listener.Shutdown(ctx)
	s.stopMetrics(ctx)
	return err
}

func (s *Server) stopMetrics(ctx context.Context) {
	s.mu.Lock()
	srv := s.metricsSrv
	s.metricsSrv, s.metricsAddr = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
}

// Wait blocks until every session goroutine returned.
func (s *Server) Wait() {
	s.listener.Wait()
}

// Port returns the port bound by the last successful Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// MetricsAddr returns the metrics endpoint address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// GetControl exposes runtime config, stats and debug probes.
func (s *Server) GetControl() api.Control {
	return s.control
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *control.Metrics {
	return s.metrics
}

// Listener returns the underlying TCP listener.
func (s *Server) Listener() *tcp.Listener {
	return s.listener
}

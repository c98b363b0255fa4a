// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"crypto/tls"
	"log/slog"

	"github.com/momentics/tinyws/control"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the logger shared by the listener and every session.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics replaces the server's own Prometheus collectors.
func WithMetrics(m *control.Metrics) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTLSConfig serves TLS with c instead of loading the configured
// certificate files. Ignored unless server.use_tls is set.
func WithTLSConfig(c *tls.Config) ServerOption {
	return func(s *Server) {
		s.tlsConfig = c
	}
}

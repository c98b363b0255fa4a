// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for tinyws.
//
// Provides:
//   - TOML configuration with environment overrides and validation
//   - A runtime key/value config store with reload listeners
//   - slog logger construction
//   - Prometheus collectors for listener and session activity
//   - Named debug probes and their JSON dump
package control

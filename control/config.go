// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Server configuration: TOML file, TINYWS_* environment overrides, validation.

package control

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults shared by the listener and sessions.
const (
	DefaultPort              = 8080
	DefaultMaxConnections    = 100
	DefaultKeepAliveInterval = 20 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultMaxMessageSize    = 1 << 20
	DefaultReadBufferSize    = 4096
)

// Duration is a time.Duration that reads and writes as a string ("10s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig controls listening and admission.
type ServerConfig struct {
	// Candidate ports, tried in order until one binds.
	Ports          []int   `toml:"ports"`
	MaxConnections int     `toml:"max_connections"`
	UseTLS         bool    `toml:"use_tls"`
	CertFile       string  `toml:"cert_file"`
	KeyFile        string  `toml:"key_file"`
	AcceptRate     float64 `toml:"accept_rate"` // connections per second, 0 = unlimited
	AcceptBurst    int     `toml:"accept_burst"`
	ReuseAddr      bool    `toml:"reuse_addr"`
	NoDelay        bool    `toml:"no_delay"`
	AcceptCPU      int     `toml:"accept_cpu"` // pin the accept loop's thread, -1 = off
}

// SessionConfig controls per-connection timing and limits.
type SessionConfig struct {
	KeepAliveInterval Duration `toml:"keepalive_interval"`
	ConnectionTimeout Duration `toml:"connection_timeout"`
	HandshakeTimeout  Duration `toml:"handshake_timeout"`
	MaxMessageSize    int64    `toml:"max_message_size"`
	RequireMask       bool     `toml:"require_mask"`
	ReadBufferSize    int      `toml:"read_buffer_size"`
}

// LoggingConfig mirrors the logger options.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
	Path string `toml:"path"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Ports:          []int{DefaultPort},
			MaxConnections: DefaultMaxConnections,
			NoDelay:        true,
			AcceptCPU:      -1,
		},
		Session: SessionConfig{
			KeepAliveInterval: Duration{DefaultKeepAliveInterval},
			ConnectionTimeout: Duration{DefaultConnectionTimeout},
			HandshakeTimeout:  Duration{DefaultHandshakeTimeout},
			MaxMessageSize:    DefaultMaxMessageSize,
			RequireMask:       true,
			ReadBufferSize:    DefaultReadBufferSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TINYWS_PORTS"); v != "" {
		ports, err := ParsePorts(v)
		if err != nil {
			return fmt.Errorf("TINYWS_PORTS: %w", err)
		}
		cfg.Server.Ports = ports
	}
	if v := os.Getenv("TINYWS_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TINYWS_MAX_CONNECTIONS: %w", err)
		}
		cfg.Server.MaxConnections = n
	}
	if v := os.Getenv("TINYWS_ACCEPT_CPU"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TINYWS_ACCEPT_CPU: %w", err)
		}
		cfg.Server.AcceptCPU = n
	}
	if v := os.Getenv("TINYWS_USE_TLS"); v != "" {
		cfg.Server.UseTLS = v == "true" || v == "1"
	}
	if v := os.Getenv("TINYWS_KEEPALIVE_INTERVAL"); v != "" {
		if err := cfg.Session.KeepAliveInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("TINYWS_KEEPALIVE_INTERVAL: %w", err)
		}
	}
	if v := os.Getenv("TINYWS_CONNECTION_TIMEOUT"); v != "" {
		if err := cfg.Session.ConnectionTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("TINYWS_CONNECTION_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("TINYWS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TINYWS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TINYWS_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return nil
}

// ParsePorts parses a comma separated port list such as "8080,8081".
func ParsePorts(s string) ([]int, error) {
	var ports []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
		ports = append(ports, n)
	}
	if len(ports) == 0 {
		return nil, errors.New("empty port list")
	}
	return ports, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Server.Ports) == 0 {
		return errors.New("server.ports must not be empty")
	}
	for _, p := range c.Server.Ports {
		if p < 0 || p > 65535 {
			return fmt.Errorf("server.ports: %d out of range", p)
		}
	}
	if c.Server.MaxConnections <= 0 {
		return errors.New("server.max_connections must be positive")
	}
	if c.Server.AcceptRate < 0 {
		return errors.New("server.accept_rate must not be negative")
	}
	if c.Server.AcceptCPU < -1 {
		return errors.New("server.accept_cpu must be -1 or a CPU index")
	}
	if c.Server.UseTLS && (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return errors.New("server.cert_file and server.key_file must be set together")
	}
	if c.Session.KeepAliveInterval.Duration <= 0 {
		return errors.New("session.keepalive_interval must be positive")
	}
	if c.Session.ConnectionTimeout.Duration <= 0 {
		return errors.New("session.connection_timeout must be positive")
	}
	if c.Session.HandshakeTimeout.Duration <= 0 {
		return errors.New("session.handshake_timeout must be positive")
	}
	if c.Session.MaxMessageSize <= 0 {
		return errors.New("session.max_message_size must be positive")
	}
	if c.Session.ReadBufferSize <= 0 {
		return errors.New("session.read_buffer_size must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// Flatten renders the tunable fields as dotted keys for ConfigStore.
func (c *Config) Flatten() map[string]any {
	return map[string]any{
		"server.max_connections":     c.Server.MaxConnections,
		"server.use_tls":             c.Server.UseTLS,
		"server.accept_rate":         c.Server.AcceptRate,
		"server.accept_cpu":          c.Server.AcceptCPU,
		"session.keepalive_interval": c.Session.KeepAliveInterval.Duration,
		"session.connection_timeout": c.Session.ConnectionTimeout.Duration,
		"session.max_message_size":   c.Session.MaxMessageSize,
		"logging.level":              c.Logging.Level,
	}
}

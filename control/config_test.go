package control_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/tinyws/control"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tinyws.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := control.Load("")
	require.NoError(t, err)
	assert.Equal(t, control.DefaultConfig(), cfg)
	assert.Equal(t, []int{control.DefaultPort}, cfg.Server.Ports)
	assert.Equal(t, 20*time.Second, cfg.Session.KeepAliveInterval.Duration)
	assert.Equal(t, 10*time.Second, cfg.Session.ConnectionTimeout.Duration)
	assert.True(t, cfg.Session.RequireMask)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[server]
ports = [3000, 3001, 8080, 9090]
max_connections = 250
accept_rate = 50.5
accept_burst = 10
accept_cpu = 0

[session]
keepalive_interval = "30s"
connection_timeout = "2s"
max_message_size = 4096

[logging]
level = "debug"
format = "json"

[metrics]
addr = "127.0.0.1:9100"
`)
	cfg, err := control.Load(path)
	require.NoError(t, err)

	assert.Equal(t, []int{3000, 3001, 8080, 9090}, cfg.Server.Ports)
	assert.Equal(t, 250, cfg.Server.MaxConnections)
	assert.Equal(t, 50.5, cfg.Server.AcceptRate)
	assert.Equal(t, 10, cfg.Server.AcceptBurst)
	assert.Equal(t, 0, cfg.Server.AcceptCPU)
	assert.Equal(t, 30*time.Second, cfg.Session.KeepAliveInterval.Duration)
	assert.Equal(t, 2*time.Second, cfg.Session.ConnectionTimeout.Duration)
	assert.EqualValues(t, 4096, cfg.Session.MaxMessageSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)

	// untouched keys keep their defaults
	assert.Equal(t, control.DefaultHandshakeTimeout, cfg.Session.HandshakeTimeout.Duration)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.Server.NoDelay)
}

func TestLoadErrors(t *testing.T) {
	_, err := control.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = control.Load(writeConfig(t, "[server\nports = 1"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = control.Load(writeConfig(t, "[session]\nkeepalive_interval = \"soon\"\n"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = control.Load(writeConfig(t, "[server]\nmax_connections = -1\n"))
	assert.ErrorContains(t, err, "server.max_connections must be positive")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TINYWS_PORTS", "9000, 9001")
	t.Setenv("TINYWS_MAX_CONNECTIONS", "7")
	t.Setenv("TINYWS_USE_TLS", "true")
	t.Setenv("TINYWS_KEEPALIVE_INTERVAL", "1m")
	t.Setenv("TINYWS_CONNECTION_TIMEOUT", "3s")
	t.Setenv("TINYWS_LOG_LEVEL", "warn")
	t.Setenv("TINYWS_LOG_FORMAT", "json")
	t.Setenv("TINYWS_METRICS_ADDR", ":9100")
	t.Setenv("TINYWS_ACCEPT_CPU", "1")

	path := writeConfig(t, "[server]\nmax_connections = 50\n")
	cfg, err := control.Load(path)
	require.NoError(t, err)

	assert.Equal(t, []int{9000, 9001}, cfg.Server.Ports)
	assert.Equal(t, 7, cfg.Server.MaxConnections)
	assert.True(t, cfg.Server.UseTLS)
	assert.Equal(t, time.Minute, cfg.Session.KeepAliveInterval.Duration)
	assert.Equal(t, 3*time.Second, cfg.Session.ConnectionTimeout.Duration)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, 1, cfg.Server.AcceptCPU)
}

func TestEnvOverrideErrors(t *testing.T) {
	cases := map[string]string{
		"TINYWS_PORTS":              "eighty",
		"TINYWS_MAX_CONNECTIONS":    "lots",
		"TINYWS_KEEPALIVE_INTERVAL": "often",
		"TINYWS_CONNECTION_TIMEOUT": "10",
		"TINYWS_ACCEPT_CPU":         "first",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := control.Load("")
			require.Error(t, err)
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestParsePorts(t *testing.T) {
	ports, err := control.ParsePorts("3000,3001, 8080,,9090")
	require.NoError(t, err)
	assert.Equal(t, []int{3000, 3001, 8080, 9090}, ports)

	_, err = control.ParsePorts("")
	assert.Error(t, err)
	_, err = control.ParsePorts("80,http")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*control.Config)
		want   string
	}{
		{"no ports", func(c *control.Config) { c.Server.Ports = nil }, "server.ports must not be empty"},
		{"port range", func(c *control.Config) { c.Server.Ports = []int{70000} }, "out of range"},
		{"max connections", func(c *control.Config) { c.Server.MaxConnections = 0 }, "server.max_connections"},
		{"accept rate", func(c *control.Config) { c.Server.AcceptRate = -1 }, "server.accept_rate"},
		{"accept cpu", func(c *control.Config) { c.Server.AcceptCPU = -2 }, "server.accept_cpu"},
		{"cert without key", func(c *control.Config) {
			c.Server.UseTLS = true
			c.Server.CertFile = "cert.pem"
		}, "server.cert_file and server.key_file"},
		{"keepalive", func(c *control.Config) { c.Session.KeepAliveInterval.Duration = 0 }, "session.keepalive_interval"},
		{"connection timeout", func(c *control.Config) { c.Session.ConnectionTimeout.Duration = -time.Second }, "session.connection_timeout"},
		{"handshake timeout", func(c *control.Config) { c.Session.HandshakeTimeout.Duration = 0 }, "session.handshake_timeout"},
		{"message size", func(c *control.Config) { c.Session.MaxMessageSize = 0 }, "session.max_message_size"},
		{"read buffer", func(c *control.Config) { c.Session.ReadBufferSize = 0 }, "session.read_buffer_size"},
		{"log format", func(c *control.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := control.DefaultConfig()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
	assert.NoError(t, control.DefaultConfig().Validate())
}

func TestDurationText(t *testing.T) {
	var d control.Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("90")))
}

func TestFlatten(t *testing.T) {
	cfg := control.DefaultConfig()
	flat := cfg.Flatten()
	assert.Equal(t, control.DefaultMaxConnections, flat["server.max_connections"])
	assert.Equal(t, control.DefaultKeepAliveInterval, flat["session.keepalive_interval"])
	assert.Equal(t, "info", flat["logging.level"])
	assert.Equal(t, -1, flat["server.accept_cpu"])
}

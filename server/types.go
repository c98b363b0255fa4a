package server

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/control"
	"github.com/momentics/tinyws/transport/tcp"
)

// DefaultConfig returns sensible defaults.
func DefaultConfig() *control.Config {
	return control.DefaultConfig()
}

// Server is the high-level facade encapsulating listener, metrics and control.
type Server struct {
	cfg       *control.Config
	handler   api.Handler
	log       *slog.Logger
	metrics   *control.Metrics
	tlsConfig *tls.Config
	control   *controlAdapter
	listener  *tcp.Listener

	mu          sync.Mutex
	port        int
	metricsSrv  *http.Server
	metricsAddr net.Addr
}

// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for listener and session activity.
// All methods are safe to call on a nil *Metrics.

package control

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "tinyws"

// Rejection reasons used as the "reason" label.
const (
	RejectMaxConnections = "max_connections"
	RejectRateLimit      = "rate_limit"
)

// Close initiators used as the "initiator" label.
const (
	InitiatorPeer  = "peer"
	InitiatorLocal = "local"
)

// Metrics groups all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	handshakes          *prometheus.CounterVec
	framesReceived      *prometheus.CounterVec
	framesSent          *prometheus.CounterVec
	messagesDelivered   prometheus.Counter
	closes              *prometheus.CounterVec
	keepAliveFailures   prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of sessions currently admitted",
		}),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of admitted TCP connections",
		}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections closed at admission",
		}, []string{"reason"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshakes_total",
			Help:      "Upgrade handshakes by result",
		}, []string{"result"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Complete frames dispatched, by opcode",
		}, []string{"opcode"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to clients, by opcode",
		}, []string{"opcode"}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_delivered_total",
			Help:      "Text messages handed to the application",
		}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "closes_total",
			Help:      "Completed close handshakes by initiator and status code",
		}, []string{"initiator", "code"}),
		keepAliveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "keepalive_failures_total",
			Help:      "Sessions closed because no pong arrived in time",
		}),
	}

	m.registry.MustRegister(
		m.connectionsActive,
		m.connectionsAccepted,
		m.connectionsRejected,
		m.handshakes,
		m.framesReceived,
		m.framesSent,
		m.messagesDelivered,
		m.closes,
		m.keepAliveFailures,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for testutil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAccepted counts an admitted connection and bumps the active gauge.
func (m *Metrics) RecordAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

// RecordReleased lowers the active gauge once a session is gone.
func (m *Metrics) RecordReleased() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// RecordRejected counts a connection closed at admission.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

// RecordHandshake counts an upgrade attempt.
func (m *Metrics) RecordHandshake(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// RecordFrameReceived counts a dispatched frame.
func (m *Metrics) RecordFrameReceived(opcode string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(opcode).Inc()
}

// RecordFrameSent counts a written frame.
func (m *Metrics) RecordFrameSent(opcode string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(opcode).Inc()
}

// RecordMessage counts a delivered text message.
func (m *Metrics) RecordMessage() {
	if m == nil {
		return
	}
	m.messagesDelivered.Inc()
}

// RecordClose counts a close handshake.
func (m *Metrics) RecordClose(initiator string, code uint16) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(initiator, strconv.Itoa(int(code))).Inc()
}

// RecordKeepAliveFailure counts a missed pong.
func (m *Metrics) RecordKeepAliveFailure() {
	if m == nil {
		return
	}
	m.keepAliveFailures.Inc()
}

// Package metrics exposes the server's session/byte/retransmit counters as
// real Prometheus instruments, replacing the teacher's hand-rolled atomic
// counters (internal/metrics/metrics.go in the teacher tree) with
// github.com/prometheus/client_golang registered against a private
// registry the server owns (SPEC_FULL.md §5).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics is the counter set a ppcbs process keeps for its own
// lifetime, across every accepted session.
type ServerMetrics struct {
	Registry *prometheus.Registry

	SessionsAccepted prometheus.Counter
	SessionsRejected prometheus.Counter
	ActiveSessions   prometheus.Gauge
	BytesReceived    prometheus.Counter
	Retransmissions  prometheus.Counter
}

// NewServerMetrics builds and registers the counter set. The caller decides
// whether to ever serve Registry over HTTP (see Handler) — the counters
// update regardless, so tests can assert on them without a listener.
func NewServerMetrics() *ServerMetrics {
	reg := prometheus.NewRegistry()
	m := &ServerMetrics{
		Registry: reg,
		SessionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ppcbs",
			Name:      "sessions_accepted_total",
			Help:      "Number of CONN handshakes accepted.",
		}),
		SessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ppcbs",
			Name:      "sessions_rejected_total",
			Help:      "Number of CONN handshakes rejected with ErrProtocol (incompatible protocol_id); CONRJT replies to a foreign CONN are not counted.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppcbs",
			Name:      "active_sessions",
			Help:      "Sessions currently being served (0 or 1; one active session at a time).",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ppcbs",
			Name:      "bytes_received_total",
			Help:      "Payload bytes accepted across all sessions.",
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ppcbs",
			Name:      "retransmissions_total",
			Help:      "CONACC/ACC frames resent while waiting out a UDPR timeout.",
		}),
	}
	reg.MustRegister(m.SessionsAccepted, m.SessionsRejected, m.ActiveSessions, m.BytesReceived, m.Retransmissions)
	return m
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

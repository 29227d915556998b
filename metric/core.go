// Package metric collects connectivity metrics: a prometheus registry with
// the gateway-level counters, and the per-connection counter model backing
// metric retrieval commands.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the gateway-level prometheus metrics.
type Metrics struct {
	ConnectionStatus   *prometheus.GaugeVec
	MessagesConsumed   *prometheus.CounterVec
	MessagesMapped     *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	MessagesFiltered   *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	MappingFailures    *prometheus.CounterVec
	ConnectAttempts    *prometheus.CounterVec
	ConnectionFailures *prometheus.CounterVec
}

// NewMetrics creates the gateway metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "connectivity",
				Subsystem: "connection",
				Name:      "live_status",
				Help:      "Connection live status (0=disconnected, 1=connecting, 2=connected, 3=disconnecting, 4=failed)",
			},
			[]string{"connection"},
		),

		MessagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connectivity",
				Subsystem: "inbound",
				Name:      "consumed_total",
				Help:      "Total number of wire messages consumed from sources",
			},
			[]string{"connection", "address"},
		),

		MessagesMapped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connectivity",
				Subsystem: "mapping",
				Name:      "mapped_total",
				Help:      "Total number of successful mapping outcomes",
			},
			[]string{"connection", "direction"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connectivity",
				Subsystem: "mapping",
				Name:      "dropped_total",
				Help:      "Total number of dropped mapping outcomes",
			},
			[]string{"connection", "direction"},
		),

		MessagesFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connectivity",
				Subsystem: "outbound",
				Name:      "filtered_total",
				Help:      "Total number of signals excluded by target filters",
			},
			[]string{"connection"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connectivity",
				Subsystem: "outbound",
				Name:      "published_total",
				Help:      "Total number of wire messages published to targets",
			},
			[]string{"connection", "address"},
		),

		MappingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connectivity",
				Subsystem: "mapping",
				Name:      "failures_total",
				Help:      "Total number of mapper error outcomes",
			},
			[]string{"connection", "direction", "mapper"},
		),

		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connectivity",
				Subsystem: "connection",
				Name:      "connect_attempts_total",
				Help:      "Total number of broker connect attempts",
			},
			[]string{"connection"},
		),

		ConnectionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connectivity",
				Subsystem: "connection",
				Name:      "failures_total",
				Help:      "Total number of connection failures by class",
			},
			[]string{"connection", "class"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionStatus,
		m.MessagesConsumed,
		m.MessagesMapped,
		m.MessagesDropped,
		m.MessagesFiltered,
		m.MessagesPublished,
		m.MappingFailures,
		m.ConnectAttempts,
		m.ConnectionFailures,
	}
}

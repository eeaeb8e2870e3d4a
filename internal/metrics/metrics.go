// Package metrics exposes the runtime's Prometheus gauges and counters:
// completion-engine queue depth, packet throughput by transport, and memory
// accountant usage. Collectors are registered against a private
// registry rather than the global default so a process can host more
// than one engine instance without metric name collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gauges/counters one engine instance reports.
type Registry struct {
	reg *prometheus.Registry

	ConnectedClients   prometheus.Gauge
	CompletionQueueLen prometheus.Gauge
	PacketsReceived    *prometheus.CounterVec
	PacketsSent        *prometheus.CounterVec
	PacketsDropped     *prometheus.CounterVec
	AccountantBytes    *prometheus.GaugeVec
	RecyclerPoolLen    *prometheus.GaugeVec
	HandshakeOutcomes  *prometheus.CounterVec
}

// NewRegistry builds and registers every metric under the given
// namespace (e.g. "netcore").
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected_clients",
			Help: "Number of clients currently in the CONNECTED state.",
		}),
		CompletionQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "completion_queue_length",
			Help: "Completions currently queued awaiting a worker.",
		}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_received_total",
			Help: "Packets delivered to a mode's consumer, by transport.",
		}, []string{"transport"}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_sent_total",
			Help: "Packets handed to the kernel for send, by transport.",
		}, []string{"transport"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_dropped_total",
			Help: "Packets dropped before delivery, by reason.",
		}, []string{"reason"}),
		AccountantBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "accountant_bytes_in_flight",
			Help: "Current value of a named memory accountant.",
		}, []string{"accountant"}),
		RecyclerPoolLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "recycler_pool_length",
			Help: "Idle shells currently held by a named recycler.",
		}, []string{"recycler"}),
		HandshakeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_outcomes_total",
			Help: "Client handshake completions, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.ConnectedClients,
		m.CompletionQueueLen,
		m.PacketsReceived,
		m.PacketsSent,
		m.PacketsDropped,
		m.AccountantBytes,
		m.RecyclerPoolLen,
		m.HandshakeOutcomes,
	)
	return m
}

// Handler returns an http.Handler serving this registry in the
// Prometheus text exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Package ftpmetrics exposes Prometheus instrumentation for sessions,
// transferred bytes, and recovery-engine retransmissions.
package ftpmetrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the counters and gauges shared by the client and
// server engines. The teacher's hand-rolled, mutex-protected
// TransferMetrics struct is replaced here by standard Prometheus
// collectors, which are already safe for concurrent use.
type Registry struct {
	reg *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	BytesTransferred *prometheus.CounterVec
	Retransmissions  *prometheus.CounterVec
	WindowResets     *prometheus.CounterVec
	SegmentLatency   prometheus.Histogram
}

// NewRegistry builds a Registry with a fresh prometheus.Registry, so
// tests can instantiate independent instances without touching the
// global default registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "udpftp",
			Name:      "sessions_active",
			Help:      "Number of sessions currently in progress.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udpftp",
			Name:      "sessions_total",
			Help:      "Sessions completed, labeled by protocol, operation, and outcome.",
		}, []string{"protocol", "operation", "outcome"}),
		BytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udpftp",
			Name:      "bytes_transferred_total",
			Help:      "Application bytes transferred, labeled by direction.",
		}, []string{"direction"}),
		Retransmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udpftp",
			Name:      "retransmissions_total",
			Help:      "Packet-level retransmissions, labeled by protocol.",
		}, []string{"protocol"}),
		WindowResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udpftp",
			Name:      "gbn_window_resets_total",
			Help:      "GBN window rewinds triggered by a window-retransmission timeout.",
		}, []string{"protocol"}),
		SegmentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "udpftp",
			Name:      "segment_round_trip_seconds",
			Help:      "Time between sending a data segment and receiving its acknowledgement.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.SessionsActive,
		r.SessionsTotal,
		r.BytesTransferred,
		r.Retransmissions,
		r.WindowResets,
		r.SegmentLatency,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Registry for wiring into
// promhttp.HandlerFor by the server CLI's optional --metrics-addr.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

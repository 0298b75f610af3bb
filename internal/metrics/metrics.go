// Package metrics exposes sweep, probe and delivery counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sslmon"

// Metrics holds the collectors updated during sweeps
type Metrics struct {
	Probes         *prometheus.CounterVec
	ProbesInFlight prometheus.Gauge
	Deliveries     *prometheus.CounterVec
	Pruned         prometheus.Counter
	Sweeps         *prometheus.CounterVec
	SweepDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "TLS probes by result (success or failure kind).",
		}, []string{"result"}),
		ProbesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probes_in_flight",
			Help:      "TLS probes currently running.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Reminder send attempts by tier and status.",
		}, []string{"tier", "status"}),
		Pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_log_pruned_total",
			Help:      "Failed delivery log entries removed by retention.",
		}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Sweeps by outcome (completed, failed, skipped).",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a full refresh and notify sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	reg.MustRegister(m.Probes, m.ProbesInFlight, m.Deliveries, m.Pruned, m.Sweeps, m.SweepDuration)
	return m
}

// NewUnregistered returns collectors bound to a private registry, for tests and tools
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

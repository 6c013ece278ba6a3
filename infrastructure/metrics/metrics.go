// Package metrics exposes Prometheus collectors for the work pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline collectors. One instance per process,
// registered on a single registry at construction.
type Metrics struct {
	QueueDepth     *prometheus.GaugeVec
	EventsAppended *prometheus.CounterVec
	Processed      *prometheus.CounterVec
	Failed         *prometheus.CounterVec
	ClaimLatency   *prometheus.HistogramVec
	HookDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New builds and registers the pipeline collectors.
func New() *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "osa_outbox_queue_depth",
			Help: "Pending deliveries per consumer group",
		}, []string{"consumer_group"}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_outbox_events_appended_total",
			Help: "Events appended to the outbox by type",
		}, []string{"event_type"}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_worker_events_processed_total",
			Help: "Events processed successfully per consumer group",
		}, []string{"consumer_group"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osa_worker_events_failed_total",
			Help: "Event processing failures per consumer group",
		}, []string{"consumer_group"}),
		ClaimLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osa_outbox_claim_seconds",
			Help:    "Latency of outbox claim queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"consumer_group"}),
		HookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osa_hook_duration_seconds",
			Help:    "Wall-clock duration of hook container runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"hook"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.QueueDepth,
		m.EventsAppended,
		m.Processed,
		m.Failed,
		m.ClaimLatency,
		m.HookDuration,
	)
	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Package metrics exposes the process-local counters and gauges the
// Session Supervisor and Checkpoint Manager update on every state
// transition, backed by github.com/prometheus/client_golang the way the
// teacher repository instruments its own services.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the metrics this runtime exposes. It is constructed once
// and passed explicitly to components instead of relying on the default
// global prometheus registerer.
type Registry struct {
	reg *prometheus.Registry

	SessionsCreated   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionsCancelled prometheus.Counter
	SessionsTimedOut  prometheus.Counter
	RecordsEmitted    prometheus.Counter
	RecordsDropped    prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
	BlobsStored       prometheus.Counter
	BlobsFreedByGC    prometheus.Counter
	BytesFreedByGC    prometheus.Counter
}

// New builds and registers the metric set against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg:               reg,
		SessionsCreated:   prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_sessions_created_total"}),
		SessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_sessions_completed_total"}),
		SessionsFailed:    prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_sessions_failed_total"}),
		SessionsCancelled: prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_sessions_cancelled_total"}),
		SessionsTimedOut:  prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_sessions_timed_out_total"}),
		RecordsEmitted:    prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_stream_records_emitted_total"}),
		RecordsDropped:    prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_stream_records_dropped_total"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "corvid_session_queue_depth"},
			[]string{"session_id"}),
		BlobsStored:    prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_blobs_stored_total"}),
		BlobsFreedByGC: prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_blobs_freed_total"}),
		BytesFreedByGC: prometheus.NewCounter(prometheus.CounterOpts{Name: "corvid_bytes_freed_total"}),
	}
	reg.MustRegister(r.SessionsCreated, r.SessionsCompleted, r.SessionsFailed, r.SessionsCancelled,
		r.SessionsTimedOut, r.RecordsEmitted, r.RecordsDropped, r.QueueDepth,
		r.BlobsStored, r.BlobsFreedByGC, r.BytesFreedByGC)
	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler,
// which lives in the cmd entrypoint since HTTP transport is an external
// collaborator here.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Nop returns a Registry whose counters and gauges are live but registered
// against a private, never-gathered prometheus.Registry, so components can
// record against it unconditionally in tests that don't wire metrics.
func Nop() *Registry { return New() }

// OrNop returns r, or a fresh Nop Registry if r is nil, the same nil-safety
// convention internal/logging and internal/analytics use so every component
// can record metrics without a nil check at each call site.
func OrNop(r *Registry) *Registry {
	if r == nil {
		return Nop()
	}
	return r
}

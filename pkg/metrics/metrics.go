// Package metrics exposes the prover's Prometheus surface: current epoch
// and sync height, batch/proof timing, and per-operation skip counts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the prover's Prometheus collectors, registered against a
// private prometheus.Registry so metrics tests never collide with the
// global default registry.
type Registry struct {
	registry *prometheus.Registry

	epochHeight       prometheus.Gauge
	syncHeight        prometheus.Gauge
	batchSize         prometheus.Histogram
	proofDuration     prometheus.Histogram
	operationsSkipped prometheus.Counter
}

// New creates and registers the prover's metric collectors.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		epochHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_epoch_height",
			Help: "Current persisted epoch.",
		}),
		syncHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_sync_height",
			Help: "Current last-synced DA height.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prism_batch_size",
			Help:    "Size of each operations batch submitted to DA.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		proofDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prism_proof_duration_seconds",
			Help:    "Wall time of each epoch proof generation call.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		operationsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prism_operations_skipped_total",
			Help: "Per-operation apply failures logged and skipped during epoch replay/finalization.",
		}),
	}

	r.registry.MustRegister(r.epochHeight, r.syncHeight, r.batchSize, r.proofDuration, r.operationsSkipped)
	return r
}

// Gatherer exposes the underlying registry for the HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// SetEpochHeight records the current persisted epoch.
func (r *Registry) SetEpochHeight(epoch uint64) {
	if r == nil {
		return
	}
	r.epochHeight.Set(float64(epoch))
}

// SetSyncHeight records the current last-synced DA height.
func (r *Registry) SetSyncHeight(height uint64) {
	if r == nil {
		return
	}
	r.syncHeight.Set(float64(height))
}

// ObserveBatchSize records the size of a batch submitted to DA.
func (r *Registry) ObserveBatchSize(size int) {
	if r == nil {
		return
	}
	r.batchSize.Observe(float64(size))
}

// ObserveProofDuration records how long an epoch proof generation call took.
func (r *Registry) ObserveProofDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.proofDuration.Observe(d.Seconds())
}

// IncOperationsSkipped increments the logged-and-skipped operation counter.
func (r *Registry) IncOperationsSkipped() {
	if r == nil {
		return
	}
	r.operationsSkipped.Inc()
}

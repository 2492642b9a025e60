// Package observe wires the service's Prometheus metrics and exposes the
// admin status snapshot, grounded in the teacher's health.Handler (a
// registry with a mutex wrapping named checks) generalized into a
// registry wrapping named counters/gauges instead.
package observe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unalkalkan/pronounce/internal/jobstore"
)

// Metrics holds every Prometheus collector the service reports on
// /v1/metrics.
type Metrics struct {
	registry *prometheus.Registry

	JobsAdmitted    prometheus.Counter
	JobsCanceled    prometheus.Counter
	SegmentsSynced  *prometheus.CounterVec // labeled by outcome: ready, error
	SynthDuration   prometheus.Histogram
	EncodeDuration  prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	MergeLockWaits  prometheus.Counter
	ActiveJobsGauge prometheus.Gauge
	QueueLenGauge   prometheus.Gauge
}

// NewMetrics builds a Metrics on a fresh, isolated registry (rather than
// prometheus.DefaultRegisterer) so tests and multiple server instances in
// one process never collide on collector names.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "px_jobs_admitted_total",
			Help: "Total jobs accepted at admission.",
		}),
		JobsCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "px_jobs_canceled_total",
			Help: "Total jobs canceled by clients.",
		}),
		SegmentsSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "px_segments_synthesized_total",
			Help: "Total segments committed, labeled by outcome.",
		}, []string{"outcome"}),
		SynthDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "px_synth_duration_seconds",
			Help:    "Per-segment synthesis call duration.",
			Buckets: prometheus.DefBuckets,
		}),
		EncodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "px_encode_duration_seconds",
			Help:    "Per-segment codec encode duration.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "px_cache_hits_total",
			Help: "Segment cache hits at admission or claim time.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "px_cache_misses_total",
			Help: "Segment cache misses at admission or claim time.",
		}),
		MergeLockWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "px_merge_lock_contention_total",
			Help: "Times a merged-audio request gave up after its merge-lock wait budget ran out.",
		}),
		ActiveJobsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "px_active_jobs",
			Help: "Jobs currently admitted and not yet terminal.",
		}),
		QueueLenGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "px_queue_length",
			Help: "Segments currently queued for a worker claim.",
		}),
	}
}

// Handler returns the /v1/metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSegmentOutcome increments the labeled segment-outcome counter.
func (m *Metrics) RecordSegmentOutcome(outcome string) {
	m.SegmentsSynced.WithLabelValues(outcome).Inc()
}

// StatusResponse is the /v1/admin/status body, spec.md §6's exact field
// set: no PII, no request text.
type StatusResponse struct {
	WorkersOnline       int            `json:"workers_online"`
	QueueLen            int            `json:"queue_len"`
	ActiveJobs          int            `json:"active_jobs"`
	RetryCounts         map[string]int `json:"retry_counts"`
	FallbackModelUsage  map[string]int `json:"fallback_model_usage"`
	MergeLockContention int            `json:"merge_lock_contention"`
}

// StatusHandler builds the /v1/admin/status handler. workers_online is
// the workersOnline argument; every other field is read from the job
// store's snapshot on each request. Neither store populates
// fallback_model_usage (it is always empty), and the Redis store always
// reports merge_lock_contention as 0.
func StatusHandler(store jobstore.Store, workersOnline int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		snap, err := store.StatusSnapshot(ctx)
		if err != nil {
			http.Error(w, "status snapshot unavailable", http.StatusInternalServerError)
			return
		}

		resp := StatusResponse{
			WorkersOnline:       workersOnline,
			QueueLen:            snap.QueueLen,
			ActiveJobs:          snap.ActiveJobs,
			RetryCounts:         snap.RetryCounts,
			FallbackModelUsage:  snap.FallbackModelUsage,
			MergeLockContention: snap.MergeLockContention,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

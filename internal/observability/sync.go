package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics instruments the offline queue sync engine. A nil *SyncMetrics
// is valid and records nothing.
type SyncMetrics struct {
	passes      *prometheus.CounterVec
	passSeconds prometheus.Histogram
	submissions *prometheus.CounterVec
	pending     *prometheus.GaugeVec
}

// NewSyncMetrics registers the sync collectors on registerer.
func NewSyncMetrics(registerer prometheus.Registerer) *SyncMetrics {
	passes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pos_sync_passes_total",
		Help: "Sync passes by outcome (completed, blocked, offline, skipped, error).",
	}, []string{"outcome"})
	passSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "odyssey_pos_sync_pass_duration_seconds",
		Help:    "Wall time of sync passes that acquired the store lock.",
		Buckets: prometheus.DefBuckets,
	})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pos_sync_submissions_total",
		Help: "Queued sale submissions by result (created, duplicate, retryable, rejected).",
	}, []string{"result"})
	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_pos_queue_pending",
		Help: "Sales waiting in the offline queue per store.",
	}, []string{"store"})
	registerer.MustRegister(passes, passSeconds, submissions, pending)
	return &SyncMetrics{passes: passes, passSeconds: passSeconds, submissions: submissions, pending: pending}
}

// ObservePass records a finished pass.
func (m *SyncMetrics) ObservePass(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.passSeconds.Observe(elapsed.Seconds())
	}
}

// Submission counts one submission result.
func (m *SyncMetrics) Submission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

// SetPending publishes the queue depth of a store.
func (m *SyncMetrics) SetPending(storeID string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(storeID).Set(float64(n))
}

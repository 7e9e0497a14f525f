package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reconcileTransactions *prometheus.CounterVec
	reconcileDuration     prometheus.Histogram
	submissions           *prometheus.CounterVec
	cacheMutationFailures *prometheus.CounterVec
	confirmFallbacks      prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconcileTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beefchain",
			Name:      "reconcile_transactions_total",
			Help:      "Pending cache transactions examined by the reconciler, by outcome.",
		}, []string{"outcome"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beefchain",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of one reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beefchain",
			Name:      "ledger_submissions_total",
			Help:      "Ledger submissions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		cacheMutationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beefchain",
			Name:      "cache_mutation_failures_total",
			Help:      "Cache mutations that failed and were skipped.",
		}, []string{"mutation"}),
		confirmFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beefchain",
			Name:      "confirmation_fallbacks_total",
			Help:      "Confirmation waits that degraded to the fixed delay.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.reconcileTransactions,
			m.reconcileDuration,
			m.submissions,
			m.cacheMutationFailures,
			m.confirmFallbacks,
		)
	}
	return m
}

func (m *Metrics) observeReconcile(succeeded, corrected, failed, unchanged int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconcileTransactions.WithLabelValues("succeeded").Add(float64(succeeded))
	m.reconcileTransactions.WithLabelValues("corrected").Add(float64(corrected))
	m.reconcileTransactions.WithLabelValues("failed").Add(float64(failed))
	m.reconcileTransactions.WithLabelValues("unchanged").Add(float64(unchanged))
	m.reconcileDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeSubmission(operation, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) cacheMutationFailed(mutation string) {
	if m == nil {
		return
	}
	m.cacheMutationFailures.WithLabelValues(mutation).Inc()
}

func (m *Metrics) confirmFallback() {
	if m == nil {
		return
	}
	m.confirmFallbacks.Inc()
}

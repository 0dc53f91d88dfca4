package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы одной попытки публикации, они же значения label result.
const (
	resultPublished = "published"
	resultRetry     = "retry"
	resultFailed    = "failed"
	resultDLQFailed = "dlq_failed"
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "outbox",
		Name:      "publish_attempts_total",
		Help:      "Outbox publish attempts by owning service and result.",
	}, []string{"source", "result"})
	pendingRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paycore",
		Subsystem: "outbox",
		Name:      "pending_records",
		Help:      "Records waiting for publication.",
	}, []string{"source"})
	failedRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paycore",
		Subsystem: "outbox",
		Name:      "failed_records",
		Help:      "Records that exhausted retries and wait for a manual requeue.",
	}, []string{"source"})
	oldestPendingAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "paycore",
		Subsystem: "outbox",
		Name:      "oldest_pending_age_seconds",
		Help:      "Age of the oldest pending record.",
	}, []string{"source"})
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "outbox",
		Name:      "cleanup_runs_total",
		Help:      "Cleanup runs by owning service and result.",
	}, []string{"source", "result"})
	cleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "outbox",
		Name:      "cleanup_deleted_total",
		Help:      "Published records removed after retention.",
	}, []string{"source"})
)

// sourceMetrics: коллекторы, привязанные к одному outbox.
type sourceMetrics struct {
	attempts       *prometheus.CounterVec
	pending        prometheus.Gauge
	failed         prometheus.Gauge
	oldestAge      prometheus.Gauge
	cleanupRuns    *prometheus.CounterVec
	cleanupDeleted prometheus.Counter
}

func metricsFor(source string) sourceMetrics {
	labels := prometheus.Labels{"source": source}
	return sourceMetrics{
		attempts:       publishAttempts.MustCurryWith(labels),
		pending:        pendingRecords.With(labels),
		failed:         failedRecords.With(labels),
		oldestAge:      oldestPendingAge.With(labels),
		cleanupRuns:    cleanupRuns.MustCurryWith(labels),
		cleanupDeleted: cleanupDeleted.With(labels),
	}
}

func (m sourceMetrics) attempt(result string) {
	m.attempts.WithLabelValues(result).Inc()
}

func (m sourceMetrics) backlog(pending, failed int, oldest time.Time, now time.Time) {
	m.pending.Set(float64(pending))
	m.failed.Set(float64(failed))

	age := 0.0
	if pending > 0 && !oldest.IsZero() {
		age = max(now.Sub(oldest).Seconds(), 0)
	}
	m.oldestAge.Set(age)
}

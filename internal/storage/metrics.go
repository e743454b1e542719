package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal tracks storage writes by operation and outcome.
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_storage_writes_total",
			Help: "Total number of storage write operations",
		},
		[]string{"operation", "status"},
	)

	// WriteDuration tracks storage write latency by operation.
	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "updown_storage_write_duration_seconds",
			Help:    "Storage write latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	// AttemptsWritten tracks attempt rows written by transition.
	AttemptsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_storage_attempts_written_total",
			Help: "Total attempt rows written, by transition",
		},
		[]string{"transition"},
	)

	// GuardRejectionsTotal tracks writes rejected by the open breaker.
	GuardRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_storage_guard_rejections_total",
		Help: "Total writes rejected while the write breaker was open",
	})
)

// writeTimer reports one operation's duration and outcome.
type writeTimer struct {
	operation string
	start     time.Time
	failed    bool
}

func startWriteTimer(operation string) *writeTimer {
	return &writeTimer{operation: operation, start: time.Now()}
}

func (t *writeTimer) fail() {
	t.failed = true
}

func (t *writeTimer) done() {
	WriteDuration.WithLabelValues(t.operation).Observe(time.Since(t.start).Seconds())
	status := "success"
	if t.failed {
		status = "error"
	}
	WritesTotal.WithLabelValues(t.operation, status).Inc()
}

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal tracks measurement cycles by result: ok, skipped (invalid
	// snapshot) or feed_gap.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_monitor_cycles_total",
			Help: "Total number of measurement cycles, by result",
		},
		[]string{"result"},
	)

	// CycleDuration tracks wall time per cycle including the storage flush.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_monitor_cycle_duration_seconds",
		Help:    "Measurement cycle duration including storage flush",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	// MarketsCompleted tracks finished markets by completion reason:
	// settlement or shutdown.
	MarketsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_monitor_markets_completed_total",
			Help: "Total number of markets monitored to completion",
		},
		[]string{"asset", "reason"},
	)

	// AnomaliesTotal tracks cycles where any evaluator flagged a reference
	// price anomaly.
	AnomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_monitor_anomalies_total",
		Help: "Total number of anomalous cycles across all markets",
	})
)

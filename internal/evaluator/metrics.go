package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsCreatedTotal tracks new attempts by first-leg side.
	AttemptsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_evaluator_attempts_created_total",
			Help: "Total number of attempts created",
		},
		[]string{"side"},
	)

	// AttemptsCompletedTotal tracks terminal transitions by outcome.
	AttemptsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_evaluator_attempts_completed_total",
			Help: "Total number of attempts completed, by outcome",
		},
		[]string{"outcome"},
	)

	// CyclesSkippedTotal tracks cycles skipped on invalid snapshots.
	CyclesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_evaluator_cycles_skipped_total",
		Help: "Total number of cycles skipped due to invalid snapshots",
	})

	// ReferenceAnomaliesTotal tracks cycles where the reference price sum
	// drifted past the configured deviation limit.
	ReferenceAnomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_evaluator_reference_anomalies_total",
		Help: "Total number of cycles flagged for reference price sum anomalies",
	})

	// ConstraintViolationsTotal tracks clamped opposite-max computations.
	ConstraintViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_evaluator_constraint_violations_total",
			Help: "Total number of clamped opposite-max constraint violations",
		},
		[]string{"kind"},
	)

	// TimeToPairSeconds tracks how long paired attempts took to complete.
	TimeToPairSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_evaluator_time_to_pair_seconds",
		Help:    "Time from first-leg trigger to pairing",
		Buckets: []float64{5, 10, 20, 30, 60, 120, 180, 300, 450, 600, 900},
	})

	// ClosestApproachPoints tracks the final approach distance of attempts
	// that never paired.
	ClosestApproachPoints = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_evaluator_closest_approach_points",
		Help:    "Final distance to the opposite trigger for unpaired attempts",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
	})

	// ActiveAttempts tracks currently active attempts per asset and set.
	ActiveAttempts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "updown_evaluator_active_attempts",
			Help: "Number of currently active attempts",
		},
		[]string{"asset", "parameter_set"},
	)
)

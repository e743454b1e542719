package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState tracks the breaker state (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_storage_breaker_state",
		Help: "Storage write breaker state (0=closed, 1=open, 2=half-open)",
	})

	// BreakerConsecutiveFailures tracks the current failure streak.
	BreakerConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_storage_breaker_consecutive_failures",
		Help: "Current streak of consecutive storage write failures",
	})

	// BreakerTripsTotal tracks how many times the breaker opened.
	BreakerTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_storage_breaker_trips_total",
		Help: "Total number of times the storage write breaker opened",
	})

	// BreakerProbesTotal tracks half-open probe attempts.
	BreakerProbesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_storage_breaker_probes_total",
		Help: "Total number of half-open probe writes attempted",
	})

	// BreakerRejectionsTotal tracks writes rejected while the breaker is open.
	BreakerRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_storage_breaker_rejections_total",
		Help: "Total number of storage writes rejected by the open breaker",
	})
)

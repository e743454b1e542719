package books

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal tracks book updates by event type.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_books_updates_total",
			Help: "Total number of book updates",
		},
		[]string{"event_type"},
	)

	// TokensTracked tracks the number of token books held in memory.
	TokensTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_books_tokens_tracked",
		Help: "Number of token books tracked in memory",
	})

	// UpdateProcessingDuration tracks time spent applying one feed message.
	UpdateProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_books_update_processing_seconds",
		Help:    "Time spent applying a single feed message",
		Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15),
	})

	// ParseErrorsTotal tracks feed messages that failed to apply.
	ParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_books_parse_errors_total",
		Help: "Total number of feed messages that failed to apply",
	})
)

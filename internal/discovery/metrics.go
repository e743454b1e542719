package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks Gamma API requests by HTTP status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_discovery_requests_total",
			Help: "Total number of Gamma API requests",
		},
		[]string{"status"},
	)

	// RequestDuration tracks Gamma API request latency.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_discovery_request_duration_seconds",
		Help:    "Duration of Gamma API requests",
		Buckets: prometheus.DefBuckets,
	})

	// MarketsFoundTotal tracks resolved windows by asset and lookup method.
	MarketsFoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_discovery_markets_found_total",
			Help: "Total number of windows resolved, by lookup method",
		},
		[]string{"asset", "method"},
	)

	// CacheHitsTotal tracks slug lookups served from the cache.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_discovery_cache_hits_total",
		Help: "Total number of slug lookups served from cache",
	})
)

package assets

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiscoveryRetriesTotal tracks discovery polls that found no window yet.
	DiscoveryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_asset_discovery_retries_total",
			Help: "Total number of discovery polls without a resolved window",
		},
		[]string{"asset"},
	)

	// MonitorFailuresTotal tracks windows abandoned on a pipeline error.
	MonitorFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_asset_monitor_failures_total",
			Help: "Total number of windows abandoned due to monitoring errors",
		},
		[]string{"asset"},
	)
)

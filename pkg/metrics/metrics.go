package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authhec_cycles_total",
			Help: "Total number of collection cycles by outcome",
		},
		[]string{"integration", "outcome"},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authhec_cycle_duration_seconds",
			Help:    "Duration of collection cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"integration"},
	)

	// Event metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authhec_events_total",
			Help: "Total number of events by pipeline stage",
		},
		[]string{"integration", "stage"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authhec_fetch_errors_total",
			Help: "Total number of fetch errors by kind",
		},
		[]string{"integration", "kind"},
	)

	ForwardRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authhec_forward_retries_total",
			Help: "Total number of batch delivery retries",
		},
		[]string{"integration"},
	)

	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authhec_last_success_timestamp_seconds",
			Help: "Unix time of the last successful collection cycle",
		},
		[]string{"integration"},
	)
)

// Event stages
const (
	StageFetched   = "fetched"
	StageDropped   = "dropped"
	StageForwarded = "forwarded"
	StageRetried   = "retried"
	StageFailed    = "failed"
	StageArchived  = "archived"
)

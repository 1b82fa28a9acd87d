package pool

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stratus-tools/paceline/internal/model"
)

var (
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paceline_pool_active_workers",
			Help: "Number of work items currently executing.",
		},
	)

	concurrencyLimit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paceline_pool_concurrency_limit",
			Help: "Live concurrency limit as adjusted by the throttle controller.",
		},
	)

	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paceline_pool_items_total",
			Help: "Total number of work items processed, by outcome.",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paceline_pool_run_duration_seconds",
			Help:    "Wall-clock duration of whole pool runs, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(concurrencyLimit)
	prometheus.MustRegister(itemsTotal)
	prometheus.MustRegister(runDuration)

	// Pre-initialize status labels so they appear in /metrics with value 0
	// from startup, rather than only after first observation.
	for _, st := range []string{model.StatusPassed, model.StatusFailed, model.StatusSkipped, model.StatusError} {
		itemsTotal.WithLabelValues(st)
	}
}

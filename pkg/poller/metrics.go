package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eon_poll_cycles_total",
		Help: "Total poll cycles by result",
	}, []string{"result"})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eon_poll_duration_seconds",
		Help:    "Poll cycle duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	contractsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eon_contracts_tracked",
		Help: "Account contracts polled in the last cycle",
	})

	snapshotFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eon_snapshot_fallbacks_total",
		Help: "Total fetches answered from a snapshot, by resource",
	}, []string{"resource"})
)

// Cycle results.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks snapshot hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eon_cache_hits_total",
			Help: "Total number of snapshot cache hits",
		},
	)

	// CacheMisses tracks snapshot misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eon_cache_misses_total",
			Help: "Total number of snapshot cache misses",
		},
	)

	// CacheWrites tracks snapshots written
	CacheWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eon_cache_writes_total",
			Help: "Total number of snapshots written",
		},
	)

	// CacheEntryBytes tracks the size of the last snapshot written per resource
	CacheEntryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eon_cache_last_write_bytes",
			Help: "Size in bytes of the last snapshot written, by resource",
		},
		[]string{"resource"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eon_cache_errors_total",
			Help: "Total number of snapshot cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "touch", "scan"
	)
)

// Package metrics provides the Prometheus registry and handler for the E.ON poller.
// All metrics are defined in their respective packages (client, pagination,
// cache, health, poller) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the poller.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - eon_requests_total{resource, status} (Counter): Requests by resource and HTTP status
//   - eon_request_duration_seconds{resource} (Histogram): Request duration by resource
//   - eon_errors_total{class} (Counter): Errors by class (network, auth, client, server)
//
// Session Metrics (pkg/client):
//   - eon_logins_total{result} (Counter): Login attempts by result (success, rejected, error)
//   - eon_reauth_total{result} (Counter): 401 re-authentications (recovered, persistent, login_failed)
//
// Pagination Metrics (pkg/pagination):
//   - eon_pages_fetched_total (Counter): List pages fetched
//   - eon_pagination_aborts_total{reason} (Counter): Walks stopped early (auth, status, decode, limit)
//
// Snapshot Metrics (pkg/cache):
//   - eon_cache_hits_total (Counter): Snapshot hits
//   - eon_cache_misses_total (Counter): Snapshot misses
//   - eon_cache_writes_total (Counter): Snapshots written
//   - eon_cache_last_write_bytes{resource} (Gauge): Size of the last snapshot per resource
//   - eon_cache_errors_total{operation} (Counter): Snapshot store errors
//
// Health Metrics (pkg/health):
//   - eon_resource_consecutive_failures{account_contract, resource} (Gauge): Failures since last success
//   - eon_resource_recoveries_total{account_contract, resource} (Counter): Recoveries after failures
//
// Poller Metrics (pkg/poller):
//   - eon_poll_cycles_total{result} (Counter): Poll cycles by result (ok, partial, failed)
//   - eon_poll_duration_seconds (Histogram): Poll cycle duration
//   - eon_contracts_tracked (Gauge): Account contracts in the last cycle
//   - eon_snapshot_fallbacks_total{resource} (Counter): Fetches answered from a snapshot
//
// Publishing Metrics (pkg/publish):
//   - eon_mqtt_publish_total{result} (Counter): MQTT publishes (success, error, timeout, disconnected)
//
// Submission Metrics (pkg/readings):
//   - eon_readings_submitted_total{result} (Counter): Meter readings sent (accepted, rejected)
//
// Example Prometheus Queries:
//
//   # Persistent auth failures
//   increase(eon_reauth_total{result="persistent"}[1h]) > 0
//
//   # Resources down
//   eon_resource_consecutive_failures >= 3
//
//   # Request Error Rate
//   rate(eon_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(eon_request_duration_seconds_bucket[5m]))

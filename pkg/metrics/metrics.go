// Package metrics exposes the Prometheus registry shared by the Jira client.
// Metrics are defined in their respective packages (client, cache, ratelimit,
// search) to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the Jira client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

var buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "jira_search_client_build_info",
	Help: "Build information, always 1",
}, []string{"version", "search_version"})

// SetBuildInfo records the running version and the resolved search protocol.
func SetBuildInfo(version, searchVersion string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, searchVersion).Set(1)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Search Metrics (pkg/search):
//   - jira_search_pages_total{version} (Counter): Pages fetched and decoded
//   - jira_search_items_total{version} (Counter): Items yielded to callers
//   - jira_search_errors_total{kind} (Counter): Failed searches (invalid_query, transport, decode, protocol_mismatch, canceled)
//   - jira_search_duration_seconds{version, mode} (Histogram): Search duration by mode (eager, page)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - jira_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - jira_rate_limit_blocks_total (Counter): Requests refused because the budget was exhausted
//   - jira_rate_limit_throttles_total (Counter): Requests delayed because the budget was low
//   - jira_rate_limit_waits_total (Counter): Requests that waited for a token or a reset
//
// Cache Metrics (pkg/cache):
//   - jira_cache_hits_total{layer="redis"} (Counter): Fresh cache hits by layer
//   - jira_cache_misses_total (Counter): Cache misses, including stale entries
//   - jira_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - jira_conditional_requests_total (Counter): Conditional requests sent
//   - jira_304_responses_total (Counter): 304 Not Modified responses
//   - jira_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - jira_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - jira_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - jira_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - jira_retries_total{error_class} (Counter): Retry attempts by error class
//   - jira_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - jira_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(jira_cache_hits_total[5m])) /
//   (sum(rate(jira_cache_hits_total[5m])) + sum(rate(jira_cache_misses_total[5m])))
//
//   # Average Pages per Search
//   rate(jira_search_pages_total[5m]) / rate(jira_search_duration_seconds_count[5m])
//
//   # Rate Limit Budget
//   jira_rate_limit_remaining < 20
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(jira_request_duration_seconds_bucket[5m]))

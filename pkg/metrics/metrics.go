// Package metrics exposes the Prometheus registry for rwx-im.
// All metrics are defined in their respective packages (repository, cache,
// server, client, verify) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the /metrics handler and a reference for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by rwx-im.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry the handler reads from.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the Prometheus exposition format for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Repository Metrics (pkg/repository):
//   - rwx_im_repository_resolutions_total{outcome} (Counter): Startup resolutions (opened, created, open_failed, init_failed)
//   - rwx_im_repository_operations_total{operation, result} (Counter): lookup/read/store by result
//
// Lookup Cache Metrics (pkg/cache):
//   - rwx_im_lookup_cache_hits_total{layer} (Counter): Hits by layer (memory, redis)
//   - rwx_im_lookup_cache_misses_total (Counter): Lookups no layer answered
//   - rwx_im_lookup_cache_entries{layer} (Gauge): Entries held in process
//   - rwx_im_lookup_cache_errors_total{operation} (Counter): Cache operation errors
//   - rwx_im_not_modified_responses_total (Counter): 304 Not Modified responses
//
// HTTP Metrics (pkg/server):
//   - rwx_im_http_requests_total{route, status} (Counter): Requests by route and status
//   - rwx_im_http_request_duration_seconds{route} (Histogram): Request duration by route
//
// Client Metrics (pkg/client):
//   - rwx_im_client_requests_total{method, status} (Counter): Requests by method and status
//   - rwx_im_client_retries_total{error_class} (Counter): Retry attempts by error class
//   - rwx_im_client_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - rwx_im_client_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Verification Metrics (pkg/verify):
//   - rwx_im_verify_chunks_total{result} (Counter): Verified chunks by result
//
// Example Prometheus Queries:
//
//   # Lookup Cache Hit Rate
//   sum(rate(rwx_im_lookup_cache_hits_total[5m])) /
//   (sum(rate(rwx_im_lookup_cache_hits_total[5m])) + rate(rwx_im_lookup_cache_misses_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(rwx_im_http_request_duration_seconds_bucket[5m]))
//
//   # Damaged Chunks
//   increase(rwx_im_verify_chunks_total{result="failed"}[1h]) > 0

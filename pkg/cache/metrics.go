package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookup cache hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwx_im_lookup_cache_hits_total",
			Help: "Total number of address lookup cache hits",
		},
		[]string{"layer"}, // "memory", "redis"
	)

	// CacheMisses tracks lookups no layer could answer
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rwx_im_lookup_cache_misses_total",
			Help: "Total number of address lookup cache misses",
		},
	)

	// CacheEntries tracks the number of entries held by a layer
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rwx_im_lookup_cache_entries",
			Help: "Current number of address lookup cache entries",
		},
		[]string{"layer"}, // "memory"
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rwx_im_not_modified_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwx_im_lookup_cache_errors_total",
			Help: "Total number of lookup cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)

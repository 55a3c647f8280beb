package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolutions tracks startup resolutions by outcome ("opened", "created", "open_failed", "init_failed").
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwx_im_repository_resolutions_total",
			Help: "Total number of cache repository resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// Operations tracks content operations against the repository.
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rwx_im_repository_operations_total",
			Help: "Total number of cache repository operations by operation and result",
		},
		[]string{"operation", "result"}, // "lookup", "read", "store"; "ok", "not_found", "error"
	)
)

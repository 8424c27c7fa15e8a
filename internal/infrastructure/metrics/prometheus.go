// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "openinary"

var (
	// CacheOperationsTotal tracks cache operations across all tiers.
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	//   - cache_type: existence, disk, remote, redis
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// TransformsTotal tracks transformation outcomes.
	// Labels:
	//   - kind: image, thumbnail, video
	//   - format: jpeg, png, webp, avif, gif, mp4, ...
	//   - status: success, error
	TransformsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transforms_total",
			Help:      "Total number of media transformations",
		},
		[]string{"kind", "format", "status"},
	)

	// TransformDuration observes how long transformations take.
	// Labels:
	//   - kind: image, thumbnail, video
	TransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Transformation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// OptimizerSavingsPercent observes the byte savings of format selection
	// relative to the original encoding.
	OptimizerSavingsPercent = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimizer_savings_percent",
			Help:      "Byte savings of the chosen output format versus the original",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90},
		},
	)

	// JobTransitionsTotal tracks job status transitions.
	// Labels:
	//   - to: pending, processing, completed, error, cancelled
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Total number of video job status transitions",
		},
		[]string{"to"},
	)

	// JobsInFlight tracks jobs currently being processed by the worker pool.
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Number of video jobs currently processing",
		},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeExistence = "existence"
	CacheTypeDisk      = "disk"
	CacheTypeRemote    = "remote"
	CacheTypeRedis     = "redis"
)

// Transform kind constants.
const (
	TransformKindImage     = "image"
	TransformKindThumbnail = "thumbnail"
	TransformKindVideo     = "video"
)

// Transform status constants.
const (
	TransformStatusSuccess = "success"
	TransformStatusError   = "error"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RateLimitChecks counts rate limit checks by type and result.
	RateLimitChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgate_ratelimit_checks_total",
			Help: "Total number of rate limit checks",
		},
		[]string{"limit_type", "allowed"},
	)

	// RateLimitBlocks counts identifiers put on the auth failure block list.
	RateLimitBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgate_ratelimit_blocks_total",
			Help: "Total number of identifiers blocked after repeated auth failures",
		},
		[]string{"limit_type"},
	)

	// RateLimitBuckets tracks the number of live buckets by type.
	RateLimitBuckets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subgate_ratelimit_buckets",
			Help: "Number of rate limit buckets currently held in memory",
		},
		[]string{"limit_type"},
	)

	// RateLimitBucketCapacity tracks the maximum capacity of rate limit buckets.
	RateLimitBucketCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subgate_ratelimit_bucket_capacity",
			Help: "Maximum capacity of rate limit buckets",
		},
		[]string{"limit_type"},
	)
)

// registerRateLimitMetrics registers all rate limiting metrics.
func registerRateLimitMetrics() error {
	metrics := []prometheus.Collector{
		RateLimitChecks,
		RateLimitBlocks,
		RateLimitBuckets,
		RateLimitBucketCapacity,
	}

	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

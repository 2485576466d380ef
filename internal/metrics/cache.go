package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SnapshotLoads counts registry snapshot loads by result.
	SnapshotLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgate_snapshot_loads_total",
			Help: "Total number of registry snapshot loads",
		},
		[]string{"result"},
	)

	// SnapshotLoadDuration measures how long a snapshot load takes.
	SnapshotLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "subgate_snapshot_load_duration_seconds",
			Help: "Registry snapshot load duration in seconds",
			// Buckets optimized for a handful of queries: 100µs to 1s
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// SnapshotRequests counts snapshot reads served from cache or by a load.
	SnapshotRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgate_snapshot_requests_total",
			Help: "Total number of registry snapshot requests",
		},
		[]string{"source"},
	)

	// SnapshotInvalidations counts cache invalidations caused by registry changes.
	SnapshotInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subgate_snapshot_invalidations_total",
			Help: "Total number of registry snapshot invalidations",
		},
	)

	// SnapshotNodes tracks the number of nodes in the current snapshot.
	SnapshotNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subgate_snapshot_nodes",
			Help: "Number of nodes in the current registry snapshot",
		},
	)
)

// registerCacheMetrics registers all snapshot cache metrics.
func registerCacheMetrics() error {
	metrics := []prometheus.Collector{
		SnapshotLoads,
		SnapshotLoadDuration,
		SnapshotRequests,
		SnapshotInvalidations,
		SnapshotNodes,
	}

	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

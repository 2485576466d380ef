// Package metrics provides Prometheus metrics for the Subgate server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the global Prometheus registry for all metrics.
	Registry = prometheus.NewRegistry()

	// initialized tracks whether metrics have been initialized.
	initialized = false
)

// Init initializes the metrics registry with all collectors.
// This should be called once during application startup.
func Init() error {
	if initialized {
		return nil
	}

	// Register Go runtime collectors
	if err := Registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}

	// Register HTTP metrics
	if err := registerHTTPMetrics(); err != nil {
		return err
	}

	// Register rate limit metrics
	if err := registerRateLimitMetrics(); err != nil {
		return err
	}

	// Register database metrics
	if err := registerDatabaseMetrics(); err != nil {
		return err
	}

	// Register snapshot cache metrics
	if err := registerCacheMetrics(); err != nil {
		return err
	}

	// Register business metrics
	if err := registerBusinessMetrics(); err != nil {
		return err
	}

	initialized = true
	return nil
}

// MustInit initializes metrics and panics on error.
// Use this for application startup where metrics are required.
func MustInit() {
	if err := Init(); err != nil {
		panic("failed to initialize metrics: " + err.Error())
	}
}

// registerBusinessMetrics registers business-level metrics.
func registerBusinessMetrics() error {
	metrics := []prometheus.Collector{
		NodeCount,
		SubscriptionFetches,
		MalformedNodeConfigs,
		TrafficReports,
		TrafficBytes,
		TokenResets,
		QuotaExhausted,
	}

	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

var (
	// NodeCount tracks the number of registered nodes per protocol.
	NodeCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subgate_nodes_total",
			Help: "Total number of registered nodes by protocol",
		},
		[]string{"protocol"},
	)

	// SubscriptionFetches counts subscription downloads by format and outcome.
	SubscriptionFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgate_subscription_fetches_total",
			Help: "Total number of subscription fetches",
		},
		[]string{"format", "outcome"},
	)

	// MalformedNodeConfigs counts stored node configs skipped at delivery time.
	MalformedNodeConfigs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgate_malformed_node_configs_total",
			Help: "Total number of node configs skipped because they could not be redacted",
		},
		[]string{"protocol"},
	)

	// TrafficReports counts node traffic reports by status.
	TrafficReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgate_traffic_reports_total",
			Help: "Total number of node traffic reports",
		},
		[]string{"status"},
	)

	// TrafficBytes counts charged bytes by direction.
	TrafficBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgate_traffic_bytes_total",
			Help: "Total number of bytes charged to users",
		},
		[]string{"direction"},
	)

	// TokenResets counts subscription token resets.
	TokenResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subgate_token_resets_total",
			Help: "Total number of subscription token resets",
		},
	)

	// QuotaExhausted counts users pushed to or past their quota by a report.
	QuotaExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subgate_quota_exhausted_total",
			Help: "Total number of times a traffic report exhausted a user's quota",
		},
	)
)

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"subgate.io/subgate/internal/metrics"
)

// unmatchedPath labels requests that matched no route, so scanners cannot
// grow the label set without bound.
const unmatchedPath = "unmatched"

// MetricsMiddleware creates a middleware that collects Prometheus metrics for HTTP requests.
//
// This middleware:
// - Tracks request count by method, route pattern, and status code
// - Measures request duration in seconds
// - Measures response size in bytes
// - Tracks in-flight requests
//
// Add it early in the chain so rejected requests are counted too.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()

		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)

		if size := c.Writer.Size(); size >= 0 {
			metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"subgate.io/subgate/models"
)

// HealthHandler handles health check endpoints for load balancers and
// orchestrators.
type HealthHandler struct {
	db      *sql.DB
	version string
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(db *sql.DB, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	models.HealthResponse
	Version  string `json:"version,omitempty"`
	Database string `json:"database"`
}

// Liveness handles GET /health/live.
//
// It returns 200 OK as long as the HTTP server is running.
func (h *HealthHandler) Liveness(c *gin.Context) {
	respondSuccess(c, http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready.
//
// Returns:
//   - 200 OK if the database answers a ping
//   - 503 Service Unavailable otherwise
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		respondError(c, http.StatusServiceUnavailable, "unhealthy", "Database unavailable")
		return
	}

	respondSuccess(c, http.StatusOK, ReadinessResponse{
		HealthResponse: models.HealthResponse{
			Status:    "ready",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Version:  h.version,
		Database: "connected",
	})
}

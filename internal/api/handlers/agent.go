package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"subgate.io/subgate/internal/api/middleware"
	"subgate.io/subgate/internal/logging"
	"subgate.io/subgate/internal/service"
	"subgate.io/subgate/models"
)

// AgentHandler serves the API used by node agents. Every endpoint runs
// behind RequireNodeToken.
type AgentHandler struct {
	agent  *service.AgentService
	ingest *service.IngestService
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(agent *service.AgentService, ingest *service.IngestService) *AgentHandler {
	return &AgentHandler{agent: agent, ingest: ingest}
}

func authenticatedNode(c *gin.Context) (*models.Node, bool) {
	node := middleware.GetNode(c)
	if node == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication failed")
		return nil, false
	}
	return node, true
}

// GetConfig handles GET /api/v1/node/config.
// The node receives its own configuration unredacted plus its route rules.
func (h *AgentHandler) GetConfig(c *gin.Context) {
	node, ok := authenticatedNode(c)
	if !ok {
		return
	}

	cfg, err := h.agent.NodeConfig(c.Request.Context(), node)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, cfg)
}

// GetUsers handles GET /api/v1/node/users.
// Only users that may currently connect are listed.
func (h *AgentHandler) GetUsers(c *gin.Context) {
	node, ok := authenticatedNode(c)
	if !ok {
		return
	}

	users, err := h.agent.NodeUsers(c.Request.Context(), node)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, users)
}

// ReportTraffic handles POST /api/v1/node/traffic.
//
// Request body:
//
//	{"report_id": "7f0c...", "entries": [{"user_id": 1, "u": 1024, "d": 4096}]}
//
// The batch is applied atomically. A repeated report_id is acknowledged
// with "duplicate": true and not charged again.
func (h *AgentHandler) ReportTraffic(c *gin.Context) {
	node, ok := authenticatedNode(c)
	if !ok {
		return
	}

	var report models.TrafficReport
	if !bindJSON(c, &report) {
		return
	}

	result, err := h.ingest.SubmitReport(c.Request.Context(), node, &report)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	middleware.GetLogger(c).Debug("traffic report accepted",
		zap.Int64(logging.FieldNodeID, node.ID),
		zap.Int("applied", result.Applied),
		zap.Bool("duplicate", result.Duplicate),
	)
	respondSuccess(c, http.StatusOK, result)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"subgate.io/subgate/internal/service"
	"subgate.io/subgate/models"
)

// NodeHandler handles the operator's node registry endpoints.
type NodeHandler struct {
	service *service.NodeService
}

// NewNodeHandler creates a new NodeHandler.
func NewNodeHandler(service *service.NodeService) *NodeHandler {
	return &NodeHandler{service: service}
}

// CreateNode handles POST /api/v1/admin/nodes.
//
// The response carries the node token once; only its hash is stored.
func (h *NodeHandler) CreateNode(c *gin.Context) {
	var req models.NodeCreateRequest
	if !bindJSON(c, &req) {
		return
	}

	creds, err := h.service.CreateNode(c.Request.Context(), &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusCreated, creds)
}

// ListNodes handles GET /api/v1/admin/nodes.
func (h *NodeHandler) ListNodes(c *gin.Context) {
	nodes, err := h.service.ListNodes(c.Request.Context())
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, nodes)
}

// GetNode handles GET /api/v1/admin/nodes/:id.
func (h *NodeHandler) GetNode(c *gin.Context) {
	nodeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	node, err := h.service.GetNode(c.Request.Context(), nodeID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, node)
}

// UpdateNode handles PATCH /api/v1/admin/nodes/:id.
func (h *NodeHandler) UpdateNode(c *gin.Context) {
	nodeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.NodeUpdateRequest
	if !bindJSON(c, &req) {
		return
	}

	node, err := h.service.UpdateNode(c.Request.Context(), nodeID, &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, node)
}

// DeleteNode handles DELETE /api/v1/admin/nodes/:id.
func (h *NodeHandler) DeleteNode(c *gin.Context) {
	nodeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteNode(c.Request.Context(), nodeID); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// DuplicateNode handles POST /api/v1/admin/nodes/:id/duplicate.
// The copy gets its own token.
func (h *NodeHandler) DuplicateNode(c *gin.Context) {
	nodeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.NodeDuplicateRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	creds, err := h.service.DuplicateNode(c.Request.Context(), nodeID, &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusCreated, creds)
}

// RotateNodeToken handles POST /api/v1/admin/nodes/:id/token.
func (h *NodeHandler) RotateNodeToken(c *gin.Context) {
	nodeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	creds, err := h.service.RotateNodeToken(c.Request.Context(), nodeID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, creds)
}

// ReorderNodes handles PUT /api/v1/admin/nodes/sort.
//
// Request body:
//
//	{"items": [{"id": 3, "sort": 1}, {"id": 1, "sort": 2}]}
//
// The batch is applied atomically; an unknown id changes nothing.
func (h *NodeHandler) ReorderNodes(c *gin.Context) {
	var req models.NodeSortRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.service.ReorderNodes(c.Request.Context(), req.Items); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccessWithMessage(c, http.StatusOK, "Nodes reordered")
}

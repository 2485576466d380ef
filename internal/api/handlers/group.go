package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"subgate.io/subgate/internal/service"
	"subgate.io/subgate/models"
)

// GroupHandler handles permission group endpoints.
type GroupHandler struct {
	service *service.GroupService
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(service *service.GroupService) *GroupHandler {
	return &GroupHandler{service: service}
}

// CreateGroup handles POST /api/v1/admin/groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req models.GroupRequest
	if !bindJSON(c, &req) {
		return
	}

	group, err := h.service.CreateGroup(c.Request.Context(), &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusCreated, group)
}

// ListGroups handles GET /api/v1/admin/groups.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.service.ListGroups(c.Request.Context())
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, groups)
}

// GetGroup handles GET /api/v1/admin/groups/:id.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	group, err := h.service.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, group)
}

// UpdateGroup handles PATCH /api/v1/admin/groups/:id.
func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.GroupRequest
	if !bindJSON(c, &req) {
		return
	}

	group, err := h.service.UpdateGroup(c.Request.Context(), groupID, &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, group)
}

// DeleteGroup handles DELETE /api/v1/admin/groups/:id.
// Nodes and users keep the stale id; it is ignored when resolving access.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteGroup(c.Request.Context(), groupID); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

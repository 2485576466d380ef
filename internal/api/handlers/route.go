package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"subgate.io/subgate/internal/service"
	"subgate.io/subgate/models"
)

// RouteHandler handles route rule endpoints.
type RouteHandler struct {
	service *service.RouteService
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(service *service.RouteService) *RouteHandler {
	return &RouteHandler{service: service}
}

// CreateRoute handles POST /api/v1/admin/routes.
//
// Request body:
//
//	{"remarks": "ads", "match": ["domain:ads.example.com"], "action": "block"}
func (h *RouteHandler) CreateRoute(c *gin.Context) {
	var req models.RouteRequest
	if !bindJSON(c, &req) {
		return
	}

	route, err := h.service.CreateRoute(c.Request.Context(), &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusCreated, route)
}

// ListRoutes handles GET /api/v1/admin/routes.
func (h *RouteHandler) ListRoutes(c *gin.Context) {
	routes, err := h.service.ListRoutes(c.Request.Context())
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, routes)
}

// UpdateRoute handles PATCH /api/v1/admin/routes/:id.
func (h *RouteHandler) UpdateRoute(c *gin.Context) {
	routeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.RouteUpdateRequest
	if !bindJSON(c, &req) {
		return
	}

	route, err := h.service.UpdateRoute(c.Request.Context(), routeID, &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, route)
}

// DeleteRoute handles DELETE /api/v1/admin/routes/:id.
func (h *RouteHandler) DeleteRoute(c *gin.Context) {
	routeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteRoute(c.Request.Context(), routeID); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Package handlers provides HTTP handlers for the Subgate REST API.
//
// This package implements request handlers for health checks, the operator
// API, subscription delivery, user self-service and the node agent API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"subgate.io/subgate/internal/api/middleware"
	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/protocol"
)

// SuccessResponse represents a standardized success response with data.
type SuccessResponse struct {
	// Data contains the response payload.
	Data any `json:"data,omitempty"`

	// Message is an optional success message.
	Message string `json:"message,omitempty"`
}

// respondError sends a standardized error response.
func respondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.AbortWithStatusJSON(statusCode, models.ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestID: middleware.GetRequestID(c),
	})
}

// respondSuccess sends a standardized success response with data.
func respondSuccess(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, SuccessResponse{
		Data: data,
	})
}

// respondSuccessWithMessage sends a standardized success response with a message.
func respondSuccessWithMessage(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, SuccessResponse{
		Message: message,
	})
}

// mapErrorToResponse converts a service error to an HTTP response.
//
// Not-found and authentication failures use generic messages. Validation
// errors report the offending field. Storage and unknown errors are logged
// with their cause and answered with a generic 500.
func mapErrorToResponse(c *gin.Context, err error) {
	var verr *models.ValidationError

	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", notFoundMessage(err))

	case errors.Is(err, models.ErrConfirmationRequired):
		respondError(c, http.StatusBadRequest, "confirmation_required", "Set confirm to true to perform this operation")

	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, "invalid_request", verr.Error())

	case errors.Is(err, models.ErrInvalidRequest):
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request parameters")

	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrInvalidToken),
		errors.Is(err, models.ErrInvalidNodeToken):
		// Generic message to prevent token enumeration
		respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication failed")

	case errors.Is(err, models.ErrBanned):
		respondError(c, http.StatusForbidden, "banned", "Subscription is suspended")

	case errors.Is(err, models.ErrExpired):
		respondError(c, http.StatusForbidden, "expired", "Subscription has expired")

	case errors.Is(err, models.ErrQuotaExceeded):
		respondError(c, http.StatusForbidden, "quota_exceeded", "Subscription traffic quota is used up")

	case errors.Is(err, models.ErrConflict):
		respondError(c, http.StatusConflict, "conflict", "Resource already exists or was changed concurrently")

	case errors.Is(err, protocol.ErrMalformedNodeConfig):
		respondError(c, http.StatusUnprocessableEntity, "malformed_config", err.Error())

	case errors.Is(err, models.ErrRateLimitExceeded):
		respondError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded")

	default:
		middleware.GetLogger(c).Error("request failed", zap.Error(err))
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrNodeNotFound):
		return "Node not found"
	case errors.Is(err, models.ErrGroupNotFound):
		return "Group not found"
	case errors.Is(err, models.ErrRouteNotFound):
		return "Route rule not found"
	case errors.Is(err, models.ErrPlanNotFound):
		return "Plan not found"
	case errors.Is(err, models.ErrEntitlementNotFound):
		return "Subscription not found"
	default:
		return "Resource not found"
	}
}

// bindJSON decodes the request body into req. On failure it responds with
// 400 and returns false.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// paramID parses a positive integer path parameter. On failure it responds
// with 400 and returns false.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		mapErrorToResponse(c, models.Invalid(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

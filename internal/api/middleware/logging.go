// Package middleware provides HTTP middleware for the Subgate API.
//
// This package implements authentication, rate limiting, request logging,
// metrics and CORS handling for all API requests.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"subgate.io/subgate/internal/logging"
)

// HeaderRequestID carries the request ID back to the client.
const HeaderRequestID = "X-Request-ID"

// RequestLogger creates a middleware that logs all HTTP requests using structured logging.
//
// This middleware:
// - Generates a unique request ID and echoes it in X-Request-ID
// - Creates a request-scoped logger with standard fields
// - Stores logger in both Gin and request context
// - Logs completion with duration and the authenticated node or user
//
// Subscription paths carry the token, so the logged path is the route
// pattern rather than the raw URL.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		start := time.Now()

		requestLogger := logger.With(
			zap.String(logging.FieldRequestID, requestID),
			zap.String(logging.FieldMethod, c.Request.Method),
			zap.String(logging.FieldPath, routePath(c)),
			zap.String(logging.FieldRemoteAddr, c.ClientIP()),
			zap.String(logging.FieldUserAgent, c.Request.UserAgent()),
		)

		c.Set(ContextKeyLogger, requestLogger)
		c.Set(ContextKeyRequestID, requestID)
		c.Header(HeaderRequestID, requestID)

		// Store in request context for non-gin code
		ctx := logging.WithLogger(c.Request.Context(), requestLogger)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.Int(logging.FieldStatusCode, status),
			zap.Duration(logging.FieldDuration, duration),
			zap.Int("response_size", c.Writer.Size()),
		}
		fields = append(fields, authFields(c)...)

		if len(c.Errors) > 0 {
			fields = append(fields, zap.String(logging.FieldError, c.Errors.String()))
		}

		switch {
		case status >= 500:
			requestLogger.Error("request completed with server error", fields...)
		case status >= 400:
			requestLogger.Warn("request completed with client error", fields...)
		default:
			requestLogger.Info("request completed", fields...)
		}
	}
}

// authFields returns the identity fields set by the auth middleware.
func authFields(c *gin.Context) []zap.Field {
	var fields []zap.Field
	if node := GetNode(c); node != nil {
		fields = append(fields, zap.Int64(logging.FieldNodeID, node.ID))
	}
	if ent := GetEntitlement(c); ent != nil {
		fields = append(fields, zap.Int64(logging.FieldUserID, ent.UserID))
	}
	if IsAdmin(c) {
		fields = append(fields, zap.Bool("admin", true))
	}
	return fields
}

// routePath prefers the matched route pattern over the raw URL path.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

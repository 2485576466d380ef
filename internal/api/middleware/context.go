package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"subgate.io/subgate/models"
)

// Context keys for storing authenticated request information.
const (
	// ContextKeyNode stores the authenticated *models.Node.
	ContextKeyNode = "node"

	// ContextKeyEntitlement stores the *models.Entitlement of a bearer token.
	ContextKeyEntitlement = "entitlement"

	// ContextKeySubscriptionToken stores the raw bearer token.
	ContextKeySubscriptionToken = "subscription_token"

	// ContextKeyRequestID stores the unique request ID for tracing.
	ContextKeyRequestID = "request_id"

	// ContextKeyLogger stores the request-scoped *zap.Logger.
	ContextKeyLogger = "logger"

	// ContextKeyAdmin is set once the admin token was verified.
	ContextKeyAdmin = "admin"
)

// GetNode returns the node authenticated by RequireNodeToken, or nil.
func GetNode(c *gin.Context) *models.Node {
	if val, exists := c.Get(ContextKeyNode); exists {
		if node, ok := val.(*models.Node); ok {
			return node
		}
	}
	return nil
}

// GetEntitlement returns the subscription authenticated by
// RequireSubscriptionBearer, or nil.
func GetEntitlement(c *gin.Context) *models.Entitlement {
	if val, exists := c.Get(ContextKeyEntitlement); exists {
		if ent, ok := val.(*models.Entitlement); ok {
			return ent
		}
	}
	return nil
}

// GetSubscriptionToken returns the raw bearer token, or "".
func GetSubscriptionToken(c *gin.Context) string {
	return c.GetString(ContextKeySubscriptionToken)
}

// IsAdmin reports whether the admin token was verified for this request.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}

// GetLogger retrieves the request-scoped logger from Gin context.
// Returns a no-op logger if not found.
func GetLogger(c *gin.Context) *zap.Logger {
	if logger, exists := c.Get(ContextKeyLogger); exists {
		if l, ok := logger.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}

// GetRequestID retrieves the request ID from Gin context.
// Returns empty string if not found.
func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

func setNode(c *gin.Context, node *models.Node) {
	c.Set(ContextKeyNode, node)
}

func setEntitlement(c *gin.Context, ent *models.Entitlement, raw string) {
	c.Set(ContextKeyEntitlement, ent)
	c.Set(ContextKeySubscriptionToken, raw)
}

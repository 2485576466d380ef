package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"subgate.io/subgate/models"
)

const (
	// HeaderAdminToken is the header name for operator authentication.
	HeaderAdminToken = "X-Subgate-Admin-Token"

	// HeaderNodeToken is the header name for node agent authentication.
	HeaderNodeToken = "X-Subgate-Node-Token"

	// HeaderSubscriptionUserinfo carries quota usage to subscription clients.
	HeaderSubscriptionUserinfo = "Subscription-Userinfo"
)

// NodeAuthenticator resolves a node token to its node.
type NodeAuthenticator interface {
	AuthenticateNode(ctx context.Context, nodeToken string) (*models.Node, error)
}

// TokenLookup resolves a subscription token to its entitlement.
type TokenLookup interface {
	LookupToken(ctx context.Context, subToken string) (*models.Entitlement, error)
}

// AuthConfig holds configuration for authentication middleware.
type AuthConfig struct {
	// AdminToken is compared in constant time against X-Subgate-Admin-Token.
	AdminToken string

	Nodes  NodeAuthenticator
	Tokens TokenLookup

	// Limiter, when set, counts failed attempts per client IP and blocks
	// the IP once the failure budget is spent.
	Limiter *AdvancedRateLimitMiddleware
}

// abortError sends the standard error body and stops the chain.
func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: GetRequestID(c),
	})
}

// respondAuthError sends an authentication error response.
//
// The message is generic so responses cannot be used for token enumeration.
func respondAuthError(c *gin.Context) {
	abortError(c, http.StatusUnauthorized, "unauthorized", "Authentication failed")
}

func respondRateLimited(c *gin.Context, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	abortError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many failed authentication attempts")
}

// blocked aborts with 429 when the client IP is serving an auth-failure block.
func (config *AuthConfig) blocked(c *gin.Context) bool {
	if config.Limiter == nil {
		return false
	}
	if isBlocked, retryAfter := config.Limiter.AuthBlocked(c); isBlocked {
		respondRateLimited(c, retryAfter)
		return true
	}
	return false
}

// fail records a failed attempt and sends 401, or 429 once the IP is blocked.
func (config *AuthConfig) fail(c *gin.Context) {
	if config.Limiter != nil {
		if allowed, retryAfter := config.Limiter.RateLimitAuthFailure(c); !allowed {
			GetLogger(c).Warn("client blocked after repeated authentication failures",
				zap.Int("retry_after", retryAfter))
			respondRateLimited(c, retryAfter)
			return
		}
	}
	respondAuthError(c)
}

// lookupError handles an error from a token lookup. Storage failures are 500;
// everything else counts as a failed attempt.
func (config *AuthConfig) lookupError(c *gin.Context, err error) {
	if errors.Is(err, models.ErrStorageFailure) {
		GetLogger(c).Error("token lookup failed", zap.Error(err))
		abortError(c, http.StatusInternalServerError, "internal_error", "An internal error occurred")
		return
	}
	config.fail(c)
}

// RequireAdminToken creates middleware that requires the operator token in
// X-Subgate-Admin-Token.
func RequireAdminToken(config *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.blocked(c) {
			return
		}

		provided := c.GetHeader(HeaderAdminToken)
		if provided == "" || config.AdminToken == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(config.AdminToken)) != 1 {
			config.fail(c)
			return
		}

		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

// RequireNodeToken creates middleware that requires node token authentication.
//
// The token is read from X-Subgate-Node-Token and resolved through
// NodeAuthenticator; the node is stored under ContextKeyNode.
func RequireNodeToken(config *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.blocked(c) {
			return
		}

		providedToken := c.GetHeader(HeaderNodeToken)
		if providedToken == "" {
			config.fail(c)
			return
		}

		node, err := config.Nodes.AuthenticateNode(c.Request.Context(), providedToken)
		if err != nil {
			config.lookupError(c, err)
			return
		}

		setNode(c, node)
		c.Next()
	}
}

// RequireSubscriptionBearer creates middleware for user self-service
// endpoints. The subscription token is sent as "Authorization: Bearer <token>".
//
// The entitlement is stored whatever its status, so a banned user can still
// read why their subscription does not work.
func RequireSubscriptionBearer(config *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.blocked(c) {
			return
		}

		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			config.fail(c)
			return
		}

		ent, err := config.Tokens.LookupToken(c.Request.Context(), raw)
		if err != nil {
			config.lookupError(c, err)
			return
		}

		setEntitlement(c, ent, raw)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, value, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"subgate.io/subgate/internal/ratelimit"
)

// AdvancedRateLimitMiddleware provides per-minute rate limiting with
// Retry-After headers and different limit types.
type AdvancedRateLimitMiddleware struct {
	limiter *ratelimit.Limiter
}

// NewAdvancedRateLimitMiddleware creates a new advanced rate limit middleware.
func NewAdvancedRateLimitMiddleware(config ratelimit.Config) *AdvancedRateLimitMiddleware {
	return &AdvancedRateLimitMiddleware{
		limiter: ratelimit.NewLimiter(config),
	}
}

func (m *AdvancedRateLimitMiddleware) enforce(c *gin.Context, identifier string, limitType ratelimit.LimitType, what string) bool {
	key := ratelimit.BuildKey(identifier, limitType)

	allowed, retryAfter := m.limiter.Allow(key)
	if !allowed {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limit_exceeded",
			"message":     fmt.Sprintf("Rate limit exceeded for %s", what),
			"retry_after": retryAfter,
			"request_id":  GetRequestID(c),
		})
		return false
	}
	return true
}

// RateLimitRequest applies the general per-IP request limit.
func (m *AdvancedRateLimitMiddleware) RateLimitRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enforce(c, c.ClientIP(), ratelimit.LimitTypeRequest, "requests") {
			return
		}
		c.Next()
	}
}

// RateLimitTrafficReport limits traffic report submissions per node.
// Use this after RequireNodeToken.
func (m *AdvancedRateLimitMiddleware) RateLimitTrafficReport() gin.HandlerFunc {
	return func(c *gin.Context) {
		node := GetNode(c)
		if node == nil {
			c.Next()
			return
		}

		if !m.enforce(c, strconv.FormatInt(node.ID, 10), ratelimit.LimitTypeTrafficReport, "traffic reports") {
			return
		}
		c.Next()
	}
}

// RateLimitSubscription limits subscription fetches per client IP.
func (m *AdvancedRateLimitMiddleware) RateLimitSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enforce(c, c.ClientIP(), ratelimit.LimitTypeSubscription, "subscription fetches") {
			return
		}
		c.Next()
	}
}

// RateLimitAuthFailure records one authentication failure for the client IP.
// It returns false once the IP has exhausted its budget and is blocked.
func (m *AdvancedRateLimitMiddleware) RateLimitAuthFailure(c *gin.Context) (allowed bool, retryAfter int) {
	key := ratelimit.BuildKey(c.ClientIP(), ratelimit.LimitTypeAuthFailure)
	return m.limiter.Allow(key)
}

// AuthBlocked reports whether the client IP is serving an auth-failure block.
func (m *AdvancedRateLimitMiddleware) AuthBlocked(c *gin.Context) (blocked bool, retryAfter int) {
	return m.limiter.Blocked(ratelimit.BuildKey(c.ClientIP(), ratelimit.LimitTypeAuthFailure))
}

// Stop gracefully stops the rate limiter.
func (m *AdvancedRateLimitMiddleware) Stop() {
	m.limiter.Stop()
}

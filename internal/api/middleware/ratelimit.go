package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter implements token bucket rate limiting.
//
// This struct manages rate limiters for different identifiers (IP addresses,
// node IDs) with periodic cleanup of idle limiters.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a new rate limiter allowing rps requests per second
// with the given burst. Idle limiters are dropped every cleanup interval.
func NewRateLimiter(rps float64, burst int, cleanup time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		cleanup:  cleanup,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// getLimiter gets or creates a rate limiter for the given identifier.
func (rl *RateLimiter) getLimiter(identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[identifier]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[identifier] = limiter
	}

	return limiter
}

// cleanupLoop periodically removes limiters whose bucket has refilled.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for identifier, limiter := range rl.limiters {
				if limiter.Tokens() >= float64(rl.burst) {
					delete(rl.limiters, identifier)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow checks if a request from the given identifier should be allowed.
func (rl *RateLimiter) Allow(identifier string) bool {
	return rl.getLimiter(identifier).Allow()
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func abortRateLimited(c *gin.Context) {
	c.Header("Retry-After", "1")
	abortError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded")
}

// RateLimitByIP creates middleware that rate limits requests by client IP address.
//
// Example:
//
//	router.Use(RateLimitByIP(limiter)) // limiter from NewRateLimiter(10, 20, time.Minute)
func RateLimitByIP(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			abortRateLimited(c)
			return
		}

		c.Next()
	}
}

// RateLimitByNode creates middleware that rate limits requests by authenticated node.
// Use this after RequireNodeToken.
func RateLimitByNode(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		node := GetNode(c)
		if node == nil {
			// Not behind RequireNodeToken; nothing to key on
			c.Next()
			return
		}

		if !limiter.Allow(strconv.FormatInt(node.ID, 10)) {
			abortRateLimited(c)
			return
		}

		c.Next()
	}
}

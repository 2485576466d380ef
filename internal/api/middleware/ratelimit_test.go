package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"subgate.io/subgate/models"
)

func TestRateLimitByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(0.001, 2, time.Minute)
	defer limiter.Stop()

	router := gin.New()
	router.Use(RateLimitByIP(limiter))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		if w := serve(router, "198.51.100.1:1"); w.Code != http.StatusOK {
			t.Errorf("Request %d status = %d", i+1, w.Code)
		}
	}
	if w := serve(router, "198.51.100.1:1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("Burst exceeded status = %d, want 429", w.Code)
	}
	if w := serve(router, "198.51.100.2:1"); w.Code != http.StatusOK {
		t.Errorf("Other IP status = %d, want 200", w.Code)
	}
}

func TestRateLimitByNode(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(0.001, 1, time.Minute)
	defer limiter.Stop()

	var node *models.Node
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if node != nil {
			setNode(c, node)
		}
		c.Next()
	})
	router.Use(RateLimitByNode(limiter))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// Without an authenticated node the limiter is bypassed
	for i := 0; i < 2; i++ {
		if w := serve(router, ""); w.Code != http.StatusOK {
			t.Errorf("Unauthenticated request status = %d", w.Code)
		}
	}

	node = &models.Node{ID: 3}
	if w := serve(router, ""); w.Code != http.StatusOK {
		t.Errorf("First node request status = %d", w.Code)
	}
	if w := serve(router, ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("Second node request status = %d, want 429", w.Code)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	limiter := NewRateLimiter(1, 1, time.Millisecond)
	limiter.Stop()
	limiter.Stop()
}

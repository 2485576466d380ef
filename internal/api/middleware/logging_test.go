package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"subgate.io/subgate/internal/logging"
	"subgate.io/subgate/models"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, logs := observedLogger()

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{logging.FieldRequestID, logging.FieldMethod, logging.FieldPath, logging.FieldUserAgent, logging.FieldStatusCode} {
		if _, ok := fields[key]; !ok {
			t.Errorf("Missing field %q", key)
		}
	}
	if fields[logging.FieldUserAgent] != "test-agent" {
		t.Errorf("user_agent = %v", fields[logging.FieldUserAgent])
	}
}

func TestRequestLogger_RoutePatternHidesToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, logs := observedLogger()

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/s/:token", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/s/sub_secretvalue", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	entry := logs.All()[0]
	if got := entry.ContextMap()[logging.FieldPath]; got != "/s/:token" {
		t.Errorf("path = %v, want /s/:token", got)
	}
}

func TestRequestLogger_WithAuthContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, logs := observedLogger()

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/test", func(c *gin.Context) {
		setNode(c, &models.Node{ID: 7})
		setEntitlement(c, &models.Entitlement{UserID: 42}, "raw")
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	fields := logs.All()[0].ContextMap()
	if fields[logging.FieldNodeID] != int64(7) {
		t.Errorf("node_id = %v, want 7", fields[logging.FieldNodeID])
	}
	if fields[logging.FieldUserID] != int64(42) {
		t.Errorf("user_id = %v, want 42", fields[logging.FieldUserID])
	}
}

func TestRequestLogger_LoggerInContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, logs := observedLogger()

	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/test", func(c *gin.Context) {
		GetLogger(c).Info("from gin context")
		logging.FromContext(c.Request.Context()).Info("from request context")
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	for _, msg := range []string{"from gin context", "from request context"} {
		entries := logs.FilterMessage(msg).All()
		if len(entries) != 1 {
			t.Fatalf("Expected entry %q", msg)
		}
		if _, ok := entries[0].ContextMap()[logging.FieldRequestID]; !ok {
			t.Errorf("%q is missing request_id", msg)
		}
	}
}

func TestRequestLogger_RequestIDGenerated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := observedLogger()

	var requestID string
	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/test", func(c *gin.Context) {
		requestID = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if requestID == "" {
		t.Fatal("Request ID should be generated")
	}
	if len(requestID) != 36 {
		t.Errorf("Request ID should be a UUID, got %q", requestID)
	}
	if got := w.Header().Get(HeaderRequestID); got != requestID {
		t.Errorf("%s = %q, want %q", HeaderRequestID, got, requestID)
	}
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusNotFound, zapcore.WarnLevel},
		{http.StatusInternalServerError, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		logger, logs := observedLogger()
		router := gin.New()
		router.Use(RequestLogger(logger))
		router.GET("/test", func(c *gin.Context) {
			c.Status(tt.status)
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

		if got := logs.All()[0].Level; got != tt.level {
			t.Errorf("status %d logged at %v, want %v", tt.status, got, tt.level)
		}
	}
}

func TestGetLogger_NoLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if GetLogger(c) == nil {
		t.Error("GetLogger should return a no-op logger, not nil")
	}
	if GetRequestID(c) != "" {
		t.Error("GetRequestID should be empty without the middleware")
	}
	if GetNode(c) != nil || GetEntitlement(c) != nil || IsAdmin(c) {
		t.Error("auth getters should be empty without the middleware")
	}
}

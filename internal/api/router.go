// Package api provides the REST API implementation for the Subgate server.
//
// This package wires the service layer to Gin routes and middleware for the
// operator API, subscription delivery, user self-service and node agents.
package api

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"subgate.io/subgate/internal/api/handlers"
	"subgate.io/subgate/internal/api/middleware"
	"subgate.io/subgate/internal/metrics"
	"subgate.io/subgate/internal/ratelimit"
)

// RouterConfig holds configuration for setting up the HTTP router.
type RouterConfig struct {
	// DB is the database connection used by readiness checks.
	DB *sql.DB

	// Logger is the Zap logger for request logging.
	Logger *zap.Logger

	// Services is the wired service layer.
	Services *Services

	// AdminToken authenticates the operator API.
	AdminToken string

	// AllowOrigins is the list of allowed CORS origins. Empty disables CORS.
	AllowOrigins []string

	// RateLimit configures per-minute limits and auth-failure blocking.
	RateLimit ratelimit.Config

	// Version is reported by the readiness check.
	Version string
}

// Router is the configured HTTP handler. Close stops its background limiters.
type Router struct {
	*gin.Engine
	closers []func()
}

// Close releases the router's background goroutines.
func (r *Router) Close() {
	for _, fn := range r.closers {
		fn()
	}
}

// SetupRouter creates and configures the Gin HTTP router with all routes and middleware.
//
// This function sets up:
// - Global middleware (recovery, metrics, logging, CORS, per-IP limits)
// - Health check and metrics endpoints (no auth required)
// - Operator endpoints (admin token)
// - Subscription endpoints (token in URL)
// - User self-service endpoints (bearer subscription token)
// - Node agent endpoints (node token)
func SetupRouter(config *RouterConfig) *Router {
	router := gin.New()
	r := &Router{Engine: router}

	router.Use(gin.Recovery())

	// Metrics middleware (should be early to capture all requests)
	router.Use(middleware.MetricsMiddleware())

	router.Use(middleware.RequestLogger(config.Logger))

	if len(config.AllowOrigins) > 0 {
		router.Use(middleware.CORS(config.AllowOrigins))
	}

	// Burst protection per IP ahead of the per-minute budgets
	ipLimiter := middleware.NewRateLimiter(50.0, 100, time.Minute)
	r.closers = append(r.closers, ipLimiter.Stop)
	router.Use(middleware.RateLimitByIP(ipLimiter))

	limits := middleware.NewAdvancedRateLimitMiddleware(config.RateLimit)
	r.closers = append(r.closers, limits.Stop)

	nodeLimiter := middleware.NewRateLimiter(20.0, 40, 5*time.Minute)
	r.closers = append(r.closers, nodeLimiter.Stop)

	authConfig := &middleware.AuthConfig{
		AdminToken: config.AdminToken,
		Nodes:      config.Services.Nodes,
		Tokens:     config.Services.Tokens,
		Limiter:    limits,
	}

	svc := config.Services
	healthHandler := handlers.NewHealthHandler(config.DB, config.Version)
	nodeHandler := handlers.NewNodeHandler(svc.Nodes)
	groupHandler := handlers.NewGroupHandler(svc.Groups)
	routeHandler := handlers.NewRouteHandler(svc.Routes)
	userHandler := handlers.NewUserHandler(svc.Tokens, svc.Ledger, svc.Directory, svc.Subscriptions)
	clientHandler := handlers.NewClientHandler(svc.Subscriptions, svc.Tokens)
	agentHandler := handlers.NewAgentHandler(svc.Agent, svc.Ingest)

	// Metrics endpoint (no authentication required)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry,
		promhttp.HandlerOpts{},
	)))

	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Liveness)
		health.GET("/ready", healthHandler.Readiness)
	}

	// Short subscription link: GET /s/:token
	router.GET("/s/:token", limits.RateLimitSubscription(), clientHandler.Subscribe)

	v1 := router.Group("/api/v1")

	client := v1.Group("/client")
	client.Use(limits.RateLimitSubscription())
	{
		client.GET("/subscribe", clientHandler.Subscribe)
	}

	user := v1.Group("/user")
	user.Use(limits.RateLimitRequest())
	user.Use(middleware.RequireSubscriptionBearer(authConfig))
	{
		user.GET("/subscription", clientHandler.GetOwnSubscription)
		user.POST("/subscription/reset", clientHandler.ResetOwnToken)
	}

	node := v1.Group("/node")
	node.Use(middleware.RequireNodeToken(authConfig))
	node.Use(middleware.RateLimitByNode(nodeLimiter))
	{
		node.GET("/config", agentHandler.GetConfig)
		node.GET("/users", agentHandler.GetUsers)
		node.POST("/traffic", limits.RateLimitTrafficReport(), agentHandler.ReportTraffic)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.RequireAdminToken(authConfig))
	admin.Use(limits.RateLimitRequest())

	nodes := admin.Group("/nodes")
	{
		nodes.POST("", nodeHandler.CreateNode)
		nodes.GET("", nodeHandler.ListNodes)
		nodes.PUT("/sort", nodeHandler.ReorderNodes)
		nodes.GET("/:id", nodeHandler.GetNode)
		nodes.PATCH("/:id", nodeHandler.UpdateNode)
		nodes.DELETE("/:id", nodeHandler.DeleteNode)
		nodes.POST("/:id/duplicate", nodeHandler.DuplicateNode)
		nodes.POST("/:id/token", nodeHandler.RotateNodeToken)
	}

	groups := admin.Group("/groups")
	{
		groups.POST("", groupHandler.CreateGroup)
		groups.GET("", groupHandler.ListGroups)
		groups.GET("/:id", groupHandler.GetGroup)
		groups.PATCH("/:id", groupHandler.UpdateGroup)
		groups.DELETE("/:id", groupHandler.DeleteGroup)
	}

	routes := admin.Group("/routes")
	{
		routes.POST("", routeHandler.CreateRoute)
		routes.GET("", routeHandler.ListRoutes)
		routes.PATCH("/:id", routeHandler.UpdateRoute)
		routes.DELETE("/:id", routeHandler.DeleteRoute)
	}

	plans := admin.Group("/plans")
	{
		plans.POST("", userHandler.CreatePlan)
		plans.GET("", userHandler.ListPlans)
	}

	users := admin.Group("/users/:id")
	{
		users.POST("/subscription", userHandler.IssueSubscription)
		users.GET("/subscription", userHandler.GetSubscription)
		users.POST("/subscription/reset", userHandler.ResetSubscription)
		users.POST("/traffic/reset", userHandler.ResetTraffic)
		users.GET("/groups", userHandler.GetGroups)
		users.PUT("/groups", userHandler.SetGroups)
		users.PUT("/plan", userHandler.SetPlan)
		users.PUT("/ban", userHandler.SetBan)
	}

	return r
}

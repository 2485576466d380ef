package api

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/service"
)

// ServicesConfig holds what the service layer needs to be built.
type ServicesConfig struct {
	DB     *sql.DB
	Logger *zap.Logger
	Bus    *events.Bus

	// Secret keys the token HMAC.
	Secret string

	OverQuota   service.OverQuotaPolicy
	SnapshotTTL time.Duration
	Ingest      service.IngestConfig
}

// DefaultSnapshotTTL bounds how long a registry snapshot is served when no
// change event invalidates it first.
const DefaultSnapshotTTL = 30 * time.Second

// Services is the wired service layer shared by the router and background jobs.
type Services struct {
	Nodes         *service.NodeService
	Groups        *service.GroupService
	Routes        *service.RouteService
	Directory     *service.SQLDirectory
	Tokens        *service.TokenService
	Ledger        *service.Ledger
	Snapshots     *service.SnapshotCache
	Subscriptions *service.SubscriptionService
	Agent         *service.AgentService
	Ingest        *service.IngestService
}

// NewServices builds every service on one database and event bus.
func NewServices(cfg ServicesConfig) *Services {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	named := func(name string) *zap.Logger { return logger.Named(name) }
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = DefaultSnapshotTTL
	}

	s := &Services{
		Nodes:     service.NewNodeService(cfg.DB, named("nodes"), cfg.Secret, cfg.Bus),
		Groups:    service.NewGroupService(cfg.DB, named("groups"), cfg.Bus),
		Routes:    service.NewRouteService(cfg.DB, named("routes"), cfg.Bus),
		Directory: service.NewSQLDirectory(cfg.DB, named("directory")),
		Ledger:    service.NewLedger(cfg.DB, named("ledger"), cfg.Bus),
		Ingest:    service.NewIngestService(cfg.DB, named("ingest"), cfg.Bus, cfg.Ingest),
	}
	s.Tokens = service.NewTokenService(cfg.DB, named("tokens"), cfg.Secret, s.Directory, cfg.Bus)
	s.Snapshots = service.NewSnapshotCache(s.Nodes, s.Groups, s.Routes, cfg.SnapshotTTL, named("snapshot"), cfg.Bus)
	s.Subscriptions = service.NewSubscriptionService(s.Tokens, s.Directory, s.Snapshots, cfg.OverQuota, named("subscriptions"))
	s.Agent = service.NewAgentService(s.Snapshots, s.Directory, s.Ledger, named("agent"))
	return s
}

// Package config loads the server configuration from config.yaml, SUBGATE_
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"subgate.io/subgate/internal/logging"
	"subgate.io/subgate/internal/ratelimit"
	"subgate.io/subgate/internal/service"
)

// MinSecretLength is the shortest accepted HMAC secret in bytes.
const MinSecretLength = 32

// MinAdminTokenLength is the shortest accepted admin token.
const MinAdminTokenLength = 24

// Config is the complete server configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	DB           DBConfig           `mapstructure:"db"`
	Log          logging.Config     `mapstructure:"log"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Traffic      TrafficConfig      `mapstructure:"traffic"`
	RateLimit    ratelimit.Config   `mapstructure:"rate_limit"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig configures the HTTP server and its credentials.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Secret keys the HMAC used to hash subscription and node tokens.
	// Changing it invalidates every issued token.
	Secret string `mapstructure:"secret"`

	// AdminToken authenticates the operator API.
	AdminToken string `mapstructure:"admin_token"`

	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DBConfig configures the SQLite connection pool.
type DBConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SubscriptionConfig configures subscription delivery.
type SubscriptionConfig struct {
	// OverQuota is list, hide or reject.
	OverQuota   string        `mapstructure:"over_quota"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// TrafficConfig configures traffic report ingestion.
type TrafficConfig struct {
	MaxEntries    int           `mapstructure:"max_entries"`
	DedupWindow   time.Duration `mapstructure:"dedup_window"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// MetricsConfig configures the background gauge updater.
type MetricsConfig struct {
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_addr: %w", err))
	}
	if len(c.Server.Secret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("server.secret must be at least %d bytes (got %d)", MinSecretLength, len(c.Server.Secret)))
	}
	if len(c.Server.AdminToken) < MinAdminTokenLength {
		errs = append(errs, fmt.Errorf("server.admin_token must be at least %d characters", MinAdminTokenLength))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.DB.MaxOpenConns < 1 {
		errs = append(errs, errors.New("db.max_open_conns must be positive"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if _, err := service.ParseOverQuotaPolicy(c.Subscription.OverQuota); err != nil {
		errs = append(errs, fmt.Errorf("subscription.over_quota: %w", err))
	}
	if c.Subscription.SnapshotTTL <= 0 {
		errs = append(errs, errors.New("subscription.snapshot_ttl must be positive"))
	}
	if c.Traffic.MaxEntries < 1 {
		errs = append(errs, errors.New("traffic.max_entries must be positive"))
	}
	if c.Traffic.DedupWindow <= 0 || c.Traffic.PruneInterval <= 0 {
		errs = append(errs, errors.New("traffic.dedup_window and traffic.prune_interval must be positive"))
	}

	return errors.Join(errs...)
}

// OverQuotaPolicy returns the parsed subscription.over_quota value.
// Call it only on a validated Config.
func (c *Config) OverQuotaPolicy() service.OverQuotaPolicy {
	p, _ := service.ParseOverQuotaPolicy(c.Subscription.OverQuota)
	return p
}

// Ingest returns the ingestion limits.
func (c *Config) Ingest() service.IngestConfig {
	return service.IngestConfig{MaxEntries: c.Traffic.MaxEntries, DedupWindow: c.Traffic.DedupWindow}
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SUBGATE_SERVER_SECRET.
const EnvPrefix = "SUBGATE"

// Loader reads configuration from a YAML file, the environment and bound flags.
// Flags override the environment, which overrides the file, which overrides defaults.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults, config search paths and
// environment binding in place.
func NewLoader() *Loader {
	l := &Loader{v: viper.New()}

	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")
	l.v.AddConfigPath("/etc/subgate")
	l.v.AddConfigPath("$HOME/.subgate")
	l.v.AddConfigPath(".")

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()
	return l
}

// SetConfigFile reads path instead of searching for config.yaml.
func (l *Loader) SetConfigFile(path string) {
	if path != "" {
		l.v.SetConfigFile(path)
	}
}

// BindFlag makes a command-line flag override key when the flag is set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads, decodes and validates the configuration.
// A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.Decode()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Decode merges all sources without validating the result. Maintenance
// commands use it when they only need a subset of the settings.
func (l *Loader) Decode() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Server.AllowOrigins = splitList(cfg.Server.AllowOrigins)
	return &cfg, nil
}

// ConfigFileUsed returns the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("server.listen_addr", ":8080")
	l.v.SetDefault("server.shutdown_timeout", "15s")
	l.v.SetDefault("server.secret", "")
	l.v.SetDefault("server.admin_token", "")
	l.v.SetDefault("server.allow_origins", []string{})

	l.v.SetDefault("db.path", "./subgate.db")
	l.v.SetDefault("db.max_open_conns", 8)
	l.v.SetDefault("db.max_idle_conns", 4)
	l.v.SetDefault("db.conn_max_lifetime", "30m")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.environment", "production")
	l.v.SetDefault("log.output_paths", []string{"stdout"})
	l.v.SetDefault("log.error_output_paths", []string{"stderr"})

	l.v.SetDefault("subscription.over_quota", "list")
	l.v.SetDefault("subscription.snapshot_ttl", "30s")

	l.v.SetDefault("traffic.max_entries", 10000)
	l.v.SetDefault("traffic.dedup_window", "24h")
	l.v.SetDefault("traffic.prune_interval", "1h")

	l.v.SetDefault("rate_limit.auth_failures_per_min", 10)
	l.v.SetDefault("rate_limit.auth_failures_block_min", 15)
	l.v.SetDefault("rate_limit.requests_per_min", 600)
	l.v.SetDefault("rate_limit.traffic_reports_per_min", 60)
	l.v.SetDefault("rate_limit.subscriptions_per_min", 30)

	l.v.SetDefault("metrics.stats_interval", "30s")
}

// splitList accepts both YAML lists and a single comma-separated string,
// the form environment variables arrive in.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"subgate.io/subgate/internal/config"
	"subgate.io/subgate/internal/logging"
	"subgate.io/subgate/internal/storage"
)

var utilCmd = &cobra.Command{
	Use:   "util",
	Short: "Database maintenance and diagnostics",
	Long: `Maintenance commands that operate directly on the Subgate database.

They read the same configuration sources as serve but do not require the
server secret or admin token unless a command needs them.`,
}

var (
	utilDBPath  string
	utilVerbose bool
)

func init() {
	rootCmd.AddCommand(utilCmd)

	utilCmd.PersistentFlags().StringVar(&utilDBPath, "db", "", "Path to SQLite database (overrides db.path)")
	utilCmd.PersistentFlags().BoolVarP(&utilVerbose, "verbose", "v", false, "Enable verbose output")
}

// utilEnv bundles what every maintenance command needs.
type utilEnv struct {
	Config *config.Config
	DB     *sql.DB
	Logger *zap.Logger
}

func (e *utilEnv) Close() {
	e.DB.Close()
	_ = e.Logger.Sync()
}

// openUtilEnv decodes the configuration and opens the database it names.
func openUtilEnv(ctx context.Context) (*utilEnv, error) {
	loader := config.NewLoader()
	loader.SetConfigFile(configFile)
	cfg, err := loader.Decode()
	if err != nil {
		return nil, err
	}
	if utilDBPath != "" {
		cfg.DB.Path = utilDBPath
	}

	logCfg := logging.DefaultConfig()
	logCfg.Environment = logging.EnvironmentDevelopment
	logCfg.OutputPaths = []string{"stderr"}
	if utilVerbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := storage.Open(ctx, storage.Options{
		Path:            cfg.DB.Path,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}, logging.Component(logger, "storage"))
	if err != nil {
		return nil, err
	}

	return &utilEnv{Config: cfg, DB: db, Logger: logger}, nil
}

// tables lists the application tables in dependency order.
var tables = []string{
	"server_groups",
	"route_rules",
	"nodes",
	"plans",
	"user_plans",
	"user_groups",
	"entitlements",
	"traffic_reports",
}

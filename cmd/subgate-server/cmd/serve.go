package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"subgate.io/subgate/internal/api"
	"subgate.io/subgate/internal/config"
	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/logging"
	"subgate.io/subgate/internal/metrics"
	"subgate.io/subgate/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Start the Subgate HTTP server.

The server:
  - Opens the SQLite database and applies pending migrations
  - Serves the operator, subscription, user and node agent APIs
  - Prunes expired traffic report ids in the background
  - Exposes Prometheus metrics on /metrics
  - Shuts down gracefully on SIGTERM/SIGINT`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "Address to listen on (server.listen_addr)")
	serveCmd.Flags().String("db", "", "Path to SQLite database file (db.path)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (log.level)")
	serveCmd.Flags().String("over-quota", "", "Over-quota policy: list, hide, reject (subscription.over_quota)")
}

// loadConfig reads the configuration with flags bound over file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	loader.SetConfigFile(configFile)

	bindings := map[string]string{
		"server.listen_addr":      "listen",
		"db.path":                 "db",
		"log.level":               "log-level",
		"subscription.over_quota": "over-quota",
	}
	for key, name := range bindings {
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Log.Environment != logging.EnvironmentDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("starting subgate-server",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("config_file", loader.ConfigFileUsed()),
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("over_quota", string(cfg.OverQuotaPolicy())),
	)

	if err := metrics.Init(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, storage.Options{
		Path:            cfg.DB.Path,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}, logging.Component(logger, "storage"))
	if err != nil {
		return err
	}
	defer db.Close()

	bus := events.NewBus(logging.Component(logger, "events"))
	defer bus.Close()
	events.RegisterAuditLog(bus, logger)

	services := api.NewServices(api.ServicesConfig{
		DB:          db,
		Logger:      logger,
		Bus:         bus,
		Secret:      cfg.Server.Secret,
		OverQuota:   cfg.OverQuotaPolicy(),
		SnapshotTTL: cfg.Subscription.SnapshotTTL,
		Ingest:      cfg.Ingest(),
	})

	router := api.SetupRouter(&api.RouterConfig{
		DB:           db,
		Logger:       logger,
		Services:     services,
		AdminToken:   cfg.Server.AdminToken,
		AllowOrigins: cfg.Server.AllowOrigins,
		RateLimit:    cfg.RateLimit,
		Version:      Version,
	})
	defer router.Close()

	go services.Ingest.RunPruner(ctx, cfg.Traffic.PruneInterval)
	go runStatsUpdater(ctx, db, services, cfg.Metrics.StatsInterval, logger)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

// runStatsUpdater refreshes gauges that are not updated on the request path.
func runStatsUpdater(ctx context.Context, db *sql.DB, services *api.Services, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		metrics.RecordDBStats(db.Stats())
		if counts, err := services.Nodes.CountByProtocol(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Warn("failed to count nodes", zap.Error(err))
			}
		} else {
			metrics.NodeCount.Reset()
			for proto, n := range counts {
				metrics.NodeCount.WithLabelValues(proto).Set(float64(n))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Package storage opens the SQLite database and applies the schema.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Options configures the connection pool.
type Options struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN builds the modernc.org/sqlite connection string for path: WAL journal,
// 5s busy timeout, foreign keys on and BEGIN IMMEDIATE transactions.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate", path)
}

// Open opens the database, verifies the connection and applies migrations.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(opts.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applied, err := Migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("database connection established",
		zap.String("path", opts.Path),
		zap.Int("migrations_applied", applied),
	)
	return db, nil
}

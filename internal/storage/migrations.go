package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	name string
	sql  string
}

// Timestamps are unix seconds. JSON list columns hold arrays of ids or strings.
var migrations = []migration{
	{
		name: "001_create_server_groups",
		sql: `
			CREATE TABLE IF NOT EXISTS server_groups (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);
		`,
	},
	{
		name: "002_create_route_rules",
		sql: `
			CREATE TABLE IF NOT EXISTS route_rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				remarks TEXT NOT NULL,
				match_patterns TEXT NOT NULL DEFAULT '[]',
				action TEXT NOT NULL CHECK (action IN ('block', 'dns')),
				action_value TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);
		`,
	},
	{
		name: "003_create_nodes",
		sql: `
			CREATE TABLE IF NOT EXISTS nodes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				protocol TEXT NOT NULL,
				host TEXT NOT NULL,
				port TEXT NOT NULL,
				server_port INTEGER NOT NULL,
				rate REAL NOT NULL DEFAULT 1,
				visible INTEGER NOT NULL DEFAULT 0,
				sort INTEGER NOT NULL DEFAULT 0,
				group_ids TEXT NOT NULL DEFAULT '[]',
				route_ids TEXT NOT NULL DEFAULT '[]',
				parent_id INTEGER REFERENCES nodes(id) ON DELETE SET NULL,
				tags TEXT NOT NULL DEFAULT '[]',
				config TEXT NOT NULL,
				token_hash TEXT NOT NULL UNIQUE,
				last_report_at INTEGER,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_nodes_sort ON nodes(sort, id);
		`,
	},
	{
		name: "004_create_plans",
		sql: `
			CREATE TABLE IF NOT EXISTS plans (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				transfer_bytes INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			);
			CREATE TABLE IF NOT EXISTS user_plans (
				user_id INTEGER PRIMARY KEY,
				plan_id INTEGER NOT NULL REFERENCES plans(id),
				expires_at INTEGER,
				updated_at INTEGER NOT NULL
			);
		`,
	},
	{
		name: "005_create_user_groups",
		sql: `
			CREATE TABLE IF NOT EXISTS user_groups (
				user_id INTEGER NOT NULL,
				group_id INTEGER NOT NULL,
				PRIMARY KEY (user_id, group_id)
			);
			CREATE INDEX IF NOT EXISTS idx_user_groups_group ON user_groups(group_id);
		`,
	},
	{
		name: "006_create_entitlements",
		sql: `
			CREATE TABLE IF NOT EXISTS entitlements (
				user_id INTEGER PRIMARY KEY,
				token_hash TEXT NOT NULL UNIQUE,
				token_version INTEGER NOT NULL DEFAULT 1,
				plan_id INTEGER NOT NULL,
				total_bytes INTEGER NOT NULL DEFAULT 0,
				upload INTEGER NOT NULL DEFAULT 0,
				download INTEGER NOT NULL DEFAULT 0,
				expires_at INTEGER,
				banned INTEGER NOT NULL DEFAULT 0,
				last_reset_at INTEGER,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);
		`,
	},
	{
		name: "007_create_traffic_reports",
		sql: `
			CREATE TABLE IF NOT EXISTS traffic_reports (
				node_id INTEGER NOT NULL,
				report_id TEXT NOT NULL,
				received_at INTEGER NOT NULL,
				PRIMARY KEY (node_id, report_id)
			);
			CREATE INDEX IF NOT EXISTS idx_traffic_reports_received ON traffic_reports(received_at);
		`,
	},
}

// Migrate applies pending migrations in order, each in its own transaction.
// It returns the number of migrations applied.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		ok, err := apply(ctx, db, m)
		if err != nil {
			return applied, fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

func apply(ctx context.Context, db *sql.DB, m migration) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, m.name).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
		m.name, time.Now().Unix()); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

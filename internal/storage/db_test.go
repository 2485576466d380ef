package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	opts := Options{Path: filepath.Join(t.TempDir(), "subgate.db"), MaxOpenConns: 4, MaxIdleConns: 2}

	db, err := Open(ctx, opts, zap.NewNop())
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, len(migrations), count)
	require.NoError(t, db.Close())

	db, err = Open(ctx, opts, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	applied, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, applied)

	for _, table := range []string{"nodes", "server_groups", "route_rules", "entitlements", "traffic_reports", "plans", "user_plans", "user_groups"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "fk.db"), MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var enabled int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled))
	assert.Equal(t, 1, enabled)
}

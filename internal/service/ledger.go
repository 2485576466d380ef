package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/metrics"
	"subgate.io/subgate/models"
)

// Ledger tracks per-user transfer against quota.
//
// Counters only ever change through single UPDATE statements that add to the
// stored value, so concurrent reports for the same user never lose updates.
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
	bus    *events.Bus
}

// NewLedger creates a new Ledger.
func NewLedger(db *sql.DB, logger *zap.Logger, bus *events.Bus) *Ledger {
	return &Ledger{db: db, logger: logger, bus: bus}
}

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// counters is the state of an entitlement right after a delta was applied.
type counters struct {
	Upload, Download, Total int64
}

func (c counters) used() int64 { return c.Upload + c.Download }

// ApplyDelta adds upload and download bytes to a user's counters.
func (l *Ledger) ApplyDelta(ctx context.Context, userID, upload, download int64) error {
	if upload < 0 || download < 0 {
		return models.Invalid("delta", "traffic deltas must not be negative")
	}
	if upload > models.MaxEntryBytes || download > models.MaxEntryBytes {
		return models.Invalid("delta", "traffic deltas must not exceed %d bytes", models.MaxEntryBytes)
	}

	start := time.Now()
	after, err := applyDelta(ctx, l.db, userID, upload, download, start)
	metrics.ObserveQuery("apply_delta", start, err)
	if err != nil {
		return err
	}
	if crossedQuota(after, upload+download) {
		l.bus.PublishQuotaExhausted(userID, after.used(), after.Total)
	}
	return nil
}

// applyDelta runs the atomic increment on q and returns the new counters.
// Counters saturate at models.MaxCounterBytes.
func applyDelta(ctx context.Context, q execQuerier, userID, upload, download int64, now time.Time) (counters, error) {
	var c counters
	limit := models.MaxCounterBytes
	err := q.QueryRowContext(ctx, `
		UPDATE entitlements
		SET upload = CASE WHEN upload > ? - ? THEN ? ELSE upload + ? END,
			download = CASE WHEN download > ? - ? THEN ? ELSE download + ? END,
			updated_at = ?
		WHERE user_id = ?
		RETURNING upload, download, total_bytes
	`, limit, upload, limit, upload,
		limit, download, limit, download,
		now.Unix(), userID).Scan(&c.Upload, &c.Download, &c.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return c, models.ErrEntitlementNotFound
	}
	if err != nil {
		return c, models.Storage("apply traffic delta", err)
	}
	return c, nil
}

// crossedQuota reports whether adding delta moved used from below total to at
// or above it.
func crossedQuota(after counters, delta int64) bool {
	used := after.used()
	return delta > 0 && used >= after.Total && used-delta < after.Total
}

// ComputeUsage returns the derived usage of a user's subscription.
func (l *Ledger) ComputeUsage(ctx context.Context, userID int64) (models.Usage, error) {
	e, err := l.get(ctx, userID)
	if err != nil {
		return models.Usage{}, err
	}
	return e.Usage(), nil
}

// ResetTraffic zeroes both counters and stamps last_reset_at.
func (l *Ledger) ResetTraffic(ctx context.Context, userID int64) (*models.Entitlement, error) {
	result, err := l.db.ExecContext(ctx, `
		UPDATE entitlements
		SET upload = 0, download = 0, last_reset_at = ?, updated_at = ?
		WHERE user_id = ?
	`, time.Now().Unix(), time.Now().Unix(), userID)
	if err != nil {
		return nil, models.Storage("reset traffic", err)
	}
	if err := checkAffected(result, "reset traffic", models.ErrEntitlementNotFound); err != nil {
		return nil, err
	}

	l.logger.Info("traffic reset", zap.Int64("user_id", userID))
	return l.get(ctx, userID)
}

// SetBanned sets or clears a user's ban flag.
func (l *Ledger) SetBanned(ctx context.Context, userID int64, banned bool) (*models.Entitlement, error) {
	result, err := l.db.ExecContext(ctx, `
		UPDATE entitlements SET banned = ?, updated_at = ? WHERE user_id = ?
	`, boolToInt(banned), time.Now().Unix(), userID)
	if err != nil {
		return nil, models.Storage("set banned", err)
	}
	if err := checkAffected(result, "set banned", models.ErrEntitlementNotFound); err != nil {
		return nil, err
	}

	l.logger.Info("ban flag updated", zap.Int64("user_id", userID), zap.Bool("banned", banned))
	return l.get(ctx, userID)
}

// ActiveUsers returns the ids of users that are neither banned, expired nor
// over quota at now.
func (l *Ledger) ActiveUsers(ctx context.Context, now time.Time) (map[int64]struct{}, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT user_id FROM entitlements
		WHERE banned = 0
			AND (expires_at IS NULL OR expires_at > ?)
			AND upload + download < total_bytes
	`, now.Unix())
	if err != nil {
		return nil, models.Storage("active users", err)
	}
	defer rows.Close()

	active := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, models.Storage("active users", err)
		}
		active[id] = struct{}{}
	}
	return active, models.Storage("active users", rows.Err())
}

func (l *Ledger) get(ctx context.Context, userID int64) (*models.Entitlement, error) {
	e, err := scanEntitlement(l.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, models.Storage("get entitlement", err)
	}
	return e, nil
}

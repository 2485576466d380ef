package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/models"
)

// MembershipLookup answers which groups a user belongs to.
// The account system that owns users implements it; SQLDirectory is the
// built-in implementation backed by the user_groups table.
type MembershipLookup interface {
	// GroupsForUser returns the user's group ids. Unknown users have none.
	GroupsForUser(ctx context.Context, userID int64) ([]int64, error)

	// UsersInGroups returns the ids of users in any of groupIDs, ascending.
	UsersInGroups(ctx context.Context, groupIDs []int64) ([]int64, error)
}

// PlanLookup answers which plan a user is on.
type PlanLookup interface {
	// PlanForUser returns the user's plan and the subscription expiry.
	// It returns ErrPlanNotFound when the user has no plan.
	PlanForUser(ctx context.Context, userID int64) (*models.Plan, *time.Time, error)
}

// SQLDirectory stores group membership and plan assignments locally.
type SQLDirectory struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ MembershipLookup = (*SQLDirectory)(nil)
	_ PlanLookup       = (*SQLDirectory)(nil)
)

// NewSQLDirectory creates a new SQLDirectory.
func NewSQLDirectory(db *sql.DB, logger *zap.Logger) *SQLDirectory {
	return &SQLDirectory{db: db, logger: logger}
}

// GroupsForUser implements MembershipLookup.
func (d *SQLDirectory) GroupsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT group_id FROM user_groups WHERE user_id = ? ORDER BY group_id`, userID)
	if err != nil {
		return nil, models.Storage("groups for user", err)
	}
	defer rows.Close()

	groups := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, models.Storage("groups for user", err)
		}
		groups = append(groups, id)
	}
	return groups, models.Storage("groups for user", rows.Err())
}

// UsersInGroups implements MembershipLookup.
func (d *SQLDirectory) UsersInGroups(ctx context.Context, groupIDs []int64) ([]int64, error) {
	users := []int64{}
	if len(groupIDs) == 0 {
		return users, nil
	}

	args := make([]any, len(groupIDs))
	for i, id := range groupIDs {
		args[i] = id
	}
	query := `SELECT DISTINCT user_id FROM user_groups WHERE group_id IN (` +
		placeholders(len(groupIDs)) + `) ORDER BY user_id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.Storage("users in groups", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, models.Storage("users in groups", err)
		}
		users = append(users, id)
	}
	return users, models.Storage("users in groups", rows.Err())
}

// SetUserGroups replaces a user's group membership. Every group must exist.
func (d *SQLDirectory) SetUserGroups(ctx context.Context, userID int64, groupIDs []int64) ([]int64, error) {
	if userID <= 0 {
		return nil, models.Invalid("user_id", "must be positive")
	}
	groupIDs = uniqueIDs(groupIDs)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.Storage("begin set user groups", err)
	}
	defer tx.Rollback()

	missing, err := missingIDs(ctx, tx, "server_groups", groupIDs)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, models.Invalid("group_ids", "unknown groups %v", missing)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE user_id = ?`, userID); err != nil {
		return nil, models.Storage("clear user groups", err)
	}
	for _, id := range groupIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)`, userID, id); err != nil {
			return nil, models.Storage("insert user group", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, models.Storage("commit set user groups", err)
	}

	d.logger.Info("user groups updated", zap.Int64("user_id", userID), zap.Int64s("group_ids", groupIDs))
	return groupIDs, nil
}

// CreatePlan creates a plan. Names are unique.
func (d *SQLDirectory) CreatePlan(ctx context.Context, req *models.PlanRequest) (*models.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, models.Invalid("name", "is required")
	}
	if req.TransferBytes < 0 {
		return nil, models.Invalid("transfer_bytes", "must not be negative")
	}

	now := time.Now().UTC().Truncate(time.Second)
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO plans (name, transfer_bytes, created_at) VALUES (?, ?, ?)
	`, name, req.TransferBytes, now.Unix())
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, models.ErrConflict
		}
		return nil, models.Storage("insert plan", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, models.Storage("insert plan", err)
	}
	return &models.Plan{ID: id, Name: name, TransferBytes: req.TransferBytes, CreatedAt: now}, nil
}

// ListPlans returns every plan ordered by id.
func (d *SQLDirectory) ListPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, transfer_bytes, created_at FROM plans ORDER BY id`)
	if err != nil {
		return nil, models.Storage("list plans", err)
	}
	defer rows.Close()

	plans := []models.Plan{}
	for rows.Next() {
		var p models.Plan
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Name, &p.TransferBytes, &createdAt); err != nil {
			return nil, models.Storage("scan plan", err)
		}
		p.CreatedAt = fromUnix(createdAt)
		plans = append(plans, p)
	}
	return plans, models.Storage("list plans", rows.Err())
}

// SetUserPlan assigns a plan to a user. When the user already holds a
// subscription its quota and expiry follow the new plan; usage is kept.
func (d *SQLDirectory) SetUserPlan(ctx context.Context, userID int64, req *models.UserPlanRequest) (*models.UserPlan, error) {
	if userID <= 0 {
		return nil, models.Invalid("user_id", "must be positive")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.Storage("begin set user plan", err)
	}
	defer tx.Rollback()

	var transfer int64
	err = tx.QueryRowContext(ctx, `SELECT transfer_bytes FROM plans WHERE id = ?`, req.PlanID).Scan(&transfer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPlanNotFound
	}
	if err != nil {
		return nil, models.Storage("load plan", err)
	}

	now := time.Now().Unix()
	expires := nullUnix(req.ExpiresAt)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_plans (user_id, plan_id, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = excluded.plan_id, expires_at = excluded.expires_at, updated_at = excluded.updated_at
	`, userID, req.PlanID, expires, now); err != nil {
		return nil, models.Storage("upsert user plan", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE entitlements SET plan_id = ?, total_bytes = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`, req.PlanID, transfer, expires, now, userID); err != nil {
		return nil, models.Storage("sync entitlement plan", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, models.Storage("commit set user plan", err)
	}

	d.logger.Info("user plan assigned", zap.Int64("user_id", userID), zap.Int64("plan_id", req.PlanID))
	return &models.UserPlan{UserID: userID, PlanID: req.PlanID, ExpiresAt: req.ExpiresAt}, nil
}

// PlanForUser implements PlanLookup.
func (d *SQLDirectory) PlanForUser(ctx context.Context, userID int64) (*models.Plan, *time.Time, error) {
	var (
		p         models.Plan
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.transfer_bytes, p.created_at, up.expires_at
		FROM user_plans up
		JOIN plans p ON p.id = up.plan_id
		WHERE up.user_id = ?
	`, userID).Scan(&p.ID, &p.Name, &p.TransferBytes, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, models.ErrPlanNotFound
	}
	if err != nil {
		return nil, nil, models.Storage("plan for user", err)
	}
	p.CreatedAt = fromUnix(createdAt)
	return &p, fromNullUnix(expiresAt), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

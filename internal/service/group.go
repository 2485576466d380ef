package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/models"
)

// GroupService manages permission groups.
type GroupService struct {
	db     *sql.DB
	logger *zap.Logger
	bus    *events.Bus
}

// NewGroupService creates a new GroupService.
func NewGroupService(db *sql.DB, logger *zap.Logger, bus *events.Bus) *GroupService {
	return &GroupService{db: db, logger: logger, bus: bus}
}

// CreateGroup creates a group. Names are unique.
func (s *GroupService) CreateGroup(ctx context.Context, req *models.GroupRequest) (*models.Group, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 255 {
		return nil, models.Invalid("name", "must be 1-255 characters")
	}

	now := time.Now().UTC().Truncate(time.Second)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO server_groups (name, created_at, updated_at) VALUES (?, ?, ?)
	`, name, now.Unix(), now.Unix())
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, models.ErrConflict
		}
		return nil, models.Storage("insert group", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, models.Storage("insert group", err)
	}

	s.logger.Info("group created", zap.Int64("group_id", id), zap.String("name", name))
	s.bus.PublishRegistryChanged("group", id, "created")
	return &models.Group{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// GetGroup returns one group.
func (s *GroupService) GetGroup(ctx context.Context, groupID int64) (*models.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM server_groups WHERE id = ?`, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrGroupNotFound
	}
	if err != nil {
		return nil, models.Storage("get group", err)
	}
	return g, nil
}

// ListGroups returns every group ordered by id.
func (s *GroupService) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM server_groups ORDER BY id`)
	if err != nil {
		return nil, models.Storage("list groups", err)
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, models.Storage("scan group", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Storage("list groups", err)
	}
	return groups, nil
}

// UpdateGroup renames a group.
func (s *GroupService) UpdateGroup(ctx context.Context, groupID int64, req *models.GroupRequest) (*models.Group, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 255 {
		return nil, models.Invalid("name", "must be 1-255 characters")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE server_groups SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now().Unix(), groupID)
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, models.ErrConflict
		}
		return nil, models.Storage("update group", err)
	}
	if err := checkAffected(result, "update group", models.ErrGroupNotFound); err != nil {
		return nil, err
	}

	s.bus.PublishRegistryChanged("group", groupID, "updated")
	return s.GetGroup(ctx, groupID)
}

// DeleteGroup removes a group, its user memberships and its id from every
// node's group list in one transaction.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Storage("begin delete group", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM server_groups WHERE id = ?`, groupID)
	if err != nil {
		return models.Storage("delete group", err)
	}
	if err := checkAffected(result, "delete group", models.ErrGroupNotFound); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE group_id = ?`, groupID); err != nil {
		return models.Storage("delete group members", err)
	}
	nodes, err := stripNodeRef(ctx, tx, "group_ids", groupID, time.Now())
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return models.Storage("commit delete group", err)
	}

	s.logger.Info("group deleted", zap.Int64("group_id", groupID), zap.Int64("nodes_updated", nodes))
	s.bus.PublishRegistryChanged("group", groupID, "deleted")
	return nil
}

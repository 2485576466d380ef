package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"subgate.io/subgate/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const nodeColumns = `id, name, protocol, host, port, server_port, rate, visible, sort,
	group_ids, route_ids, parent_id, tags, config, token_hash, last_report_at,
	created_at, updated_at`

func scanNode(row rowScanner) (*models.Node, error) {
	var (
		n                        models.Node
		visible                  int
		groupIDs, routeIDs, tags string
		config                   string
		parentID, lastReportAt   sql.NullInt64
		createdAt, updatedAt     int64
	)
	if err := row.Scan(
		&n.ID, &n.Name, &n.Protocol, &n.Host, &n.Port, &n.ServerPort, &n.Rate, &visible, &n.Sort,
		&groupIDs, &routeIDs, &parentID, &tags, &config, &n.TokenHash, &lastReportAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	n.Visible = visible != 0
	if err := decodeList(groupIDs, &n.GroupIDs); err != nil {
		return nil, fmt.Errorf("node %d group_ids: %w", n.ID, err)
	}
	if err := decodeList(routeIDs, &n.RouteIDs); err != nil {
		return nil, fmt.Errorf("node %d route_ids: %w", n.ID, err)
	}
	if err := decodeList(tags, &n.Tags); err != nil {
		return nil, fmt.Errorf("node %d tags: %w", n.ID, err)
	}
	if parentID.Valid {
		id := parentID.Int64
		n.ParentID = &id
	}
	n.Config = json.RawMessage(config)
	n.LastReportAt = fromNullUnix(lastReportAt)
	n.CreatedAt = fromUnix(createdAt)
	n.UpdatedAt = fromUnix(updatedAt)
	return &n, nil
}

const routeColumns = `id, remarks, match_patterns, action, action_value, created_at, updated_at`

func scanRoute(row rowScanner) (*models.RouteRule, error) {
	var (
		r                    models.RouteRule
		match                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.Remarks, &match, &r.Action, &r.ActionValue, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := decodeList(match, &r.Match); err != nil {
		return nil, fmt.Errorf("route %d match_patterns: %w", r.ID, err)
	}
	r.CreatedAt = fromUnix(createdAt)
	r.UpdatedAt = fromUnix(updatedAt)
	return &r, nil
}

const groupColumns = `id, name, created_at, updated_at`

func scanGroup(row rowScanner) (*models.Group, error) {
	var (
		g                    models.Group
		createdAt, updatedAt int64
	)
	if err := row.Scan(&g.ID, &g.Name, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.CreatedAt = fromUnix(createdAt)
	g.UpdatedAt = fromUnix(updatedAt)
	return &g, nil
}

const entitlementColumns = `user_id, token_hash, token_version, plan_id, total_bytes, upload, download,
	expires_at, banned, last_reset_at, created_at, updated_at`

func scanEntitlement(row rowScanner) (*models.Entitlement, error) {
	var (
		e                      models.Entitlement
		banned                 int
		expiresAt, lastResetAt sql.NullInt64
		createdAt, updatedAt   int64
	)
	if err := row.Scan(
		&e.UserID, &e.TokenHash, &e.TokenVersion, &e.PlanID, &e.TotalBytes, &e.Upload, &e.Download,
		&expiresAt, &banned, &lastResetAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	e.Banned = banned != 0
	e.ExpiresAt = fromNullUnix(expiresAt)
	e.LastResetAt = fromNullUnix(lastResetAt)
	e.CreatedAt = fromUnix(createdAt)
	e.UpdatedAt = fromUnix(updatedAt)
	return &e, nil
}

// encodeList stores a slice as a JSON array. Nil becomes "[]".
func encodeList[T any](v []T) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList[T any](s string, dst *[]T) error {
	if strings.TrimSpace(s) == "" {
		*dst = []T{}
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = []T{}
	}
	return nil
}

// uniqueIDs sorts ids and drops duplicates. The result is never nil.
func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []int64{}
	}
	return out
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

// nullUnix converts an optional time to a nullable unix column value.
func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	// SQLite constraint errors include "UNIQUE constraint failed"
	return containsFold(err.Error(), "unique constraint")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

// checkAffected maps a zero-row update or delete to notFound.
func checkAffected(result sql.Result, op string, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return models.Storage(op, err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// stripNodeRef removes id from the JSON id list in column of every node that
// references it. column is "group_ids" or "route_ids".
func stripNodeRef(ctx context.Context, tx *sql.Tx, column string, id int64, now time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE nodes
		SET `+column+` = (
				SELECT json_group_array(value) FROM json_each(nodes.`+column+`) WHERE value != ?
			),
			updated_at = ?
		WHERE EXISTS (SELECT 1 FROM json_each(nodes.`+column+`) WHERE value = ?)
	`, id, now.Unix(), id)
	if err != nil {
		return 0, models.Storage("strip node "+column, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, models.Storage("strip node "+column, err)
	}
	return n, nil
}

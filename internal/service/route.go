package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/util"
	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/subscription"
)

// RouteService manages route rules.
type RouteService struct {
	db     *sql.DB
	logger *zap.Logger
	bus    *events.Bus
}

// NewRouteService creates a new RouteService.
func NewRouteService(db *sql.DB, logger *zap.Logger, bus *events.Bus) *RouteService {
	return &RouteService{db: db, logger: logger, bus: bus}
}

// CreateRoute creates a route rule after validating its patterns and action.
func (s *RouteService) CreateRoute(ctx context.Context, req *models.RouteRequest) (*models.RouteRule, error) {
	rule := &models.RouteRule{
		Remarks:     strings.TrimSpace(req.Remarks),
		Match:       req.Match,
		Action:      req.Action,
		ActionValue: strings.TrimSpace(req.ActionValue),
	}
	if err := validateRoute(rule); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO route_rules (remarks, match_patterns, action, action_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rule.Remarks, encodeList(rule.Match), rule.Action, rule.ActionValue, now.Unix(), now.Unix())
	if err != nil {
		return nil, models.Storage("insert route", err)
	}
	rule.ID, err = result.LastInsertId()
	if err != nil {
		return nil, models.Storage("insert route", err)
	}
	rule.CreatedAt, rule.UpdatedAt = now, now

	s.logger.Info("route rule created",
		zap.Int64("route_id", rule.ID),
		zap.String("action", rule.Action),
		zap.Int("patterns", len(rule.Match)),
	)
	s.bus.PublishRegistryChanged("route", rule.ID, "created")
	return rule, nil
}

// GetRoute returns one route rule.
func (s *RouteService) GetRoute(ctx context.Context, routeID int64) (*models.RouteRule, error) {
	r, err := scanRoute(s.db.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM route_rules WHERE id = ?`, routeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRouteNotFound
	}
	if err != nil {
		return nil, models.Storage("get route", err)
	}
	return r, nil
}

// ListRoutes returns every route rule ordered by id.
func (s *RouteService) ListRoutes(ctx context.Context) ([]models.RouteRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+routeColumns+` FROM route_rules ORDER BY id`)
	if err != nil {
		return nil, models.Storage("list routes", err)
	}
	defer rows.Close()

	routes := []models.RouteRule{}
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, models.Storage("scan route", err)
		}
		routes = append(routes, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Storage("list routes", err)
	}
	return routes, nil
}

// UpdateRoute applies a partial update to a route rule.
func (s *RouteService) UpdateRoute(ctx context.Context, routeID int64, req *models.RouteUpdateRequest) (*models.RouteRule, error) {
	rule, err := s.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if req.Remarks != nil {
		rule.Remarks = strings.TrimSpace(*req.Remarks)
	}
	if req.Match != nil {
		rule.Match = *req.Match
	}
	if req.Action != nil {
		rule.Action = *req.Action
	}
	if req.ActionValue != nil {
		rule.ActionValue = strings.TrimSpace(*req.ActionValue)
	}
	if err := validateRoute(rule); err != nil {
		return nil, err
	}

	rule.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	result, err := s.db.ExecContext(ctx, `
		UPDATE route_rules
		SET remarks = ?, match_patterns = ?, action = ?, action_value = ?, updated_at = ?
		WHERE id = ?
	`, rule.Remarks, encodeList(rule.Match), rule.Action, rule.ActionValue, rule.UpdatedAt.Unix(), routeID)
	if err != nil {
		return nil, models.Storage("update route", err)
	}
	if err := checkAffected(result, "update route", models.ErrRouteNotFound); err != nil {
		return nil, err
	}

	s.bus.PublishRegistryChanged("route", routeID, "updated")
	return rule, nil
}

// DeleteRoute removes a route rule and its id from every node's route list
// in one transaction.
func (s *RouteService) DeleteRoute(ctx context.Context, routeID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Storage("begin delete route", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM route_rules WHERE id = ?`, routeID)
	if err != nil {
		return models.Storage("delete route", err)
	}
	if err := checkAffected(result, "delete route", models.ErrRouteNotFound); err != nil {
		return err
	}
	nodes, err := stripNodeRef(ctx, tx, "route_ids", routeID, time.Now())
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return models.Storage("commit delete route", err)
	}

	s.logger.Info("route rule deleted", zap.Int64("route_id", routeID), zap.Int64("nodes_updated", nodes))
	s.bus.PublishRegistryChanged("route", routeID, "deleted")
	return nil
}

// validateRoute checks a rule and normalizes its patterns.
func validateRoute(rule *models.RouteRule) error {
	if rule.Remarks == "" || len(rule.Remarks) > 255 {
		return models.Invalid("remarks", "must be 1-255 characters")
	}

	patterns := make([]string, 0, len(rule.Match))
	for _, m := range rule.Match {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if err := validatePattern(m); err != nil {
			return models.Invalid("match", "%q: %v", m, err)
		}
		patterns = append(patterns, m)
	}
	if len(patterns) == 0 {
		return models.Invalid("match", "at least one pattern is required")
	}
	rule.Match = patterns

	switch rule.Action {
	case models.RouteActionBlock:
		rule.ActionValue = ""
	case models.RouteActionDNS:
		if err := util.ValidateDNSServer(rule.ActionValue); err != nil {
			return models.Invalid("action_value", "%v", err)
		}
	default:
		return models.Invalid("action", "must be %q or %q", models.RouteActionBlock, models.RouteActionDNS)
	}
	return nil
}

func validatePattern(s string) error {
	p := subscription.ParsePattern(s)
	switch p.Kind {
	case subscription.MatchSuffix, subscription.MatchFull:
		return util.ValidateDomain(p.Value)
	case subscription.MatchKeyword:
		if p.Value == "" || strings.ContainsAny(p.Value, " ,") {
			return errors.New("keyword must be non-empty without spaces or commas")
		}
	case subscription.MatchRegexp:
		if _, err := regexp.Compile(p.Value); err != nil {
			return err
		}
	}
	return nil
}

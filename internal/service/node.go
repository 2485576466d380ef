package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/util"
	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/protocol"
	"subgate.io/subgate/pkg/token"
)

// NodeService manages proxy nodes in the registry.
type NodeService struct {
	db     *sql.DB
	logger *zap.Logger
	secret string
	bus    *events.Bus
}

// NewNodeService creates a new NodeService.
//
// Parameters:
//   - db: Database connection
//   - logger: Structured logger
//   - secret: HMAC secret used to hash node tokens
//   - bus: Event bus notified after every mutation (may be nil)
func NewNodeService(db *sql.DB, logger *zap.Logger, secret string, bus *events.Bus) *NodeService {
	return &NodeService{
		db:     db,
		logger: logger,
		secret: secret,
		bus:    bus,
	}
}

// CreateNode registers a node and returns it together with its reporting token.
//
// The protocol config is validated strictly: unknown fields and missing
// required fields are rejected with a ValidationError.
//
// Parameters:
//   - ctx: Request context
//   - req: Node definition
func (s *NodeService) CreateNode(ctx context.Context, req *models.NodeCreateRequest) (*models.NodeCredentials, error) {
	node := &models.Node{
		Name:       strings.TrimSpace(req.Name),
		Protocol:   strings.ToLower(strings.TrimSpace(req.Protocol)),
		Host:       strings.TrimSpace(req.Host),
		Port:       strings.TrimSpace(req.Port),
		ServerPort: req.ServerPort,
		Rate:       req.Rate,
		Visible:    req.Visible,
		Sort:       req.Sort,
		GroupIDs:   uniqueIDs(req.GroupIDs),
		RouteIDs:   uniqueIDs(req.RouteIDs),
		ParentID:   req.ParentID,
		Tags:       cleanTags(req.Tags),
		Config:     req.Config,
	}
	if node.Rate == 0 {
		node.Rate = 1
	}
	if err := validateNode(node); err != nil {
		return nil, err
	}

	creds, err := s.insert(ctx, node)
	if err != nil {
		return nil, err
	}

	s.logger.Info("node created",
		zap.Int64("node_id", creds.Node.ID),
		zap.String("protocol", creds.Node.Protocol),
		zap.Bool("visible", creds.Node.Visible),
	)
	s.bus.PublishRegistryChanged("node", creds.Node.ID, "created")
	return creds, nil
}

// GetNode returns one node.
func (s *NodeService) GetNode(ctx context.Context, nodeID int64) (*models.Node, error) {
	node, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNodeNotFound
	}
	if err != nil {
		return nil, models.Storage("get node", err)
	}
	return node, nil
}

// ListNodes returns every node ordered by sort weight then id.
func (s *NodeService) ListNodes(ctx context.Context) ([]models.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY sort, id`)
	if err != nil {
		return nil, models.Storage("list nodes", err)
	}
	defer rows.Close()

	nodes := []models.Node{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, models.Storage("scan node", err)
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Storage("list nodes", err)
	}
	return nodes, nil
}

// UpdateNode applies a partial update. Fields left nil keep their value.
//
// Parameters:
//   - ctx: Request context
//   - nodeID: Target node ID
//   - req: Fields to change
func (s *NodeService) UpdateNode(ctx context.Context, nodeID int64, req *models.NodeUpdateRequest) (*models.Node, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.Storage("begin update node", err)
	}
	defer tx.Rollback()

	node, err := scanNode(tx.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNodeNotFound
	}
	if err != nil {
		return nil, models.Storage("load node", err)
	}

	applyNodeUpdate(node, req)
	if node.ParentID != nil && *node.ParentID == node.ID {
		return nil, models.Invalid("parent_id", "a node cannot be its own parent")
	}
	if err := validateNode(node); err != nil {
		return nil, err
	}
	if err := checkNodeRefs(ctx, tx, node); err != nil {
		return nil, err
	}

	node.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	_, err = tx.ExecContext(ctx, `
		UPDATE nodes
		SET name = ?, host = ?, port = ?, server_port = ?, rate = ?, visible = ?, sort = ?,
			group_ids = ?, route_ids = ?, parent_id = ?, tags = ?, config = ?, updated_at = ?
		WHERE id = ?
	`, node.Name, node.Host, node.Port, node.ServerPort, node.Rate, boolToInt(node.Visible), node.Sort,
		encodeList(node.GroupIDs), encodeList(node.RouteIDs), node.ParentID, encodeList(node.Tags),
		string(node.Config), node.UpdatedAt.Unix(), node.ID)
	if err != nil {
		return nil, models.Storage("update node", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, models.Storage("commit update node", err)
	}

	s.logger.Info("node updated", zap.Int64("node_id", node.ID))
	s.bus.PublishRegistryChanged("node", node.ID, "updated")
	return node, nil
}

// DeleteNode removes a node. Nodes relaying for it lose their parent.
func (s *NodeService) DeleteNode(ctx context.Context, nodeID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, nodeID)
	if err != nil {
		return models.Storage("delete node", err)
	}
	if err := checkAffected(result, "delete node", models.ErrNodeNotFound); err != nil {
		return err
	}

	s.logger.Info("node deleted", zap.Int64("node_id", nodeID))
	s.bus.PublishRegistryChanged("node", nodeID, "deleted")
	return nil
}

// DuplicateNode copies a node's protocol config, groups, routes, tags and
// rate under a new identity. The copy is always hidden and gets its own
// reporting token, so it can be reviewed before it is published.
//
// Parameters:
//   - ctx: Request context
//   - nodeID: Source node ID
//   - req: Name, host and port overrides; empty fields keep the source value
func (s *NodeService) DuplicateNode(ctx context.Context, nodeID int64, req *models.NodeDuplicateRequest) (*models.NodeCredentials, error) {
	src, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	dup := *src
	dup.ID = 0
	dup.Visible = false
	dup.LastReportAt = nil
	dup.Name = src.Name + " (copy)"
	if name := strings.TrimSpace(req.Name); name != "" {
		dup.Name = name
	}
	if host := strings.TrimSpace(req.Host); host != "" {
		dup.Host = host
	}
	if port := strings.TrimSpace(req.Port); port != "" {
		dup.Port = port
	}
	if err := validateNode(&dup); err != nil {
		return nil, err
	}

	creds, err := s.insert(ctx, &dup)
	if err != nil {
		return nil, err
	}

	s.logger.Info("node duplicated",
		zap.Int64("source_node_id", nodeID),
		zap.Int64("node_id", creds.Node.ID),
	)
	s.bus.PublishRegistryChanged("node", creds.Node.ID, "duplicated")
	return creds, nil
}

// ReorderNodes assigns sort weights to a batch of nodes in one transaction.
// An unknown id rolls back the whole batch and returns ErrNodeNotFound.
func (s *NodeService) ReorderNodes(ctx context.Context, items []models.NodeSortItem) error {
	if len(items) == 0 {
		return models.Invalid("items", "at least one item is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Storage("begin reorder", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE nodes SET sort = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return models.Storage("prepare reorder", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, item := range items {
		result, err := stmt.ExecContext(ctx, item.Sort, now, item.ID)
		if err != nil {
			return models.Storage("reorder node", err)
		}
		if err := checkAffected(result, "reorder node", fmt.Errorf("%w: id %d", models.ErrNodeNotFound, item.ID)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Storage("commit reorder", err)
	}

	s.logger.Info("nodes reordered", zap.Int("count", len(items)))
	s.bus.PublishRegistryChanged("node", 0, "reordered")
	return nil
}

// RotateNodeToken replaces a node's reporting token. The old token stops
// working immediately.
func (s *NodeService) RotateNodeToken(ctx context.Context, nodeID int64) (*models.NodeCredentials, error) {
	newToken, err := token.Generate(token.Node)
	if err != nil {
		return nil, fmt.Errorf("failed to generate node token: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET token_hash = ?, updated_at = ? WHERE id = ?
	`, token.Hash(newToken, s.secret), time.Now().Unix(), nodeID)
	if err != nil {
		return nil, models.Storage("rotate node token", err)
	}
	if err := checkAffected(result, "rotate node token", models.ErrNodeNotFound); err != nil {
		return nil, err
	}

	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("node token rotated", zap.Int64("node_id", nodeID))
	s.bus.PublishRegistryChanged("node", nodeID, "token_rotated")
	return &models.NodeCredentials{Node: node, NodeToken: newToken}, nil
}

// AuthenticateNode resolves a node token to its node.
// Any failure is reported as ErrInvalidNodeToken except storage errors.
func (s *NodeService) AuthenticateNode(ctx context.Context, nodeToken string) (*models.Node, error) {
	if err := token.ValidateFormat(nodeToken, token.Node); err != nil {
		return nil, models.ErrInvalidNodeToken
	}

	hash := token.Hash(nodeToken, s.secret)
	node, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE token_hash = ? LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrInvalidNodeToken
	}
	if err != nil {
		return nil, models.Storage("authenticate node", err)
	}
	if !token.Validate(nodeToken, s.secret, node.TokenHash) {
		return nil, models.ErrInvalidNodeToken
	}
	return node, nil
}

// CountByProtocol returns the number of nodes per protocol.
func (s *NodeService) CountByProtocol(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT protocol, COUNT(*) FROM nodes GROUP BY protocol`)
	if err != nil {
		return nil, models.Storage("count nodes", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var proto string
		var n int
		if err := rows.Scan(&proto, &n); err != nil {
			return nil, models.Storage("count nodes", err)
		}
		counts[proto] = n
	}
	return counts, models.Storage("count nodes", rows.Err())
}

// insert stores node with a fresh token inside one transaction that also
// checks the node's group, route and parent references.
func (s *NodeService) insert(ctx context.Context, node *models.Node) (*models.NodeCredentials, error) {
	nodeToken, err := token.Generate(token.Node)
	if err != nil {
		return nil, fmt.Errorf("failed to generate node token: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.Storage("begin insert node", err)
	}
	defer tx.Rollback()

	if err := checkNodeRefs(ctx, tx, node); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (name, protocol, host, port, server_port, rate, visible, sort,
			group_ids, route_ids, parent_id, tags, config, token_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, node.Name, node.Protocol, node.Host, node.Port, node.ServerPort, node.Rate, boolToInt(node.Visible), node.Sort,
		encodeList(node.GroupIDs), encodeList(node.RouteIDs), node.ParentID, encodeList(node.Tags),
		string(node.Config), token.Hash(nodeToken, s.secret), now.Unix(), now.Unix())
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, models.ErrConflict
		}
		return nil, models.Storage("insert node", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, models.Storage("insert node", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, models.Storage("commit insert node", err)
	}

	out := *node
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &models.NodeCredentials{Node: &out, NodeToken: nodeToken}, nil
}

func applyNodeUpdate(node *models.Node, req *models.NodeUpdateRequest) {
	if req.Name != nil {
		node.Name = strings.TrimSpace(*req.Name)
	}
	if req.Host != nil {
		node.Host = strings.TrimSpace(*req.Host)
	}
	if req.Port != nil {
		node.Port = strings.TrimSpace(*req.Port)
	}
	if req.ServerPort != nil {
		node.ServerPort = *req.ServerPort
	}
	if req.Rate != nil {
		node.Rate = *req.Rate
	}
	if req.Visible != nil {
		node.Visible = *req.Visible
	}
	if req.Sort != nil {
		node.Sort = *req.Sort
	}
	if req.GroupIDs != nil {
		node.GroupIDs = uniqueIDs(*req.GroupIDs)
	}
	if req.RouteIDs != nil {
		node.RouteIDs = uniqueIDs(*req.RouteIDs)
	}
	if req.ClearParent {
		node.ParentID = nil
	} else if req.ParentID != nil {
		id := *req.ParentID
		node.ParentID = &id
	}
	if req.Tags != nil {
		node.Tags = cleanTags(*req.Tags)
	}
	if req.Config != nil {
		node.Config = *req.Config
	}
}

// validateNode checks every field of node and compacts its config.
func validateNode(node *models.Node) error {
	if node.Name == "" || len(node.Name) > 255 {
		return models.Invalid("name", "must be 1-255 characters")
	}
	kind, err := protocol.ParseKind(node.Protocol)
	if err != nil {
		return models.Invalid("protocol", "must be one of %v", protocol.Kinds)
	}
	if err := util.ValidateHost(node.Host); err != nil {
		return models.Invalid("host", "%v", err)
	}
	if _, _, err := protocol.ParsePort(node.Port); err != nil {
		return models.Invalid("port", "%v", err)
	}
	if err := util.ValidatePortRange(node.ServerPort); err != nil {
		return models.Invalid("server_port", "%v", err)
	}
	if node.Rate <= 0 {
		return models.Invalid("rate", "must be greater than zero")
	}
	for _, id := range node.GroupIDs {
		if id <= 0 {
			return models.Invalid("group_ids", "invalid group id %d", id)
		}
	}
	for _, id := range node.RouteIDs {
		if id <= 0 {
			return models.Invalid("route_ids", "invalid route id %d", id)
		}
	}

	if _, err := protocol.Decode(kind, node.Config, true); err != nil {
		return models.Invalid("config", "%v", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, node.Config); err != nil {
		return models.Invalid("config", "%v", err)
	}
	node.Config = compact.Bytes()
	return nil
}

// checkNodeRefs verifies that the node's groups, routes and parent exist.
func checkNodeRefs(ctx context.Context, tx *sql.Tx, node *models.Node) error {
	if missing, err := missingIDs(ctx, tx, "server_groups", node.GroupIDs); err != nil {
		return err
	} else if len(missing) > 0 {
		return models.Invalid("group_ids", "unknown groups %v", missing)
	}
	if missing, err := missingIDs(ctx, tx, "route_rules", node.RouteIDs); err != nil {
		return err
	} else if len(missing) > 0 {
		return models.Invalid("route_ids", "unknown route rules %v", missing)
	}
	if node.ParentID != nil {
		missing, err := missingIDs(ctx, tx, "nodes", []int64{*node.ParentID})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return models.Invalid("parent_id", "unknown node %d", *node.ParentID)
		}
	}
	return nil
}

// missingIDs returns the ids with no row in table. table is never user input.
func missingIDs(ctx context.Context, tx *sql.Tx, table string, ids []int64) ([]int64, error) {
	var missing []int64
	for _, id := range ids {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&n); err != nil {
			return nil, models.Storage("check "+table, err)
		}
		if n == 0 {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

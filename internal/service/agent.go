package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/models"
)

// AgentService answers the pulls a node agent makes to configure itself.
type AgentService struct {
	snapshots *SnapshotCache
	members   MembershipLookup
	ledger    *Ledger
	logger    *zap.Logger
}

// NewAgentService creates a new AgentService.
func NewAgentService(snapshots *SnapshotCache, members MembershipLookup, ledger *Ledger, logger *zap.Logger) *AgentService {
	return &AgentService{snapshots: snapshots, members: members, ledger: ledger, logger: logger}
}

// NodeConfig returns the node's own unredacted protocol config and the route
// rules it selected.
func (s *AgentService) NodeConfig(ctx context.Context, node *models.Node) (*models.NodeConfigResponse, error) {
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &models.NodeConfigResponse{
		NodeID:     node.ID,
		Protocol:   node.Protocol,
		ServerPort: node.ServerPort,
		Config:     node.Config,
		Routes:     routesFor(snap, node),
	}, nil
}

// NodeUsers returns the users a node should accept: members of the node's
// groups whose subscription is neither banned, expired nor exhausted.
// Groups that no longer exist are ignored.
func (s *AgentService) NodeUsers(ctx context.Context, node *models.Node) (*models.NodeUsersResponse, error) {
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		return nil, err
	}

	groups := snap.NodeGroups(node)
	candidates, err := s.members.UsersInGroups(ctx, groups)
	if err != nil {
		return nil, err
	}
	active, err := s.ledger.ActiveUsers(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	users := make([]models.NodeUser, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := active[id]; ok {
			users = append(users, models.NodeUser{UserID: id})
		}
	}

	s.logger.Debug("node user list built",
		zap.Int64("node_id", node.ID),
		zap.Int("groups", len(groups)),
		zap.Int("users", len(users)),
	)
	return &models.NodeUsersResponse{Users: users}, nil
}

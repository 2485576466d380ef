package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subgate.io/subgate/models"
)

func userIDs(resp *models.NodeUsersResponse) []int64 {
	ids := make([]int64, len(resp.Users))
	for i, u := range resp.Users {
		ids[i] = u.UserID
	}
	return ids
}

func TestNodeConfigIsUnredacted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	route, err := env.routes.CreateRoute(ctx, &models.RouteRequest{
		Remarks: "ads", Match: []string{"keyword:ads"}, Action: models.RouteActionBlock,
	})
	require.NoError(t, err)
	_, err = env.routes.CreateRoute(ctx, &models.RouteRequest{
		Remarks: "other", Match: []string{"example.org"}, Action: models.RouteActionBlock,
	})
	require.NoError(t, err)

	creds, err := env.nodes.CreateNode(ctx, &models.NodeCreateRequest{
		Name: "a", Protocol: "shadowsocks", Host: "node.example.com", Port: "443", ServerPort: 8443,
		RouteIDs: []int64{route.ID}, Config: []byte(ssConfig),
	})
	require.NoError(t, err)

	cfg, err := env.agent.NodeConfig(ctx, creds.Node)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.ServerPort)
	assert.Contains(t, string(cfg.Config), "operator-key")
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, "ads", cfg.Routes[0].Remarks)
}

func TestNodeUsersFiltersInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g1 := env.createGroup(t, "g1")
	g2 := env.createGroup(t, "g2")
	creds := env.createNode(t, "a", "shadowsocks", ssConfig, true, g1)

	env.issue(t, 1, 100, g1)
	env.issue(t, 2, 100, g1)
	env.issue(t, 3, 100, g1)
	env.issue(t, 4, 100, g1)
	env.issue(t, 5, 100, g2)

	_, err := env.ledger.SetBanned(ctx, 2, true)
	require.NoError(t, err)
	require.NoError(t, env.ledger.ApplyDelta(ctx, 3, 50, 50))
	past := time.Now().Add(-time.Hour)
	_, err = env.dir.SetUserPlan(ctx, 4, &models.UserPlanRequest{PlanID: 4, ExpiresAt: &past})
	require.NoError(t, err)

	resp, err := env.agent.NodeUsers(ctx, creds.Node)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, userIDs(resp))
}

func TestNodeUsersIgnoresDeletedGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g := env.createGroup(t, "g")
	creds := env.createNode(t, "a", "shadowsocks", ssConfig, true, g)
	env.issue(t, 1, 100, g)

	require.NoError(t, env.groups.DeleteGroup(ctx, g))

	resp, err := env.agent.NodeUsers(ctx, creds.Node)
	require.NoError(t, err)
	assert.Empty(t, resp.Users)
}

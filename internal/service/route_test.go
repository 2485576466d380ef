package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subgate.io/subgate/models"
)

func TestCreateRouteValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   models.RouteRequest
		field string
	}{
		{"ok block", models.RouteRequest{Remarks: "ads", Match: []string{"ads.example.com", "keyword:tracker"}, Action: "block"}, ""},
		{"ok dns", models.RouteRequest{Remarks: "cn", Match: []string{"domain:example.cn"}, Action: "dns", ActionValue: "223.5.5.5"}, ""},
		{"ok regexp", models.RouteRequest{Remarks: "re", Match: []string{`regexp:^ad[0-9]+\.`}, Action: "block"}, ""},
		{"empty remarks", models.RouteRequest{Remarks: "", Match: []string{"a.com"}, Action: "block"}, "remarks"},
		{"no patterns", models.RouteRequest{Remarks: "r", Match: []string{" ", ""}, Action: "block"}, "match"},
		{"bad domain", models.RouteRequest{Remarks: "r", Match: []string{"full:not a domain"}, Action: "block"}, "match"},
		{"bad keyword", models.RouteRequest{Remarks: "r", Match: []string{"keyword:a,b"}, Action: "block"}, "match"},
		{"bad regexp", models.RouteRequest{Remarks: "r", Match: []string{"regexp:("}, Action: "block"}, "match"},
		{"dns without server", models.RouteRequest{Remarks: "r", Match: []string{"a.com"}, Action: "dns"}, "action_value"},
		{"unknown action", models.RouteRequest{Remarks: "r", Match: []string{"a.com"}, Action: "proxy"}, "action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			rule, err := env.routes.CreateRoute(ctx, &req)
			if tt.field == "" {
				require.NoError(t, err)
				assert.NotZero(t, rule.ID)
				return
			}
			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRouteBlockClearsActionValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule, err := env.routes.CreateRoute(ctx, &models.RouteRequest{
		Remarks: "r", Match: []string{" a.com "}, Action: "block", ActionValue: "1.1.1.1",
	})
	require.NoError(t, err)
	assert.Empty(t, rule.ActionValue)
	assert.Equal(t, []string{"a.com"}, rule.Match)
}

func TestUpdateAndDeleteRoute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule, err := env.routes.CreateRoute(ctx, &models.RouteRequest{Remarks: "r", Match: []string{"a.com"}, Action: "block"})
	require.NoError(t, err)

	action, server := "dns", "https://dns.example.com/dns-query"
	updated, err := env.routes.UpdateRoute(ctx, rule.ID, &models.RouteUpdateRequest{Action: &action, ActionValue: &server})
	require.NoError(t, err)
	assert.Equal(t, "dns", updated.Action)
	assert.Equal(t, server, updated.ActionValue)

	got, err := env.routes.GetRoute(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, server, got.ActionValue)

	require.NoError(t, env.routes.DeleteRoute(ctx, rule.ID))
	assert.ErrorIs(t, env.routes.DeleteRoute(ctx, rule.ID), models.ErrRouteNotFound)

	_, err = env.routes.UpdateRoute(ctx, rule.ID, &models.RouteUpdateRequest{Action: &action})
	assert.ErrorIs(t, err, models.ErrRouteNotFound)
}

func TestDeletedRouteDisappearsFromNodeConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule, err := env.routes.CreateRoute(ctx, &models.RouteRequest{Remarks: "r", Match: []string{"a.com"}, Action: "block"})
	require.NoError(t, err)
	creds, err := env.nodes.CreateNode(ctx, &models.NodeCreateRequest{
		Name: "a", Protocol: "shadowsocks", Host: "node.example.com", Port: "443", ServerPort: 8443,
		RouteIDs: []int64{rule.ID}, Config: []byte(ssConfig),
	})
	require.NoError(t, err)

	require.NoError(t, env.routes.DeleteRoute(ctx, rule.ID))

	cfg, err := env.agent.NodeConfig(ctx, creds.Node)
	require.NoError(t, err)
	assert.Empty(t, cfg.Routes)
}

func TestDeleteRouteStripsNodeReferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	keep, err := env.routes.CreateRoute(ctx, &models.RouteRequest{Remarks: "keep", Match: []string{"a.com"}, Action: "block"})
	require.NoError(t, err)
	gone, err := env.routes.CreateRoute(ctx, &models.RouteRequest{Remarks: "gone", Match: []string{"b.com"}, Action: "block"})
	require.NoError(t, err)
	creds, err := env.nodes.CreateNode(ctx, &models.NodeCreateRequest{
		Name: "a", Protocol: "shadowsocks", Host: "node.example.com", Port: "443", ServerPort: 8443,
		RouteIDs: []int64{keep.ID, gone.ID}, Config: []byte(ssConfig),
	})
	require.NoError(t, err)

	require.NoError(t, env.routes.DeleteRoute(ctx, gone.ID))
	assert.ErrorIs(t, env.routes.DeleteRoute(ctx, gone.ID), models.ErrRouteNotFound)

	node, err := env.nodes.GetNode(ctx, creds.Node.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{keep.ID}, node.RouteIDs)

	sort := int64(5)
	_, err = env.nodes.UpdateNode(ctx, creds.Node.ID, &models.NodeUpdateRequest{Sort: &sort})
	require.NoError(t, err)

	dup, err := env.nodes.DuplicateNode(ctx, creds.Node.ID, &models.NodeDuplicateRequest{})
	require.NoError(t, err)
	assert.Equal(t, []int64{keep.ID}, dup.Node.RouteIDs)
}

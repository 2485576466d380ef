package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subgate.io/subgate/models"
)

func TestSetUserGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g1 := env.createGroup(t, "g1")
	g2 := env.createGroup(t, "g2")

	ids, err := env.dir.SetUserGroups(ctx, 7, []int64{g2, g1, g2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{g1, g2}, ids)

	groups, err := env.dir.GroupsForUser(ctx, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{g1, g2}, groups)

	_, err = env.dir.SetUserGroups(ctx, 7, []int64{g1, 999})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	// The failed call left the membership untouched.
	groups, err = env.dir.GroupsForUser(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	_, err = env.dir.SetUserGroups(ctx, 7, nil)
	require.NoError(t, err)
	groups, err = env.dir.GroupsForUser(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestUsersInGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g1 := env.createGroup(t, "g1")
	g2 := env.createGroup(t, "g2")

	_, err := env.dir.SetUserGroups(ctx, 1, []int64{g1})
	require.NoError(t, err)
	_, err = env.dir.SetUserGroups(ctx, 2, []int64{g1, g2})
	require.NoError(t, err)
	_, err = env.dir.SetUserGroups(ctx, 3, []int64{g2})
	require.NoError(t, err)

	users, err := env.dir.UsersInGroups(ctx, []int64{g1, g2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, users)

	users, err = env.dir.UsersInGroups(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPlans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	plan, err := env.dir.CreatePlan(ctx, &models.PlanRequest{Name: "basic", TransferBytes: 100})
	require.NoError(t, err)

	_, err = env.dir.CreatePlan(ctx, &models.PlanRequest{Name: "basic"})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = env.dir.CreatePlan(ctx, &models.PlanRequest{Name: "neg", TransferBytes: -1})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	plans, err := env.dir.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, plan.ID, plans[0].ID)

	_, _, err = env.dir.PlanForUser(ctx, 1)
	assert.ErrorIs(t, err, models.ErrPlanNotFound)

	_, err = env.dir.SetUserPlan(ctx, 1, &models.UserPlanRequest{PlanID: 999})
	assert.ErrorIs(t, err, models.ErrPlanNotFound)

	expires := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	_, err = env.dir.SetUserPlan(ctx, 1, &models.UserPlanRequest{PlanID: plan.ID, ExpiresAt: &expires})
	require.NoError(t, err)

	got, exp, err := env.dir.PlanForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "basic", got.Name)
	require.NotNil(t, exp)
	assert.True(t, exp.Equal(expires))
}

func TestSetUserPlanSyncsSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, 100)
	require.NoError(t, env.ledger.ApplyDelta(ctx, 1, 10, 10))

	bigger, err := env.dir.CreatePlan(ctx, &models.PlanRequest{Name: "bigger", TransferBytes: 1000})
	require.NoError(t, err)
	_, err = env.dir.SetUserPlan(ctx, 1, &models.UserPlanRequest{PlanID: bigger.ID})
	require.NoError(t, err)

	ent, err := env.tokens.GetSubscription(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, bigger.ID, ent.PlanID)
	assert.Equal(t, int64(1000), ent.TotalBytes)
	assert.Equal(t, int64(10), ent.Upload, "usage survives a plan change")
}

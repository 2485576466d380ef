package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/models"
)

const gib = int64(1) << 30

func TestApplyDeltaConcurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, 100)

	var wg sync.WaitGroup
	for _, d := range [][2]int64{{2, 1}, {3, 4}} {
		wg.Add(1)
		go func(up, down int64) {
			defer wg.Done()
			assert.NoError(t, env.ledger.ApplyDelta(ctx, 1, up, down))
		}(d[0], d[1])
	}
	wg.Wait()

	ent, err := env.tokens.GetSubscription(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ent.Upload)
	assert.Equal(t, int64(5), ent.Download)
}

func TestApplyDeltaManyWriters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, 1<<40)

	const writers, rounds = 10, 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				assert.NoError(t, env.ledger.ApplyDelta(ctx, 1, 3, 7))
			}
		}()
	}
	wg.Wait()

	ent, err := env.tokens.GetSubscription(ctx, 1)
	require.NoError(t, err)
	usage := ent.Usage()
	assert.Equal(t, int64(writers*rounds*3), ent.Upload)
	assert.Equal(t, int64(writers*rounds*7), ent.Download)
	assert.Equal(t, ent.Upload+ent.Download, usage.Used)
	assert.Equal(t, max(0, ent.TotalBytes-usage.Used), usage.Remaining)
}

func TestComputeUsageExample(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, 100*gib)
	require.NoError(t, env.ledger.ApplyDelta(ctx, 1, 10*gib, 5*gib))

	usage, err := env.ledger.ComputeUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 15*gib, usage.Used)
	assert.Equal(t, 85*gib, usage.Remaining)
	assert.Equal(t, 15.0, usage.UsagePercent)
}

func TestApplyDeltaErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.ledger.ApplyDelta(ctx, 404, 1, 1), models.ErrEntitlementNotFound)

	env.issue(t, 1, 10)
	assert.ErrorIs(t, env.ledger.ApplyDelta(ctx, 1, -1, 0), models.ErrInvalidRequest)
	assert.ErrorIs(t, env.ledger.ApplyDelta(ctx, 1, 0, models.MaxEntryBytes+1), models.ErrInvalidRequest)
}

func TestApplyDeltaSaturates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, 1<<30)

	_, err := env.db.Exec(`UPDATE entitlements SET upload = ?, download = ? WHERE user_id = 1`,
		models.MaxCounterBytes-10, models.MaxCounterBytes)
	require.NoError(t, err)

	require.NoError(t, env.ledger.ApplyDelta(ctx, 1, models.MaxEntryBytes, models.MaxEntryBytes))

	ent, err := env.tokens.GetSubscription(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.MaxCounterBytes, ent.Upload)
	assert.Equal(t, models.MaxCounterBytes, ent.Download)

	usage := ent.Usage()
	assert.Positive(t, usage.Used)
	assert.Zero(t, usage.Remaining)
}

func TestApplyDeltaFiresQuotaExhaustedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, 100)

	var fired []events.QuotaExhaustedEvent
	env.bus.Subscribe(events.QuotaExhausted, func(payload any) error {
		fired = append(fired, payload.(events.QuotaExhaustedEvent))
		return nil
	})

	require.NoError(t, env.ledger.ApplyDelta(ctx, 1, 50, 0))
	require.NoError(t, env.ledger.ApplyDelta(ctx, 1, 30, 30))
	require.NoError(t, env.ledger.ApplyDelta(ctx, 1, 10, 0))

	require.Len(t, fired, 1)
	assert.Equal(t, int64(110), fired[0].Used)
	assert.Equal(t, int64(100), fired[0].Total)
}

func TestResetTraffic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, 100)
	require.NoError(t, env.ledger.ApplyDelta(ctx, 1, 60, 60))

	before := time.Now().Add(-time.Second)
	ent, err := env.ledger.ResetTraffic(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, ent.Upload)
	assert.Zero(t, ent.Download)
	require.NotNil(t, ent.LastResetAt)
	assert.True(t, ent.LastResetAt.After(before))
	assert.Equal(t, models.StatusActive, ent.Status(time.Now()))

	_, err = env.ledger.ResetTraffic(ctx, 404)
	assert.ErrorIs(t, err, models.ErrEntitlementNotFound)
}

func TestActiveUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.issue(t, 1, 100)
	env.issue(t, 2, 100)
	env.issue(t, 3, 100)
	env.issue(t, 4, 100)

	_, err := env.ledger.SetBanned(ctx, 2, true)
	require.NoError(t, err)
	require.NoError(t, env.ledger.ApplyDelta(ctx, 3, 100, 0))

	past := time.Now().Add(-time.Hour)
	_, err = env.dir.SetUserPlan(ctx, 4, &models.UserPlanRequest{PlanID: 4, ExpiresAt: &past})
	require.NoError(t, err)

	active, err := env.ledger.ActiveUsers(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{1: {}}, active)
}

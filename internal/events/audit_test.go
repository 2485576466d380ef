package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegisterAuditLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := NewBus(zap.NewNop())
	RegisterAuditLog(bus, zap.New(core))

	bus.PublishTokenReset(3, 2)
	bus.PublishQuotaExhausted(4, 100, 100)
	bus.PublishTrafficApplied(TrafficAppliedEvent{NodeID: 1, Entries: 2, Upload: 10, Download: 20})

	resets := logs.FilterMessage("subscription token replaced").All()
	require.Len(t, resets, 1)
	assert.Equal(t, int64(3), resets[0].ContextMap()["user_id"])
	assert.Equal(t, "audit", resets[0].ContextMap()["component"])

	exhausted := logs.FilterMessage("user quota exhausted").All()
	require.Len(t, exhausted, 1)
	assert.Equal(t, zapcore.WarnLevel, exhausted[0].Level)

	applied := logs.FilterMessage("traffic report applied").All()
	require.Len(t, applied, 1)
	assert.Equal(t, int64(20), applied[0].ContextMap()["download"])
}

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := NewLogger(Config{
		Level:       "info",
		Environment: EnvironmentProduction,
		OutputPaths: []string{path},
	})
	require.NoError(t, err)

	logger.Debug("dropped")
	logger.Info("node created", zap.Int64(FieldNodeID, 7))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dropped")
	assert.Equal(t, "node created", gjson.GetBytes(raw, "msg").String())
	assert.Equal(t, int64(7), gjson.GetBytes(raw, FieldNodeID).Int())
}

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{" warn ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(Config{Level: tt.level, Environment: EnvironmentProduction})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Level: "loud", Environment: EnvironmentProduction}.Validate())
	assert.Error(t, Config{Level: "info", Environment: "staging"}.Validate())
}

func TestDevelopmentAndProductionHelpers(t *testing.T) {
	dev, err := NewDevelopmentLogger()
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))

	prod, err := NewProductionLogger("")
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, prod.Core().Enabled(zapcore.InfoLevel))
}

func TestMustNewLoggerPanics(t *testing.T) {
	assert.NotPanics(t, func() { MustNewLogger(DefaultConfig()) })
	assert.Panics(t, func() { MustNewLogger(Config{Level: "invalid"}) })
}

func TestEncodingFromEnvironment(t *testing.T) {
	assert.Equal(t, "json", encodingFromEnvironment(EnvironmentProduction))
	assert.Equal(t, "console", encodingFromEnvironment(EnvironmentDevelopment))
	assert.Equal(t, "json", encodingFromEnvironment(""))
}

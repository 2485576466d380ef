package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvironmentProduction logs JSON with sampling.
	EnvironmentProduction Environment = "production"

	// EnvironmentDevelopment logs colored console output without sampling.
	EnvironmentDevelopment Environment = "development"
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum enabled logging level (debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Environment determines the log format (production = JSON, development = console).
	Environment Environment `mapstructure:"environment"`

	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`

	DisableCaller     bool `mapstructure:"disable_caller"`
	DisableStacktrace bool `mapstructure:"disable_stacktrace"`
}

// DefaultConfig returns a production configuration at info level.
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		Environment:      EnvironmentProduction,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// Validate checks the level and environment.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	switch c.Environment {
	case EnvironmentProduction, EnvironmentDevelopment:
		return nil
	default:
		return fmt.Errorf("unknown log environment %q", c.Environment)
	}
}

// NewLogger creates a new zap logger based on the provided configuration.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	dev := cfg.Environment == EnvironmentDevelopment

	var encoderConfig zapcore.EncoderConfig
	if dev {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := cfg.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       dev,
		DisableCaller:     cfg.DisableCaller,
		DisableStacktrace: cfg.DisableStacktrace,
		Encoding:          encodingFromEnvironment(cfg.Environment),
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  errOutputs,
	}
	// Traffic reports and subscription fetches are bursty; sample repeats in production.
	if !dev {
		zapConfig.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// NewDevelopmentLogger creates a debug-level console logger.
func NewDevelopmentLogger() (*zap.Logger, error) {
	cfg := DefaultConfig()
	cfg.Environment = EnvironmentDevelopment
	cfg.Level = "debug"
	return NewLogger(cfg)
}

// NewProductionLogger creates a JSON logger at level, defaulting to info.
func NewProductionLogger(level string) (*zap.Logger, error) {
	cfg := DefaultConfig()
	if level != "" {
		cfg.Level = level
	}
	return NewLogger(cfg)
}

// Component returns logger tagged with a component name.
func Component(logger *zap.Logger, name string) *zap.Logger {
	return logger.With(zap.String(FieldComponent, name))
}

func encodingFromEnvironment(env Environment) string {
	if env == EnvironmentDevelopment {
		return "console"
	}
	return "json"
}

// ParseLevel converts a case-insensitive level name to zapcore.Level.
func ParseLevel(level string) (zapcore.Level, error) {
	return zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
}

// MustNewLogger creates a new logger and panics if there's an error.
// This should only be used during application startup.
func MustNewLogger(cfg Config) *zap.Logger {
	logger, err := NewLogger(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	return logger
}

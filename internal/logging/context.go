package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves a logger from the context.
// If no logger is found, it returns a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// AddFields returns a context whose logger carries fields.
func AddFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(fields...))
}

// With returns the context logger with fields added.
func With(ctx context.Context, fields ...zap.Field) *zap.Logger {
	return FromContext(ctx).With(fields...)
}

// helper skips this package's frame so callers are reported correctly.
func helper(ctx context.Context) *zap.Logger {
	return FromContext(ctx).WithOptions(zap.AddCallerSkip(1))
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) { helper(ctx).Debug(msg, fields...) }
func Info(ctx context.Context, msg string, fields ...zap.Field)  { helper(ctx).Info(msg, fields...) }
func Warn(ctx context.Context, msg string, fields ...zap.Field)  { helper(ctx).Warn(msg, fields...) }
func Error(ctx context.Context, msg string, fields ...zap.Field) { helper(ctx).Error(msg, fields...) }

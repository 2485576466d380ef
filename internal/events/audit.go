package events

import (
	"go.uber.org/zap"
)

// RegisterAuditLog logs token resets, quota exhaustion and applied traffic
// reports. Registry changes are already logged by the services that make them.
func RegisterAuditLog(b *Bus, logger *zap.Logger) {
	logger = logger.With(zap.String("component", "audit"))

	b.Subscribe(TokenReset, func(payload any) error {
		if e, ok := payload.(TokenResetEvent); ok {
			logger.Info("subscription token replaced",
				zap.Int64("user_id", e.UserID),
				zap.Int64("token_version", e.TokenVersion),
			)
		}
		return nil
	})

	b.Subscribe(QuotaExhausted, func(payload any) error {
		if e, ok := payload.(QuotaExhaustedEvent); ok {
			logger.Warn("user quota exhausted",
				zap.Int64("user_id", e.UserID),
				zap.Int64("used", e.Used),
				zap.Int64("total", e.Total),
			)
		}
		return nil
	})

	b.Subscribe(TrafficApplied, func(payload any) error {
		if e, ok := payload.(TrafficAppliedEvent); ok {
			logger.Debug("traffic report applied",
				zap.Int64("node_id", e.NodeID),
				zap.Int("entries", e.Entries),
				zap.Int64("upload", e.Upload),
				zap.Int64("download", e.Download),
			)
		}
		return nil
	})
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/metrics"
	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/token"
)

// TokenService issues, resolves and rotates subscription tokens.
//
// Only the HMAC hash of a token is stored. A token is returned in plaintext
// exactly once, when it is issued or reset.
type TokenService struct {
	db     *sql.DB
	logger *zap.Logger
	secret string
	plans  PlanLookup
	bus    *events.Bus
}

// NewTokenService creates a new TokenService.
//
// Parameters:
//   - db: Database connection
//   - logger: Structured logger
//   - secret: HMAC secret used to hash subscription tokens
//   - plans: Source of the quota and expiry copied into new subscriptions
//   - bus: Event bus notified after token resets (may be nil)
func NewTokenService(db *sql.DB, logger *zap.Logger, secret string, plans PlanLookup, bus *events.Bus) *TokenService {
	return &TokenService{
		db:     db,
		logger: logger,
		secret: secret,
		plans:  plans,
		bus:    bus,
	}
}

// IssueToken creates a user's subscription and its first token.
// The quota and expiry are copied from the user's plan. A user that already
// holds a subscription gets ErrConflict; use ResetToken to rotate.
func (s *TokenService) IssueToken(ctx context.Context, userID int64) (*models.SubscriptionIssued, error) {
	if userID <= 0 {
		return nil, models.Invalid("user_id", "must be positive")
	}

	plan, expiresAt, err := s.plans.PlanForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	subToken, err := token.Generate(token.Subscription)
	if err != nil {
		return nil, fmt.Errorf("failed to generate subscription token: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entitlements (user_id, token_hash, token_version, plan_id, total_bytes, expires_at, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
	`, userID, token.Hash(subToken, s.secret), plan.ID, plan.TransferBytes, nullUnix(expiresAt), now, now)
	if err != nil {
		if isUniqueConstraint(err) || isPrimaryKeyConstraint(err) {
			return nil, models.ErrConflict
		}
		return nil, models.Storage("insert entitlement", err)
	}

	s.logger.Info("subscription issued", zap.Int64("user_id", userID), zap.Int64("plan_id", plan.ID))
	return &models.SubscriptionIssued{UserID: userID, Token: subToken}, nil
}

// LookupToken resolves a subscription token. Unknown or malformed tokens
// return ErrInvalidToken. The entitlement is returned regardless of its
// status; callers decide how to treat banned, expired or exhausted users.
func (s *TokenService) LookupToken(ctx context.Context, subToken string) (*models.Entitlement, error) {
	if err := token.ValidateFormat(subToken, token.Subscription); err != nil {
		return nil, models.ErrInvalidToken
	}

	e, err := scanEntitlement(s.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE token_hash = ? LIMIT 1`,
		token.Hash(subToken, s.secret)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, models.Storage("lookup token", err)
	}

	// Validate token using constant-time comparison
	if !token.Validate(subToken, s.secret, e.TokenHash) {
		return nil, models.ErrInvalidToken
	}
	return e, nil
}

// ResetToken replaces a user's token. Without confirm it fails with
// ErrConfirmationRequired and changes nothing.
//
// The swap is a compare-and-swap on token_version: of two concurrent resets
// exactly one succeeds and the other gets ErrConflict. The old token fails
// LookupToken as soon as the UPDATE commits.
func (s *TokenService) ResetToken(ctx context.Context, userID int64, confirm bool) (*models.SubscriptionIssued, error) {
	if !confirm {
		return nil, models.ErrConfirmationRequired
	}

	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT token_version FROM entitlements WHERE user_id = ?`, userID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, models.Storage("load token version", err)
	}

	return s.swap(ctx, userID, `token_version = ?`, version)
}

// ResetByToken lets the holder of the current token rotate it. The swap only
// succeeds while currentToken is still the stored token.
func (s *TokenService) ResetByToken(ctx context.Context, currentToken string, confirm bool) (*models.SubscriptionIssued, error) {
	if !confirm {
		return nil, models.ErrConfirmationRequired
	}

	e, err := s.LookupToken(ctx, currentToken)
	if err != nil {
		return nil, err
	}
	return s.swap(ctx, e.UserID, `token_hash = ?`, e.TokenHash)
}

func (s *TokenService) swap(ctx context.Context, userID int64, cond string, expected any) (*models.SubscriptionIssued, error) {
	newToken, err := token.Generate(token.Subscription)
	if err != nil {
		return nil, fmt.Errorf("failed to generate subscription token: %w", err)
	}

	var version int64
	err = s.db.QueryRowContext(ctx, `
		UPDATE entitlements
		SET token_hash = ?, token_version = token_version + 1, updated_at = ?
		WHERE user_id = ? AND `+cond+`
		RETURNING token_version
	`, token.Hash(newToken, s.secret), time.Now().Unix(), userID, expected).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race against another reset
		return nil, fmt.Errorf("%w: token was reset concurrently", models.ErrConflict)
	}
	if err != nil {
		return nil, models.Storage("reset token", err)
	}

	metrics.TokenResets.Inc()
	s.logger.Info("subscription token reset", zap.Int64("user_id", userID), zap.Int64("token_version", version))
	s.bus.PublishTokenReset(userID, version)
	return &models.SubscriptionIssued{UserID: userID, Token: newToken}, nil
}

// GetSubscription returns a user's entitlement.
func (s *TokenService) GetSubscription(ctx context.Context, userID int64) (*models.Entitlement, error) {
	e, err := scanEntitlement(s.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, models.Storage("get entitlement", err)
	}
	return e, nil
}

func isPrimaryKeyConstraint(err error) bool {
	return err != nil && containsFold(err.Error(), "primary key")
}

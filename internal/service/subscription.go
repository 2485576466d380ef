package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/access"
	"subgate.io/subgate/internal/metrics"
	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/protocol"
	"subgate.io/subgate/pkg/subscription"
)

// OverQuotaPolicy decides what an exhausted subscription receives.
type OverQuotaPolicy string

const (
	// OverQuotaList keeps listing nodes; nodes stop accepting the user.
	OverQuotaList OverQuotaPolicy = "list"

	// OverQuotaHide returns an empty node list with the quota header.
	OverQuotaHide OverQuotaPolicy = "hide"

	// OverQuotaReject fails the fetch with ErrQuotaExceeded.
	OverQuotaReject OverQuotaPolicy = "reject"
)

// ParseOverQuotaPolicy parses a policy name. The empty string is OverQuotaList.
func ParseOverQuotaPolicy(s string) (OverQuotaPolicy, error) {
	switch p := OverQuotaPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return OverQuotaList, nil
	case OverQuotaList, OverQuotaHide, OverQuotaReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown over-quota policy %q", s)
	}
}

// Delivery is a rendered subscription.
type Delivery struct {
	Body        []byte
	ContentType string
	Format      subscription.Format
	Quota       models.QuotaHeader
	Nodes       int
}

// SubscriptionService turns a subscription token into a client config:
// token lookup, status check, group lookup, resolution, redaction, rendering.
type SubscriptionService struct {
	tokens    *TokenService
	members   MembershipLookup
	snapshots *SnapshotCache
	logger    *zap.Logger
	policy    OverQuotaPolicy
	now       func() time.Time
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(tokens *TokenService, members MembershipLookup, snapshots *SnapshotCache, policy OverQuotaPolicy, logger *zap.Logger) *SubscriptionService {
	if policy == "" {
		policy = OverQuotaList
	}
	return &SubscriptionService{
		tokens:    tokens,
		members:   members,
		snapshots: snapshots,
		logger:    logger,
		policy:    policy,
		now:       time.Now,
	}
}

// Fetch renders the subscription identified by subToken for client.
//
// Banned and expired subscriptions always fail with ErrBanned or ErrExpired.
// An exhausted subscription is handled according to the over-quota policy.
func (s *SubscriptionService) Fetch(ctx context.Context, subToken string, client subscription.Client) (*Delivery, error) {
	ent, err := s.tokens.LookupToken(ctx, subToken)
	if err != nil {
		metrics.SubscriptionFetches.WithLabelValues(string(client.Format), outcome(err)).Inc()
		return nil, err
	}

	doc, err := s.Document(ctx, ent)
	if err != nil {
		metrics.SubscriptionFetches.WithLabelValues(string(client.Format), outcome(err)).Inc()
		return nil, err
	}

	emitter := subscription.EmitterFor(client)
	body, err := emitter.Emit(doc)
	if err != nil {
		metrics.SubscriptionFetches.WithLabelValues(string(client.Format), "error").Inc()
		return nil, fmt.Errorf("failed to render %s subscription: %w", emitter.Format(), err)
	}

	metrics.SubscriptionFetches.WithLabelValues(string(client.Format), "ok").Inc()
	s.logger.Debug("subscription delivered",
		zap.Int64("user_id", ent.UserID),
		zap.String("format", string(emitter.Format())),
		zap.Int("nodes", len(doc.Entries)),
	)
	return &Delivery{
		Body:        body,
		ContentType: emitter.ContentType(),
		Format:      emitter.Format(),
		Quota:       doc.Quota,
		Nodes:       len(doc.Entries),
	}, nil
}

// Document builds the emitter input for an entitlement.
func (s *SubscriptionService) Document(ctx context.Context, ent *models.Entitlement) (*subscription.Document, error) {
	quota := ent.QuotaHeader()

	switch ent.Status(s.now()) {
	case models.StatusBanned:
		return nil, models.ErrBanned
	case models.StatusExpired:
		return nil, models.ErrExpired
	case models.StatusOverQuota:
		switch s.policy {
		case OverQuotaReject:
			return nil, models.ErrQuotaExceeded
		case OverQuotaHide:
			return subscription.NewDocument(nil, nil, quota), nil
		}
	}

	groups, err := s.members.GroupsForUser(ctx, ent.UserID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		return nil, err
	}

	nodes := access.Resolve(snap, groups)
	return subscription.NewDocument(s.redact(nodes), snap.Routes, quota), nil
}

// redact turns resolved nodes into emitter entries. A node whose stored
// config cannot be redacted is skipped and logged.
func (s *SubscriptionService) redact(nodes []models.Node) []subscription.Entry {
	entries := make([]subscription.Entry, 0, len(nodes))
	for _, n := range nodes {
		cfg, err := protocol.Redact(protocol.Kind(n.Protocol), n.Config)
		if err != nil {
			metrics.MalformedNodeConfigs.WithLabelValues(n.Protocol).Inc()
			s.logger.Error("skipping node with malformed config",
				zap.Int64("node_id", n.ID),
				zap.String("protocol", n.Protocol),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, subscription.Entry{
			NodeID:   n.ID,
			Endpoint: protocol.Endpoint{Name: n.Name, Host: n.Host, Port: n.Port},
			Config:   cfg,
		})
	}
	return entries
}

// Status returns the API view of an entitlement.
func (s *SubscriptionService) Status(ent *models.Entitlement) *models.SubscriptionStatus {
	return &models.SubscriptionStatus{
		Entitlement: ent,
		Usage:       ent.Usage(),
		Status:      ent.Status(s.now()),
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, models.ErrBanned):
		return "banned"
	case errors.Is(err, models.ErrExpired):
		return "expired"
	case errors.Is(err, models.ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "error"
	}
}

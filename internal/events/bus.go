// Package events carries domain events between services.
//
// Publishers never depend on listeners: a failing listener is logged and the
// mutation that fired the event still succeeds.
package events

import (
	"time"

	"github.com/gookit/event"
	"go.uber.org/zap"
)

// Event names.
const (
	// RegistryChanged fires after any node, group or route mutation.
	RegistryChanged = "registry.changed"

	// TokenReset fires after a subscription token is replaced.
	TokenReset = "token.reset"

	// QuotaExhausted fires when a traffic report pushes a user to or past quota.
	QuotaExhausted = "quota.exhausted"

	// TrafficApplied fires after a traffic report is committed.
	TrafficApplied = "traffic.applied"
)

// RegistryChange describes a registry mutation.
type RegistryChange struct {
	Entity    string // node, group or route
	ID        int64
	Action    string // created, updated, deleted, duplicated, reordered, token_rotated
	Timestamp time.Time
}

// TokenResetEvent describes a token rotation.
type TokenResetEvent struct {
	UserID       int64
	TokenVersion int64
	Timestamp    time.Time
}

// QuotaExhaustedEvent names a user that crossed their quota.
type QuotaExhaustedEvent struct {
	UserID    int64
	Used      int64
	Total     int64
	Timestamp time.Time
}

// TrafficAppliedEvent summarizes a committed traffic report.
type TrafficAppliedEvent struct {
	NodeID    int64
	Entries   int
	Upload    int64
	Download  int64
	Timestamp time.Time
}

// Bus wraps a gookit event manager.
type Bus struct {
	mgr    *event.Manager
	logger *zap.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{mgr: event.NewManager("subgate"), logger: logger}
}

func (b *Bus) fire(name string, payload any) {
	if b == nil {
		return
	}
	if err, _ := b.mgr.Fire(name, event.M{"payload": payload}); err != nil {
		b.logger.Error("event listener failed",
			zap.String("event", name),
			zap.Error(err),
		)
	}
}

// PublishRegistryChanged fires RegistryChanged.
func (b *Bus) PublishRegistryChanged(entity string, id int64, action string) {
	b.fire(RegistryChanged, RegistryChange{Entity: entity, ID: id, Action: action, Timestamp: time.Now()})
}

// PublishTokenReset fires TokenReset.
func (b *Bus) PublishTokenReset(userID, version int64) {
	b.fire(TokenReset, TokenResetEvent{UserID: userID, TokenVersion: version, Timestamp: time.Now()})
}

// PublishQuotaExhausted fires QuotaExhausted.
func (b *Bus) PublishQuotaExhausted(userID, used, total int64) {
	b.fire(QuotaExhausted, QuotaExhaustedEvent{UserID: userID, Used: used, Total: total, Timestamp: time.Now()})
}

// PublishTrafficApplied fires TrafficApplied.
func (b *Bus) PublishTrafficApplied(e TrafficAppliedEvent) {
	e.Timestamp = time.Now()
	b.fire(TrafficApplied, e)
}

// Subscribe registers fn for events named name. The payload is passed as the
// typed event struct published for that name.
func (b *Bus) Subscribe(name string, fn func(payload any) error) {
	b.mgr.On(name, event.ListenerFunc(func(e event.Event) error {
		return fn(e.Get("payload"))
	}), event.Normal)
	b.logger.Debug("subscribed to event", zap.String("event", name))
}

// Close removes every listener.
func (b *Bus) Close() error {
	b.mgr.Clear()
	return nil
}

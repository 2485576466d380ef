package ratelimit

import (
	"fmt"
	"strconv"
	"time"

	"subgate.io/subgate/internal/metrics"
)

// LimitType represents the type of rate limit to apply.
type LimitType string

const (
	// LimitTypeAuthFailure is for failed token checks per IP.
	LimitTypeAuthFailure LimitType = "auth_failure"

	// LimitTypeRequest is for authenticated admin and node requests.
	LimitTypeRequest LimitType = "request"

	// LimitTypeTrafficReport is for traffic reports per node.
	LimitTypeTrafficReport LimitType = "traffic_report"

	// LimitTypeSubscription is for subscription fetches per IP.
	LimitTypeSubscription LimitType = "subscription"
)

// Config holds the rate limiting configuration.
type Config struct {
	// AuthFailuresPerMin is the number of auth failures allowed per minute per IP.
	AuthFailuresPerMin int `mapstructure:"auth_failures_per_min"`

	// AuthFailuresBlockMin is how long an IP is refused after exhausting its
	// auth failure budget.
	AuthFailuresBlockMin int `mapstructure:"auth_failures_block_min"`

	// RequestsPerMin is the number of authenticated requests allowed per minute.
	RequestsPerMin int `mapstructure:"requests_per_min"`

	// TrafficReportsPerMin is the number of traffic reports allowed per minute per node.
	TrafficReportsPerMin int `mapstructure:"traffic_reports_per_min"`

	// SubscriptionsPerMin is the number of subscription fetches allowed per minute per IP.
	SubscriptionsPerMin int `mapstructure:"subscriptions_per_min"`
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		AuthFailuresPerMin:   10,
		AuthFailuresBlockMin: 15,
		RequestsPerMin:       600,
		TrafficReportsPerMin: 60,
		SubscriptionsPerMin:  30,
	}
}

// Key identifies one bucket: a limit type and the identifier it is counted
// against (client IP or node id).
type Key struct {
	Type LimitType
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.ID)
}

// BuildKey creates a rate limit key from identifier and limit type.
func BuildKey(identifier string, limitType LimitType) Key {
	return Key{Type: limitType, ID: identifier}
}

// Limiter implements token bucket rate limiting with support for multiple limit types.
type Limiter struct {
	storage *Storage
	config  Config
	now     func() time.Time
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		storage: NewStorage(),
		config:  config,
		now:     time.Now,
	}
}

// Allow takes one token from the bucket for key. It returns false and the
// number of seconds to wait when the bucket is empty or blocked.
func (l *Limiter) Allow(key Key) (allowed bool, retryAfter int) {
	now := l.now()
	newBucket := func() *Bucket { return l.createBucket(key.Type, now) }

	blocked := false
	l.storage.Update(key, newBucket, func(bucket *Bucket) {
		if now.Before(bucket.BlockedUntil) {
			retryAfter = ceilSeconds(bucket.BlockedUntil.Sub(now))
			return
		}

		bucket.Tokens += now.Sub(bucket.LastRefill).Seconds() * bucket.RefillRate
		if bucket.Tokens > bucket.Capacity {
			bucket.Tokens = bucket.Capacity
		}
		bucket.LastRefill = now

		if bucket.Tokens >= 1.0 {
			bucket.Tokens -= 1.0
			allowed = true
			return
		}

		// Running out of auth failures blocks the identifier outright.
		if key.Type == LimitTypeAuthFailure && l.config.AuthFailuresBlockMin > 0 {
			block := time.Duration(l.config.AuthFailuresBlockMin) * time.Minute
			bucket.BlockedUntil = now.Add(block)
			blocked = true
			retryAfter = ceilSeconds(block)
			return
		}

		if bucket.RefillRate <= 0 {
			retryAfter = 60
			return
		}
		retryAfter = int((1.0 - bucket.Tokens) / bucket.RefillRate)
		if retryAfter < 1 {
			retryAfter = 1
		}
	})

	if blocked {
		metrics.RateLimitBlocks.WithLabelValues(string(key.Type)).Inc()
	}
	l.record(key.Type, allowed)
	return allowed, retryAfter
}

// Blocked reports whether key is currently on the block list, without
// consuming a token.
func (l *Limiter) Blocked(key Key) (blocked bool, retryAfter int) {
	now := l.now()
	l.storage.Update(key, nil, func(bucket *Bucket) {
		if now.Before(bucket.BlockedUntil) {
			blocked = true
			retryAfter = ceilSeconds(bucket.BlockedUntil.Sub(now))
		}
	})
	return blocked, retryAfter
}

func (l *Limiter) record(limitType LimitType, allowed bool) {
	metrics.RateLimitChecks.WithLabelValues(string(limitType), strconv.FormatBool(allowed)).Inc()
}

// perMinute returns the configured budget for a limit type.
func (l *Limiter) perMinute(limitType LimitType) int {
	switch limitType {
	case LimitTypeAuthFailure:
		return l.config.AuthFailuresPerMin
	case LimitTypeTrafficReport:
		return l.config.TrafficReportsPerMin
	case LimitTypeSubscription:
		return l.config.SubscriptionsPerMin
	default:
		return l.config.RequestsPerMin
	}
}

// createBucket creates a full bucket holding one minute of budget.
func (l *Limiter) createBucket(limitType LimitType, now time.Time) *Bucket {
	capacity := float64(l.perMinute(limitType))
	metrics.RateLimitBucketCapacity.WithLabelValues(string(limitType)).Set(capacity)
	return &Bucket{
		Tokens:     capacity,
		LastRefill: now,
		Capacity:   capacity,
		RefillRate: capacity / 60.0,
	}
}

func ceilSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// Stop gracefully stops the limiter and cleans up resources.
func (l *Limiter) Stop() {
	l.storage.Stop()
}

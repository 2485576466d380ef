package models

import (
	"fmt"
	"time"
)

// Entitlement is a user's subscription: quota, usage counters, expiry, ban flag
// and the hash of the token that grants access to it.
//
// Status is never stored. It is derived from the counters and the current time
// on every read so that expiry needs no background sweep.
type Entitlement struct {
	// UserID identifies the user in the external account system
	UserID int64 `json:"user_id" db:"user_id"`

	// TokenHash is the HMAC-SHA256 hash of the subscription token
	// Never returned in API responses
	TokenHash string `json:"-" db:"token_hash"`

	// TokenVersion increments on every token reset
	TokenVersion int64 `json:"token_version" db:"token_version"`

	// PlanID references the plan the quota was taken from
	PlanID int64 `json:"plan_id" db:"plan_id"`

	// TotalBytes is the transfer quota
	TotalBytes int64 `json:"total_bytes" db:"total_bytes"`

	// Upload and Download are cumulative charged bytes since the last reset
	Upload   int64 `json:"upload" db:"upload"`
	Download int64 `json:"download" db:"download"`

	// ExpiresAt is nil for subscriptions that never expire
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`

	Banned bool `json:"banned" db:"banned"`

	LastResetAt *time.Time `json:"last_reset_at,omitempty" db:"last_reset_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Usage is the derived quota view of an entitlement.
type Usage struct {
	Used         int64   `json:"used"`
	Remaining    int64   `json:"remaining"`
	UsagePercent float64 `json:"usage_percent"`
}

// Usage computes used, remaining and usage percent.
// A zero total reports 100 percent.
func (e *Entitlement) Usage() Usage {
	used := e.Upload + e.Download
	u := Usage{Used: used, Remaining: max(0, e.TotalBytes-used), UsagePercent: 100}
	if e.TotalBytes > 0 {
		u.UsagePercent = min(100, float64(used)*100/float64(e.TotalBytes))
	}
	return u
}

// Status is the derived state of an entitlement.
type Status string

const (
	StatusActive    Status = "active"
	StatusBanned    Status = "banned"
	StatusExpired   Status = "expired"
	StatusOverQuota Status = "over_quota"
)

// Expired reports whether the entitlement has expired at now.
func (e *Entitlement) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// OverQuota reports whether used >= total.
func (e *Entitlement) OverQuota() bool {
	return e.Upload+e.Download >= e.TotalBytes
}

// Status derives the entitlement state at now. Ban wins over expiry, expiry
// wins over quota.
func (e *Entitlement) Status(now time.Time) Status {
	switch {
	case e.Banned:
		return StatusBanned
	case e.Expired(now):
		return StatusExpired
	case e.OverQuota():
		return StatusOverQuota
	default:
		return StatusActive
	}
}

// Err returns the error matching the derived status, or nil when active.
func (e *Entitlement) Err(now time.Time) error {
	switch e.Status(now) {
	case StatusBanned:
		return ErrBanned
	case StatusExpired:
		return ErrExpired
	case StatusOverQuota:
		return ErrQuotaExceeded
	default:
		return nil
	}
}

// QuotaHeader is the usage summary clients read from the
// subscription-userinfo response header.
type QuotaHeader struct {
	Upload   int64
	Download int64
	Total    int64
	Expire   *time.Time
}

// QuotaHeader returns the header values for this entitlement.
func (e *Entitlement) QuotaHeader() QuotaHeader {
	return QuotaHeader{Upload: e.Upload, Download: e.Download, Total: e.TotalBytes, Expire: e.ExpiresAt}
}

// String formats the header value, e.g.
// "upload=1024; download=2048; total=1073741824; expire=1767225600".
// A missing expiry is written as 0.
func (q QuotaHeader) String() string {
	var expire int64
	if q.Expire != nil {
		expire = q.Expire.Unix()
	}
	return fmt.Sprintf("upload=%d; download=%d; total=%d; expire=%d", q.Upload, q.Download, q.Total, expire)
}

// SubscriptionStatus is the API view of an entitlement.
type SubscriptionStatus struct {
	*Entitlement
	Usage  Usage  `json:"usage"`
	Status Status `json:"status"`
}

// SubscriptionIssued is returned when a token is issued or reset.
// The token is shown only once.
type SubscriptionIssued struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

// ResetRequest confirms a token reset.
type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// Plan is the quota template assigned to users.
type Plan struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	TransferBytes int64     `json:"transfer_bytes" db:"transfer_bytes"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// PlanRequest creates a plan.
type PlanRequest struct {
	Name          string `json:"name" binding:"required,min=1,max=255"`
	TransferBytes int64  `json:"transfer_bytes" binding:"min=0"`
}

// UserPlan is the plan assignment of one user.
type UserPlan struct {
	UserID    int64      `json:"user_id"`
	PlanID    int64      `json:"plan_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UserPlanRequest assigns a plan to a user.
type UserPlanRequest struct {
	PlanID    int64      `json:"plan_id" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// UserGroupsRequest replaces a user's group membership.
type UserGroupsRequest struct {
	GroupIDs []int64 `json:"group_ids"`
}

// BanRequest sets or clears the ban flag.
type BanRequest struct {
	Banned bool `json:"banned"`
}

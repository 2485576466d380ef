package models

import "math"

const (
	// MaxEntryBytes caps a single upload or download delta after the node
	// rate is applied. A full report of MaxEntries entries stays within int64.
	MaxEntryBytes int64 = 1 << 48

	// MaxCounterBytes is where an entitlement's upload and download counters
	// saturate, so their sum never overflows.
	MaxCounterBytes int64 = math.MaxInt64 / 2
)

// TrafficEntry is one user's traffic delta inside a node report.
// Field names follow the u/d convention used by proxy node agents.
type TrafficEntry struct {
	UserID   int64 `json:"user_id"`
	Upload   int64 `json:"u"`
	Download int64 `json:"d"`
}

// TrafficReport is a batch of deltas submitted by one node.
type TrafficReport struct {
	// ReportID is an optional idempotency key chosen by the node.
	// A report ID seen again inside the dedup window is acknowledged but not applied.
	ReportID string `json:"report_id,omitempty" binding:"max=128"`

	Entries []TrafficEntry `json:"entries"`
}

// TrafficResult acknowledges an applied report.
type TrafficResult struct {
	Applied   int  `json:"applied"`
	Duplicate bool `json:"duplicate"`
}

// NodeUser is a user a node should accept connections from.
type NodeUser struct {
	UserID int64 `json:"user_id"`
}

// NodeUsersResponse lists the users entitled to a node.
type NodeUsersResponse struct {
	Users []NodeUser `json:"users"`
}

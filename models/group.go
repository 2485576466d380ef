package models

import (
	"encoding/json"
	"time"
)

// Group is a permission bucket linking users to the nodes they may use.
type Group struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// GroupRequest creates or renames a group.
type GroupRequest struct {
	Name string `json:"name" binding:"required,min=1,max=255"`
}

// Route rule actions.
const (
	// RouteActionBlock drops traffic matching the rule's patterns
	RouteActionBlock = "block"

	// RouteActionDNS resolves matching domains through ActionValue
	RouteActionDNS = "dns"
)

// RouteRule is a client-side traffic policy. Rules apply to every emitted
// subscription regardless of node selection.
type RouteRule struct {
	ID int64 `json:"id" db:"id"`

	// Remarks is a human label
	Remarks string `json:"remarks" db:"remarks"`

	// Match lists patterns: "domain:example.com" (suffix), "full:a.example.com",
	// "keyword:ads", "regexp:^ad[0-9]+\." or a bare domain (suffix)
	Match []string `json:"match" db:"match"`

	// Action is RouteActionBlock or RouteActionDNS
	Action string `json:"action" db:"action"`

	// ActionValue is the DNS server for RouteActionDNS
	ActionValue string `json:"action_value,omitempty" db:"action_value"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RouteRequest creates a route rule.
type RouteRequest struct {
	Remarks     string   `json:"remarks" binding:"required,max=255"`
	Match       []string `json:"match" binding:"required,min=1"`
	Action      string   `json:"action" binding:"required,oneof=block dns"`
	ActionValue string   `json:"action_value"`
}

// RouteUpdateRequest is a partial route update.
type RouteUpdateRequest struct {
	Remarks     *string   `json:"remarks,omitempty"`
	Match       *[]string `json:"match,omitempty"`
	Action      *string   `json:"action,omitempty"`
	ActionValue *string   `json:"action_value,omitempty"`
}

// NodeConfigResponse is what a node pulls to configure itself.
type NodeConfigResponse struct {
	NodeID     int64           `json:"node_id"`
	Protocol   string          `json:"protocol"`
	ServerPort int             `json:"server_port"`
	Config     json.RawMessage `json:"config"`
	Routes     []RouteRule     `json:"routes"`
}

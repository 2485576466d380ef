package models

import (
	"encoding/json"
	"time"
)

// Node represents a proxy endpoint registered by the operator.
// Each node runs exactly one protocol and is visible to the users whose groups
// intersect the node's groups.
type Node struct {
	// ID is the unique identifier for this node
	ID int64 `json:"id" db:"id"`

	// Name is the display name shown in client configs (e.g., "Tokyo 01")
	Name string `json:"name" db:"name"`

	// Protocol is the protocol tag: shadowsocks, vmess, trojan or hysteria
	Protocol string `json:"protocol" db:"protocol"`

	// Host is the address clients connect to (hostname or IP)
	Host string `json:"host" db:"host"`

	// Port is the client-facing port or port range (e.g., "443", "20000-30000")
	Port string `json:"port" db:"port"`

	// ServerPort is the port the proxy core listens on inside the node.
	// It differs from Port when the node sits behind a relay or NAT.
	ServerPort int `json:"server_port" db:"server_port"`

	// Rate multiplies reported traffic before it is charged to a user
	Rate float64 `json:"rate" db:"rate"`

	// Visible controls whether end users can see the node at all
	Visible bool `json:"visible" db:"visible"`

	// Sort orders nodes in client configs (ascending, ties broken by ID)
	Sort int64 `json:"sort" db:"sort"`

	// GroupIDs are the permission groups this node belongs to.
	// A node with no groups is visible to nobody.
	GroupIDs []int64 `json:"group_ids" db:"group_ids"`

	// RouteIDs select the route rules delivered to the node itself
	RouteIDs []int64 `json:"route_ids" db:"route_ids"`

	// ParentID references the node this one relays for
	ParentID *int64 `json:"parent_id,omitempty" db:"parent_id"`

	// Tags are free-form labels
	Tags []string `json:"tags" db:"tags"`

	// Config is the protocol-specific configuration record.
	// It holds operator secrets and is never sent to end users verbatim.
	Config json.RawMessage `json:"config" db:"config"`

	// TokenHash is the HMAC-SHA256 hash of the node's reporting token
	// Never returned in API responses
	TokenHash string `json:"-" db:"token_hash"`

	// LastReportAt is the time the node last submitted a traffic report
	LastReportAt *time.Time `json:"last_report_at,omitempty" db:"last_report_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NodeCreateRequest represents the request body for registering a node.
type NodeCreateRequest struct {
	// Name is the display name (required, 1-255 characters)
	Name string `json:"name" binding:"required,min=1,max=255"`

	// Protocol is one of shadowsocks, vmess, trojan, hysteria
	Protocol string `json:"protocol" binding:"required"`

	Host       string   `json:"host" binding:"required,max=255"`
	Port       string   `json:"port" binding:"required"`
	ServerPort int      `json:"server_port" binding:"required"`
	Rate       float64  `json:"rate"`
	Visible    bool     `json:"visible"`
	Sort       int64    `json:"sort"`
	GroupIDs   []int64  `json:"group_ids"`
	RouteIDs   []int64  `json:"route_ids"`
	ParentID   *int64   `json:"parent_id"`
	Tags       []string `json:"tags"`

	// Config is the protocol configuration. Unknown fields are rejected.
	Config json.RawMessage `json:"config" binding:"required"`
}

// NodeUpdateRequest is a partial update. Nil fields are left unchanged.
type NodeUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Host        *string          `json:"host,omitempty"`
	Port        *string          `json:"port,omitempty"`
	ServerPort  *int             `json:"server_port,omitempty"`
	Rate        *float64         `json:"rate,omitempty"`
	Visible     *bool            `json:"visible,omitempty"`
	Sort        *int64           `json:"sort,omitempty"`
	GroupIDs    *[]int64         `json:"group_ids,omitempty"`
	RouteIDs    *[]int64         `json:"route_ids,omitempty"`
	ParentID    *int64           `json:"parent_id,omitempty"`
	ClearParent bool             `json:"clear_parent,omitempty"`
	Tags        *[]string        `json:"tags,omitempty"`
	Config      *json.RawMessage `json:"config,omitempty"`
}

// NodeDuplicateRequest overrides the copied node's identity.
// Empty fields keep the source node's value; Name defaults to "<source> (copy)".
type NodeDuplicateRequest struct {
	Name string `json:"name,omitempty" binding:"max=255"`
	Host string `json:"host,omitempty" binding:"max=255"`
	Port string `json:"port,omitempty"`
}

// NodeSortItem assigns a sort weight to one node in a batch reorder.
type NodeSortItem struct {
	ID   int64 `json:"id" binding:"required"`
	Sort int64 `json:"sort"`
}

// NodeSortRequest is the body of a batch reorder.
type NodeSortRequest struct {
	Items []NodeSortItem `json:"items" binding:"required,min=1,dive"`
}

// NodeCredentials is returned when a node is created, duplicated or its token rotated.
// The token is shown only once.
type NodeCredentials struct {
	Node      *Node  `json:"node"`
	NodeToken string `json:"node_token"`
}

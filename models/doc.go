// Package models provides shared data structures for Subgate.
//
// This package contains the core data models used by the server, the node SDK
// and the CLI. Keeping them in a separate package lets every component import
// them without creating circular dependencies.
//
// The models in this package represent:
//   - Nodes: proxy endpoints with a protocol-specific configuration record
//   - Groups: permission buckets linking users to nodes
//   - RouteRules: client-side block and DNS override policies
//   - Entitlements: a user's quota, counters, expiry, ban flag and token hash
//   - Plans: quota templates assigned to users
//   - Traffic reports: per-user deltas submitted by nodes
//
// Entitlement status is derived from counters and the current time and is
// never persisted.
package models

// Package access decides which nodes a user may see.
//
// Resolution is a pure function of a registry Snapshot and the user's group
// set. It never redacts; callers redact the resolved nodes separately.
package access

import (
	"cmp"
	"slices"
	"time"

	"subgate.io/subgate/models"
)

// Snapshot is a point-in-time copy of the node registry.
// It must not be mutated after it is built; resolvers share it across requests.
type Snapshot struct {
	Nodes  []models.Node
	Groups map[int64]struct{}
	Routes []models.RouteRule

	LoadedAt time.Time
}

// effectiveGroups returns the node's groups that still exist.
func (s *Snapshot) effectiveGroups(n *models.Node) []int64 {
	out := make([]int64, 0, len(n.GroupIDs))
	for _, id := range n.GroupIDs {
		if _, ok := s.Groups[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Visible reports whether node n is visible to a user in groups.
// Hidden nodes and group ids that no longer exist never match.
func (s *Snapshot) Visible(n *models.Node, groups map[int64]struct{}) bool {
	if !n.Visible || len(groups) == 0 {
		return false
	}
	for _, id := range s.effectiveGroups(n) {
		if _, ok := groups[id]; ok {
			return true
		}
	}
	return false
}

// Resolve returns the nodes visible to a user in userGroups, ordered by sort
// weight then id. An empty group set yields an empty list.
func Resolve(s *Snapshot, userGroups []int64) []models.Node {
	if s == nil || len(userGroups) == 0 {
		return []models.Node{}
	}

	groups := GroupSet(userGroups)
	out := make([]models.Node, 0, len(s.Nodes))
	for i := range s.Nodes {
		if s.Visible(&s.Nodes[i], groups) {
			out = append(out, s.Nodes[i])
		}
	}
	SortNodes(out)
	return out
}

// RoutesByID returns the snapshot's route rules restricted to ids, in id order.
// Ids of deleted rules are skipped.
func (s *Snapshot) RoutesByID(ids []int64) []models.RouteRule {
	out := []models.RouteRule{}
	for _, r := range s.Routes {
		if slices.Contains(ids, r.ID) {
			out = append(out, r)
		}
	}
	return out
}

// Node returns the node with id, if present.
func (s *Snapshot) Node(id int64) (*models.Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// NodeGroups returns the node's groups that still exist.
func (s *Snapshot) NodeGroups(n *models.Node) []int64 {
	return s.effectiveGroups(n)
}

// GroupSet converts ids to a set.
func GroupSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// SortNodes orders nodes by sort weight ascending, then id ascending.
func SortNodes(nodes []models.Node) {
	slices.SortFunc(nodes, func(a, b models.Node) int {
		if c := cmp.Compare(a.Sort, b.Sort); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"subgate.io/subgate/internal/access"
	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/metrics"
	"subgate.io/subgate/models"
)

// SnapshotCache serves point-in-time copies of the node registry.
//
// A snapshot is reused until it is older than the TTL or a registry change
// invalidates it. Concurrent misses share a single load.
type SnapshotCache struct {
	nodes  *NodeService
	groups *GroupService
	routes *RouteService
	logger *zap.Logger
	ttl    time.Duration

	loads singleflight.Group

	mu         sync.RWMutex
	current    *access.Snapshot
	generation uint64
}

// NewSnapshotCache creates a cache and subscribes it to registry changes.
func NewSnapshotCache(nodes *NodeService, groups *GroupService, routes *RouteService, ttl time.Duration, logger *zap.Logger, bus *events.Bus) *SnapshotCache {
	c := &SnapshotCache{
		nodes:  nodes,
		groups: groups,
		routes: routes,
		logger: logger,
		ttl:    ttl,
	}
	if bus != nil {
		bus.Subscribe(events.RegistryChanged, func(any) error {
			c.Invalidate()
			return nil
		})
	}
	return c
}

// Get returns the current snapshot, loading a new one when needed.
// The returned snapshot is shared and must not be modified.
func (c *SnapshotCache) Get(ctx context.Context) (*access.Snapshot, error) {
	c.mu.RLock()
	snap, gen := c.current, c.generation
	c.mu.RUnlock()

	if snap != nil && time.Since(snap.LoadedAt) < c.ttl {
		metrics.SnapshotRequests.WithLabelValues("cache").Inc()
		return snap, nil
	}
	metrics.SnapshotRequests.WithLabelValues("load").Inc()

	v, err, _ := c.loads.Do("snapshot", func() (any, error) {
		loaded, err := c.load(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// An invalidation during the load means the result may be stale.
		if c.generation == gen {
			c.current = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*access.Snapshot), nil
}

// Invalidate drops the cached snapshot.
func (c *SnapshotCache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.generation++
	c.mu.Unlock()
	metrics.SnapshotInvalidations.Inc()
}

func (c *SnapshotCache) load(ctx context.Context) (*access.Snapshot, error) {
	start := time.Now()
	snap, err := c.read(ctx)
	metrics.SnapshotLoadDuration.Observe(time.Since(start).Seconds())
	metrics.ObserveQuery("load_snapshot", start, err)
	if err != nil {
		metrics.SnapshotLoads.WithLabelValues("error").Inc()
		c.logger.Error("failed to load registry snapshot", zap.Error(err))
		return nil, err
	}

	metrics.SnapshotLoads.WithLabelValues("success").Inc()
	metrics.SnapshotNodes.Set(float64(len(snap.Nodes)))
	c.logger.Debug("registry snapshot loaded",
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("groups", len(snap.Groups)),
		zap.Int("routes", len(snap.Routes)),
		zap.Duration("duration", time.Since(start)),
	)
	return snap, nil
}

func (c *SnapshotCache) read(ctx context.Context) (*access.Snapshot, error) {
	nodes, err := c.nodes.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := c.groups.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	routes, err := c.routes.ListRoutes(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	access.SortNodes(nodes)
	return &access.Snapshot{
		Nodes:    nodes,
		Groups:   access.GroupSet(ids),
		Routes:   routes,
		LoadedAt: time.Now(),
	}, nil
}

// routesFor returns the route rules selected by a node.
func routesFor(snap *access.Snapshot, node *models.Node) []models.RouteRule {
	return snap.RoutesByID(node.RouteIDs)
}

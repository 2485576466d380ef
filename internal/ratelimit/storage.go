package ratelimit

import (
	"sync"
	"time"

	"subgate.io/subgate/internal/metrics"
)

// sweepInterval is how often idle buckets are dropped.
const sweepInterval = time.Minute

// Bucket is the token bucket state for one key.
type Bucket struct {
	Tokens     float64
	LastRefill time.Time
	Capacity   float64
	// RefillRate is tokens per second.
	RefillRate float64
	// BlockedUntil refuses every request before this time.
	BlockedUntil time.Time
}

// idle reports whether the bucket would be indistinguishable from a fresh one
// at now: fully refilled and not blocked.
func (b *Bucket) idle(now time.Time) bool {
	if now.Before(b.BlockedUntil) {
		return false
	}
	if b.RefillRate <= 0 {
		return now.Sub(b.LastRefill) >= time.Hour
	}
	missing := b.Capacity - b.Tokens
	if missing <= 0 {
		return true
	}
	refill := time.Duration(missing / b.RefillRate * float64(time.Second))
	return !now.Before(b.LastRefill.Add(refill))
}

// shard holds the buckets of one limit type. Each limit type has its own lock
// so a burst of subscription fetches does not contend with node reports.
type shard struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// Storage keeps rate limit buckets in memory, partitioned by limit type.
// Buckets are only touched under their shard lock; callers mutate them
// through Update.
type Storage struct {
	mu     sync.RWMutex
	shards map[LimitType]*shard

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewStorage creates the storage and starts the sweeper.
func NewStorage() *Storage {
	s := &Storage{
		shards: make(map[LimitType]*shard),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	s.wg.Add(1)
	go s.sweep()
	return s
}

func (s *Storage) shard(limitType LimitType, create bool) *shard {
	s.mu.RLock()
	sh := s.shards[limitType]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shards[limitType]; sh == nil {
		sh = &shard{buckets: make(map[string]*Bucket)}
		s.shards[limitType] = sh
	}
	return sh
}

// Update runs fn on the bucket for key while holding its shard lock. A
// missing bucket is created with newBucket; when newBucket is nil fn is not
// called and Update returns false.
func (s *Storage) Update(key Key, newBucket func() *Bucket, fn func(b *Bucket)) bool {
	sh := s.shard(key.Type, newBucket != nil)
	if sh == nil {
		return false
	}

	sh.mu.Lock()
	b, ok := sh.buckets[key.ID]
	if !ok {
		if newBucket == nil {
			sh.mu.Unlock()
			return false
		}
		b = newBucket()
		sh.buckets[key.ID] = b
	}
	fn(b)
	n := len(sh.buckets)
	sh.mu.Unlock()

	if !ok {
		metrics.RateLimitBuckets.WithLabelValues(string(key.Type)).Set(float64(n))
	}
	return true
}

// Get returns a copy of the bucket for key, or nil.
func (s *Storage) Get(key Key) *Bucket {
	var out *Bucket
	s.Update(key, nil, func(b *Bucket) {
		c := *b
		out = &c
	})
	return out
}

// Set stores a copy of bucket under key.
func (s *Storage) Set(key Key, bucket *Bucket) {
	c := *bucket
	s.Update(key, func() *Bucket { return &c }, func(b *Bucket) { *b = c })
}

// Delete removes the bucket for key.
func (s *Storage) Delete(key Key) {
	sh := s.shard(key.Type, false)
	if sh == nil {
		return
	}
	sh.mu.Lock()
	delete(sh.buckets, key.ID)
	n := len(sh.buckets)
	sh.mu.Unlock()
	metrics.RateLimitBuckets.WithLabelValues(string(key.Type)).Set(float64(n))
}

func (s *Storage) sweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(s.now())
		case <-s.stopCh:
			return
		}
	}
}

// cleanup drops idle buckets and returns how many were removed.
func (s *Storage) cleanup(now time.Time) int {
	s.mu.RLock()
	shards := make(map[LimitType]*shard, len(s.shards))
	for t, sh := range s.shards {
		shards[t] = sh
	}
	s.mu.RUnlock()

	removed := 0
	for limitType, sh := range shards {
		sh.mu.Lock()
		for id, b := range sh.buckets {
			if b.idle(now) {
				delete(sh.buckets, id)
				removed++
			}
		}
		n := len(sh.buckets)
		sh.mu.Unlock()
		metrics.RateLimitBuckets.WithLabelValues(string(limitType)).Set(float64(n))
	}
	return removed
}

// Stop stops the sweeper. Stored buckets stay readable.
func (s *Storage) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Count returns the number of buckets of one limit type.
func (s *Storage) Count(limitType LimitType) int {
	sh := s.shard(limitType, false)
	if sh == nil {
		return 0
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.buckets)
}

// Total returns the number of buckets across all limit types.
func (s *Storage) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.buckets)
		sh.mu.Unlock()
	}
	return total
}

package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry[V any] struct {
	val      V
	cachedAt time.Time
	ttl      time.Duration
}

func (e cacheEntry[V]) fresh(now time.Time) bool { return now.Sub(e.cachedAt) < e.ttl }

type cacheResult[V any] struct {
	v   V
	hit bool
}

type cacheShard[V any] struct {
	mu    sync.Mutex
	items map[string]cacheEntry[V]
}

// Cache is a keyed TTL cache. Entries are evicted lazily on read and by
// Sweep. Concurrent misses for the same key run compute once.
type Cache[V any] struct {
	shards [shardCount]*cacheShard[V]
	group  singleflight.Group
	now    Clock
}

// NewCache constructs an empty cache using clock (time.Now when nil).
func NewCache[V any](clock Clock) *Cache[V] {
	if clock == nil {
		clock = time.Now
	}
	c := &Cache[V]{now: clock}
	for i := range c.shards {
		c.shards[i] = &cacheShard[V]{items: make(map[string]cacheEntry[V])}
	}
	return c
}

func (c *Cache[V]) shardFor(key string) *cacheShard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns a fresh cached value.
func (c *Cache[V]) Get(key string) (V, bool) {
	sh := c.shardFor(key)
	now := c.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !e.fresh(now) {
		delete(sh.items, key)
		var zero V
		return zero, false
	}
	return e.val, true
}

func (c *Cache[V]) put(key string, v V, ttl time.Duration) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	sh.items[key] = cacheEntry[V]{val: v, cachedAt: c.now(), ttl: ttl}
	sh.mu.Unlock()
}

// GetOrCompute returns the cached value for key when younger than ttl,
// otherwise runs compute and caches its result. cached reports a hit.
// Errors are not cached. compute runs detached from the caller's
// cancellation since concurrent callers share its result; a cancelled
// caller stops waiting and gets ctx.Err().
func (c *Cache[V]) GetOrCompute(
	ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (V, error),
) (v V, cached bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if v, ok := c.Get(key); ok {
			return cacheResult[V]{v: v, hit: true}, nil
		}
		v, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.put(key, v, ttl)
		return cacheResult[V]{v: v}, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		r := res.Val.(cacheResult[V])
		return r.v, r.hit, nil
	}
}

// Evict drops key.
func (c *Cache[V]) Evict(key string) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

// Sweep drops entries stale at now.
func (c *Cache[V]) Sweep(now time.Time) int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if !e.fresh(now) {
				delete(sh.items, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

package route

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// maxCacheEntries bounds the cache; the oldest entry goes first once it is full.
const maxCacheEntries = 10000

// Cache is a small in-memory TTL cache in front of another Estimator, keyed by coords.
// Failures are not cached. Expired entries are swept on writes at most once per ttl.
type Cache struct {
	next      Estimator
	mu        sync.RWMutex
	store     map[string]cacheEntry
	ttl       time.Duration
	max       int
	lastSweep time.Time
	now       func() time.Time
}

type cacheEntry struct {
	leg Leg
	ts  time.Time
}

func NewCache(next Estimator, ttl time.Duration) *Cache {
	return &Cache{next: next, store: make(map[string]cacheEntry), ttl: ttl, max: maxCacheEntries, now: time.Now}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

func (c *Cache) Estimate(ctx context.Context, from, to models.Coord) (Leg, error) {
	if leg, ok := c.get(from, to); ok {
		return leg, nil
	}
	leg, err := c.next.Estimate(ctx, from, to)
	if err != nil {
		return Leg{}, err
	}
	c.set(from, to, leg)
	return leg, nil
}

func (c *Cache) get(a, b models.Coord) (Leg, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Leg{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Leg{}, false
	}
	return e.leg, true
}

func (c *Cache) set(a, b models.Coord, leg Leg) {
	k := keyFor(a, b)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[k]; !ok {
		if now.Sub(c.lastSweep) > c.ttl || len(c.store) >= c.max {
			c.sweep(now)
		}
		if len(c.store) >= c.max {
			c.evictOldest()
		}
	}
	c.store[k] = cacheEntry{leg: leg, ts: now}
}

// sweep drops expired entries. Callers hold c.mu.
func (c *Cache) sweep(now time.Time) {
	for k, e := range c.store {
		if now.Sub(e.ts) > c.ttl {
			delete(c.store, k)
		}
	}
	c.lastSweep = now
}

func (c *Cache) evictOldest() {
	var oldest string
	var ts time.Time
	for k, e := range c.store {
		if oldest == "" || e.ts.Before(ts) {
			oldest, ts = k, e.ts
		}
	}
	delete(c.store, oldest)
}

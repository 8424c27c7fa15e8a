// Package cache holds the in-process cache tiers: remote-existence
// memoization, the local disk cache, the smart retention policy and the
// optional Redis-backed job status cache.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	// existencePositiveTTL bounds how long a positive lookup is trusted.
	existencePositiveTTL = 60 * time.Second
	// existenceNegativeTTL bounds how long a negative lookup is trusted.
	existenceNegativeTTL = 30 * time.Second
	// existenceCapacity bounds the number of memoized keys.
	existenceCapacity = 10000
	// existenceJanitorInterval is the background cleanup period.
	existenceJanitorInterval = 10 * time.Minute
)

// existenceEntry memoizes one object-store lookup.
type existenceEntry struct {
	exists    bool
	timestamp time.Time
}

func (e existenceEntry) expired(now time.Time) bool {
	ttl := existenceNegativeTTL
	if e.exists {
		ttl = existencePositiveTTL
	}
	return now.Sub(e.timestamp) > ttl
}

// ExistenceCache is a short-TTL positive/negative memoization of
// object-store existence probes. All operations are O(1) under a single
// mutex, except cleanup which is amortized.
type ExistenceCache struct {
	mu      sync.Mutex
	entries map[string]existenceEntry
}

// NewExistenceCache creates an empty existence cache.
func NewExistenceCache() *ExistenceCache {
	return &ExistenceCache{
		entries: make(map[string]existenceEntry),
	}
}

// Get returns the memoized existence of key, or ok=false when the key is
// unknown or its entry has expired. Expired entries are removed on read.
func (c *ExistenceCache) Get(key string) (exists, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if !found {
		return false, false
	}
	if entry.expired(time.Now()) {
		delete(c.entries, key)
		return false, false
	}
	return entry.exists, true
}

// Set memoizes the existence of key. At capacity, expired entries are
// dropped first; if the map is still at 80% of the bound, the oldest 20%
// of entries by timestamp are evicted.
func (c *ExistenceCache) Set(key string, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= existenceCapacity {
		c.cleanupLocked()
	}
	c.entries[key] = existenceEntry{exists: exists, timestamp: time.Now()}
}

// Delete removes the entry for key.
func (c *ExistenceCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Keys returns a snapshot of all memoized keys.
func (c *ExistenceCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries currently held.
func (c *ExistenceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Janitor runs background cleanup until ctx is cancelled.
func (c *ExistenceCache) Janitor(ctx context.Context) {
	ticker := time.NewTicker(existenceJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.cleanupLocked()
			c.mu.Unlock()
		}
	}
}

// cleanupLocked drops expired entries and, if the map is still at 80% of
// capacity, the oldest 20% by timestamp. Caller holds the mutex.
func (c *ExistenceCache) cleanupLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}

	if len(c.entries) < existenceCapacity*8/10 {
		return
	}

	type aged struct {
		key string
		ts  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, ts: e.timestamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })

	drop := len(all) / 5
	for _, a := range all[:drop] {
		delete(c.entries, a.key)
	}
}

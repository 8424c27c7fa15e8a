package cache

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

const (
	// keepLocalWindow is how far back requests count toward local retention.
	keepLocalWindow = time.Hour
	// cleanupThreshold triggers eviction when tracked bytes exceed this
	// fraction of the ceiling.
	cleanupThreshold = 0.8
	// evictFraction is the share of records evicted per cleanup, oldest
	// lastAccess first.
	evictFraction = 0.2
	// cleanupProbability amortizes cleanup over requests instead of a
	// dedicated timer.
	cleanupProbability = 0.01
)

// accessRecord tracks request history for one original.
type accessRecord struct {
	count       int
	firstAccess time.Time
	lastAccess  time.Time
	totalSize   int64
}

// Policy decides which produced artifacts are worth keeping on local disk
// and when the disk tier should shed weight.
type Policy struct {
	mu       sync.Mutex
	records  map[string]*accessRecord
	total    int64
	maxBytes int64
}

// NewPolicy creates a policy with the given local-disk byte ceiling.
func NewPolicy(maxBytes int64) *Policy {
	return &Policy{
		records:  make(map[string]*accessRecord),
		maxBytes: maxBytes,
	}
}

// RecordAccess notes a transform request for the original.
func (p *Policy) RecordAccess(originalPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	rec, ok := p.records[originalPath]
	if !ok || now.Sub(rec.firstAccess) > keepLocalWindow {
		// Stale window; start counting afresh but keep the byte attribution.
		var size int64
		if ok {
			size = rec.totalSize
		}
		p.records[originalPath] = &accessRecord{
			count:       1,
			firstAccess: now,
			lastAccess:  now,
			totalSize:   size,
		}
		return
	}
	rec.count++
	rec.lastAccess = now
}

// RecordWrite attributes size bytes of locally cached artifacts to the
// original and updates the global counter consulted by ShouldCleanup.
func (p *Policy) RecordWrite(originalPath string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[originalPath]
	if !ok {
		now := time.Now()
		rec = &accessRecord{count: 1, firstAccess: now, lastAccess: now}
		p.records[originalPath] = rec
	}
	rec.totalSize += size
	p.total += size
}

// ShouldKeepLocal reports whether the original was requested more than once
// in the last hour, making its artifacts worth the disk space.
func (p *Policy) ShouldKeepLocal(originalPath string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[originalPath]
	if !ok {
		return false
	}
	return rec.count > 1 && time.Since(rec.lastAccess) <= keepLocalWindow
}

// ShouldCleanup reports whether tracked bytes exceed 80% of the ceiling.
func (p *Policy) ShouldCleanup() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.total) > float64(p.maxBytes)*cleanupThreshold
}

// RollCleanup returns true on ~1% of calls; the pipeline runs cleanup when
// it wins the roll and ShouldCleanup agrees.
func (p *Policy) RollCleanup() bool {
	return rand.Float64() < cleanupProbability
}

// Evict removes the 20% of records with the oldest lastAccess and returns
// their original paths so the caller can purge the matching disk files.
func (p *Policy) Evict() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.records) == 0 {
		return nil
	}

	type aged struct {
		path string
		at   time.Time
	}
	all := make([]aged, 0, len(p.records))
	for path, rec := range p.records {
		all = append(all, aged{path: path, at: rec.lastAccess})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	drop := int(float64(len(all)) * evictFraction)
	if drop < 1 {
		drop = 1
	}

	evicted := make([]string, 0, drop)
	for _, a := range all[:drop] {
		p.total -= p.records[a.path].totalSize
		delete(p.records, a.path)
		evicted = append(evicted, a.path)
	}
	return evicted
}

// Forget drops the record for an original, e.g. after invalidation.
func (p *Policy) Forget(originalPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec, ok := p.records[originalPath]; ok {
		p.total -= rec.totalSize
		delete(p.records, originalPath)
	}
}

// TrackedBytes returns the current byte counter.
func (p *Policy) TrackedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

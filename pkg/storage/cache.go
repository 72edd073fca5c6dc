package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/vjranagit/absorb/pkg/coverage"
	"github.com/vjranagit/absorb/pkg/types"
)

// CoverageCache is an LRU cache of available-range probes with a TTL
type CoverageCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	cache    map[types.TableRef]*cacheEntry
	lru      *list.List
	hits     uint64
	misses   uint64
	now      func() time.Time
}

// cacheEntry is one cached probe result
type cacheEntry struct {
	ref       types.TableRef
	cov       coverage.Coverage
	timestamp time.Time
	element   *list.Element
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Expired  int     `json:"expired"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// NewCoverageCache creates a new coverage cache
func NewCoverageCache(capacity int, ttl time.Duration) *CoverageCache {
	return &CoverageCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[types.TableRef]*cacheEntry),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get retrieves a cached coverage. A cached nil coverage is a hit.
func (cc *CoverageCache) Get(ref types.TableRef) (coverage.Coverage, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	entry, exists := cc.cache[ref]
	if !exists {
		cc.misses++
		return nil, false
	}

	if cc.now().Sub(entry.timestamp) > cc.ttl {
		cc.removeLocked(ref)
		cc.misses++
		return nil, false
	}

	cc.lru.MoveToFront(entry.element)
	cc.hits++
	return entry.cov, true
}

// Put stores a coverage in the cache
func (cc *CoverageCache) Put(ref types.TableRef, cov coverage.Coverage) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if entry, exists := cc.cache[ref]; exists {
		entry.cov = cov
		entry.timestamp = cc.now()
		cc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{
		ref:       ref,
		cov:       cov,
		timestamp: cc.now(),
	}
	entry.element = cc.lru.PushFront(entry)
	cc.cache[ref] = entry

	if cc.lru.Len() > cc.capacity {
		if oldest := cc.lru.Back(); oldest != nil {
			cc.removeLocked(oldest.Value.(*cacheEntry).ref)
		}
	}
}

// GetOrLoad returns the cached coverage or calls load and caches its
// result. Load errors are not cached.
func (cc *CoverageCache) GetOrLoad(ctx context.Context, ref types.TableRef, load func(context.Context) (coverage.Coverage, error)) (coverage.Coverage, error) {
	if cov, ok := cc.Get(ref); ok {
		return cov, nil
	}
	cov, err := load(ctx)
	if err != nil {
		return nil, err
	}
	cc.Put(ref, cov)
	return cov, nil
}

// Invalidate drops the entry of one table
func (cc *CoverageCache) Invalidate(ref types.TableRef) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.removeLocked(ref)
}

// removeLocked removes an entry from the cache (must hold lock)
func (cc *CoverageCache) removeLocked(ref types.TableRef) {
	if entry, exists := cc.cache[ref]; exists {
		cc.lru.Remove(entry.element)
		delete(cc.cache, ref)
	}
}

// Clear clears all cache entries
func (cc *CoverageCache) Clear() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.cache = make(map[types.TableRef]*cacheEntry)
	cc.lru = list.New()
}

// Size returns the current cache size
func (cc *CoverageCache) Size() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.cache)
}

// Stats returns cache statistics
func (cc *CoverageCache) Stats() CacheStats {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	expired := 0
	for _, entry := range cc.cache {
		if cc.now().Sub(entry.timestamp) > cc.ttl {
			expired++
		}
	}

	stats := CacheStats{
		Size:     len(cc.cache),
		Capacity: cc.capacity,
		Expired:  expired,
		Hits:     cc.hits,
		Misses:   cc.misses,
	}
	if total := cc.hits + cc.misses; total > 0 {
		stats.HitRate = float64(cc.hits) / float64(total) * 100.0
	}
	return stats
}

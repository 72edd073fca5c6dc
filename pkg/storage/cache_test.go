package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vjranagit/absorb/pkg/coverage"
	"github.com/vjranagit/absorb/pkg/types"
)

func TestCoverageCache(t *testing.T) {
	cache := NewCoverageCache(100, time.Minute)
	ref := types.TableRef{Source: "s", Table: "t"}

	if _, ok := cache.Get(ref); ok {
		t.Error("Expected cache miss, got hit")
	}

	available := coverage.Interval{Start: coverage.Date(2025, 1, 1), End: coverage.Date(2025, 3, 1)}
	cache.Put(ref, available)

	got, ok := cache.Get(ref)
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}
	if got != available {
		t.Errorf("Expected %v, got %v", available, got)
	}

	// A nil coverage is a valid probe result
	absent := types.TableRef{Source: "s", Table: "absent"}
	cache.Put(absent, nil)
	if got, ok := cache.Get(absent); !ok || got != nil {
		t.Errorf("Expected cached nil, got %v, %v", got, ok)
	}

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Expected 2 hits and 1 miss, got %+v", stats)
	}
}

func TestCoverageCacheExpiration(t *testing.T) {
	cache := NewCoverageCache(100, time.Minute)
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	ref := types.TableRef{Source: "s", Table: "t"}
	cache.Put(ref, coverage.ChunkList{})

	now = now.Add(30 * time.Second)
	if _, ok := cache.Get(ref); !ok {
		t.Fatal("Expected cache hit before TTL")
	}

	now = now.Add(2 * time.Minute)
	if cache.Stats().Expired != 1 {
		t.Error("Expected one expired entry in stats")
	}
	if _, ok := cache.Get(ref); ok {
		t.Error("Expected cache miss after TTL expiration")
	}
	if cache.Size() != 0 {
		t.Errorf("Expected expired entry to be evicted, size=%d", cache.Size())
	}
}

func TestCoverageCacheLRUEviction(t *testing.T) {
	cache := NewCoverageCache(3, time.Minute)

	refs := make([]types.TableRef, 4)
	for i := range refs {
		refs[i] = types.TableRef{Source: "s", Table: fmt.Sprintf("t%d", i)}
	}
	for _, ref := range refs[:3] {
		cache.Put(ref, coverage.ChunkList{})
	}

	// Touch t0 so t1 becomes least recently used
	cache.Get(refs[0])
	cache.Put(refs[3], coverage.ChunkList{})

	if cache.Size() != 3 {
		t.Errorf("Expected size 3, got %d", cache.Size())
	}
	if _, ok := cache.Get(refs[1]); ok {
		t.Error("Expected t1 to be evicted")
	}
	if _, ok := cache.Get(refs[0]); !ok {
		t.Error("Expected t0 to survive eviction")
	}
}

func TestCoverageCacheGetOrLoad(t *testing.T) {
	cache := NewCoverageCache(10, time.Minute)
	ref := types.TableRef{Source: "s", Table: "t"}
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (coverage.Coverage, error) {
		calls++
		return coverage.ChunkList{coverage.NameChunk("btc")}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := cache.GetOrLoad(ctx, ref, load); err != nil {
			t.Fatalf("GetOrLoad failed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("Expected loader to run once, ran %d times", calls)
	}

	cache.Invalidate(ref)
	boom := errors.New("upstream down")
	_, err := cache.GetOrLoad(ctx, ref, func(context.Context) (coverage.Coverage, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected loader error, got %v", err)
	}
	if cache.Size() != 0 {
		t.Error("Load errors must not be cached")
	}
}

func TestCoverageCacheClear(t *testing.T) {
	cache := NewCoverageCache(10, time.Minute)
	cache.Put(types.TableRef{Source: "a", Table: "b"}, nil)
	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Expected empty cache, got %d", cache.Size())
	}
}

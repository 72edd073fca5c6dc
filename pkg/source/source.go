// Package source defines the upstream side of a table: what it can offer
// and how one chunk is fetched.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vjranagit/absorb/pkg/coverage"
	"github.com/vjranagit/absorb/pkg/types"
)

// ErrNoSource is returned when no source is registered for a table
var ErrNoSource = errors.New("source: no source registered")

// Source is the upstream of one table
type Source interface {
	// Available reports what the upstream offers. A nil coverage means
	// the upstream cannot tell.
	Available(ctx context.Context) (coverage.Coverage, error)

	// Fetch downloads one chunk. Nil data means the upstream has nothing
	// for the chunk.
	Fetch(ctx context.Context, chunk coverage.Chunk) ([]byte, error)
}

// FetchFunc fetches one chunk
type FetchFunc func(ctx context.Context, chunk coverage.Chunk) ([]byte, error)

// StaticSource offers a fixed coverage and fetches through a function
type StaticSource struct {
	Coverage coverage.Coverage
	FetchFn  FetchFunc
}

// Available implements Source
func (s *StaticSource) Available(ctx context.Context) (coverage.Coverage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Coverage, nil
}

// Fetch implements Source
func (s *StaticSource) Fetch(ctx context.Context, chunk coverage.Chunk) ([]byte, error) {
	if s.FetchFn == nil {
		return nil, nil
	}
	return s.FetchFn(ctx, chunk)
}

// Registry maps tables to their sources
type Registry struct {
	mu      sync.RWMutex
	sources map[types.TableRef]Source
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sources: make(map[types.TableRef]Source)}
}

// Register binds a source to a table, replacing any previous binding
func (r *Registry) Register(ref types.TableRef, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[ref] = src
}

// Lookup returns the source of a table
func (r *Registry) Lookup(ref types.TableRef) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, ref)
	}
	return src, nil
}

// Refs lists registered tables in order
func (r *Registry) Refs() []types.TableRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]types.TableRef, 0, len(r.sources))
	for ref := range r.sources {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].String() < refs[j].String()
	})
	return refs
}

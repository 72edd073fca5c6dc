// Package collect turns coverage into work: it plans which chunks a table
// is missing and fetches them into the local store.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vjranagit/absorb/pkg/coverage"
	"github.com/vjranagit/absorb/pkg/source"
	"github.com/vjranagit/absorb/pkg/storage"
	"github.com/vjranagit/absorb/pkg/types"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotTracked is returned for tables missing from the catalog
	ErrNotTracked = errors.New("collect: table is not tracked")
	// ErrNoAvailableRange is returned when a plan needs the available
	// range and the upstream cannot report one
	ErrNoAvailableRange = errors.New("collect: available range unknown")
)

// Config holds collector configuration
type Config struct {
	Workers   int
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns default collector configuration
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		CacheSize: 256,
		CacheTTL:  10 * time.Minute,
	}
}

// Collector plans and executes collections
type Collector struct {
	cfg     Config
	store   storage.ChunkStore
	catalog *storage.Catalog
	sources *source.Registry
	cache   *storage.CoverageCache
	journal *storage.Journal
	logger  *slog.Logger
}

// New creates a collector. journal and logger may be nil.
func New(cfg Config, store storage.ChunkStore, catalog *storage.Catalog, sources *source.Registry, journal *storage.Journal, logger *slog.Logger) *Collector {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		sources: sources,
		cache:   storage.NewCoverageCache(cfg.CacheSize, cfg.CacheTTL),
		journal: journal,
		logger:  logger.With("component", "collector"),
	}
}

// Table returns the catalog entry of a tracked table
func (c *Collector) Table(ref types.TableRef) (storage.CatalogEntry, error) {
	entry, ok := c.catalog.Get(ref)
	if !ok {
		return storage.CatalogEntry{}, fmt.Errorf("%w: %s", ErrNotTracked, ref)
	}
	return entry, nil
}

// Available returns what the upstream offers, from the table definition
// when it fixes one and from the cached source probe otherwise
func (c *Collector) Available(ctx context.Context, ref types.TableRef) (coverage.Coverage, error) {
	entry, err := c.Table(ref)
	if err != nil {
		return nil, err
	}
	if entry.Table.Available != nil {
		return entry.Table.Available, nil
	}

	src, err := c.sources.Lookup(ref)
	if err != nil {
		return nil, err
	}
	cov, err := c.cache.GetOrLoad(ctx, ref, src.Available)
	if err != nil {
		return nil, fmt.Errorf("failed to get available range of %s: %w", ref, err)
	}
	return cov, nil
}

// Collected returns what is stored locally
func (c *Collector) Collected(ctx context.Context, ref types.TableRef) (coverage.Coverage, error) {
	entry, err := c.Table(ref)
	if err != nil {
		return nil, err
	}
	return c.store.Collected(ctx, ref, entry.Table.Format)
}

// CacheStats returns statistics of the available-range cache
func (c *Collector) CacheStats() storage.CacheStats {
	return c.cache.Stats()
}

// Plan computes the chunks a collection would fetch.
//
//   - requested range, no overwrite: the part of the range not collected
//   - requested range, overwrite: the whole range
//   - overwrite only: everything available
//   - neither: everything available and not collected
func (c *Collector) Plan(ctx context.Context, ref types.TableRef, opts types.CollectOptions) (*types.CollectionPlan, error) {
	entry, err := c.Table(ref)
	if err != nil {
		return nil, err
	}
	f := entry.Table.Format

	collected, err := c.store.Collected(ctx, ref, f)
	if err != nil {
		return nil, fmt.Errorf("failed to read collected range of %s: %w", ref, err)
	}
	available, err := c.Available(ctx, ref)
	if err != nil {
		return nil, err
	}

	var target coverage.Coverage
	switch {
	case opts.Requested != nil && !opts.Overwrite:
		target, err = coverage.Diff(collected, opts.Requested, f)
	case opts.Requested != nil:
		target = opts.Requested
	case available == nil:
		return nil, fmt.Errorf("%w: %s", ErrNoAvailableRange, ref)
	case opts.Overwrite:
		target = available
	default:
		target, err = coverage.Diff(collected, available, f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compute missing range of %s: %w", ref, err)
	}

	chunks, err := coverage.Partition(target, f)
	if err != nil {
		return nil, fmt.Errorf("failed to partition %s: %w", ref, err)
	}
	if chunks == nil {
		chunks = coverage.ChunkList{}
	}

	keys := make([]string, len(chunks))
	for i, chunk := range chunks {
		if keys[i], err = coverage.FormatChunk(chunk, f); err != nil {
			return nil, fmt.Errorf("failed to format chunk of %s: %w", ref, err)
		}
	}

	plan := &types.CollectionPlan{
		Ref:       ref,
		Format:    f.String(),
		Chunks:    chunks,
		NChunks:   len(chunks),
		Keys:      keys,
		Overwrite: opts.Overwrite,
		Dry:       opts.Dry,
	}
	for _, field := range []struct {
		dst *string
		cov coverage.Coverage
	}{
		{&plan.Available, available},
		{&plan.Collected, collected},
		{&plan.Missing, target},
	} {
		if *field.dst, err = coverage.FormatCoverage(field.cov, f); err != nil {
			return nil, fmt.Errorf("failed to format coverage of %s: %w", ref, err)
		}
	}

	if len(chunks) > 0 {
		sorted := slices.Clone([]coverage.Chunk(chunks))
		if err := coverage.SortChunks(sorted); err != nil {
			return nil, fmt.Errorf("failed to order chunks of %s: %w", ref, err)
		}
		if plan.MinChunk, err = coverage.FormatChunk(sorted[0], f); err != nil {
			return nil, err
		}
		if plan.MaxChunk, err = coverage.FormatChunk(sorted[len(sorted)-1], f); err != nil {
			return nil, err
		}
	}

	plannedChunks.WithLabelValues(ref.Source, ref.Table).Set(float64(len(chunks)))
	return plan, nil
}

// Summarize logs a plan: one chunk is named, several are reported by their
// smallest and largest chunk
func (c *Collector) Summarize(plan *types.CollectionPlan, runID string) {
	attrs := []any{
		"run_id", runID,
		"source", plan.Ref.Source,
		"table", plan.Ref.Table,
		"format", plan.Format,
		"n_chunks", plan.NChunks,
		"overwrite", plan.Overwrite,
		"dry", plan.Dry,
	}

	switch plan.NChunks {
	case 0:
	case 1:
		attrs = append(attrs, "chunk", plan.Keys[0])
	default:
		attrs = append(attrs, "min_chunk", plan.MinChunk, "max_chunk", plan.MaxChunk)
	}

	c.logger.Info("collection summary", attrs...)
}

// Collect plans a table and, unless dry, fetches and stores every planned
// chunk with at most Workers fetches in flight. The first failure cancels
// the rest of the run.
func (c *Collector) Collect(ctx context.Context, ref types.TableRef, opts types.CollectOptions) (*types.CollectResult, error) {
	start := time.Now()

	plan, err := c.Plan(ctx, ref, opts)
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &types.CollectResult{
		RunID: uuid.NewString(),
		Plan:  *plan,
	}
	c.Summarize(plan, result.RunID)
	if opts.Dry || plan.NChunks == 0 {
		result.Duration = time.Since(start)
		runsTotal.WithLabelValues("noop").Inc()
		return result, nil
	}

	entry, err := c.Table(ref)
	if err != nil {
		return nil, err
	}
	src, err := c.sources.Lookup(ref)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for i, chunk := range plan.Chunks {
		if gctx.Err() != nil {
			break
		}
		key := plan.Keys[i]
		g.Go(func() error {
			// A slot freed by the failing chunk may still start this one.
			if gctx.Err() != nil {
				return nil
			}
			n, err := c.collectChunk(gctx, src, entry.Table, result.RunID, chunk, key)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
			case n == 0:
				result.Empty++
			default:
				result.Stored++
				result.Bytes += int64(n)
			}
			return err
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	result.Duration = time.Since(start)

	if c.journal != nil {
		if ferr := c.journal.Flush(); ferr != nil {
			c.logger.Warn("failed to flush journal", "error", ferr)
		}
	}

	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		c.logger.Error("collection failed",
			"run_id", result.RunID,
			"source", ref.Source,
			"table", ref.Table,
			"stored", result.Stored,
			"error", err,
		)
		return result, fmt.Errorf("collection of %s failed: %w", ref, err)
	}

	runsTotal.WithLabelValues("success").Inc()
	c.logger.Info("collection complete",
		"run_id", result.RunID,
		"source", ref.Source,
		"table", ref.Table,
		"stored", result.Stored,
		"empty", result.Empty,
		"bytes", result.Bytes,
		"duration", result.Duration,
	)
	return result, nil
}

// collectChunk fetches and stores one chunk and returns the stored size
func (c *Collector) collectChunk(ctx context.Context, src source.Source, table types.TrackedTable, runID string, chunk coverage.Chunk, key string) (int, error) {
	ref := table.Ref
	entry := types.JournalEntry{
		RunID:  runID,
		Source: ref.Source,
		Table:  ref.Table,
		Chunk:  key,
	}

	fetchStart := time.Now()
	data, err := src.Fetch(ctx, chunk)
	fetchDuration.WithLabelValues(ref.Source, ref.Table).Observe(time.Since(fetchStart).Seconds())
	if err == nil && len(data) > 0 {
		err = c.store.Put(ctx, ref, chunk, table.Format, data)
	}

	switch {
	case err != nil:
		entry.Status = types.StatusFailed
		entry.Error = err.Error()
	case len(data) == 0:
		entry.Status = types.StatusEmpty
	default:
		entry.Status = types.StatusStored
		entry.Bytes = len(data)
		chunkBytesTotal.WithLabelValues(ref.Source, ref.Table).Add(float64(len(data)))
	}
	chunksTotal.WithLabelValues(ref.Source, ref.Table, entry.Status).Inc()

	if c.journal != nil {
		if jerr := c.journal.Append(entry); jerr != nil {
			c.logger.Warn("failed to journal chunk", "chunk", key, "error", jerr)
		}
	}

	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", key, err)
	}
	c.logger.Debug("chunk collected", "run_id", runID, "table", ref.String(), "chunk", key, "status", entry.Status)
	return len(data), nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/vjranagit/absorb/pkg/coverage"
	"github.com/vjranagit/absorb/pkg/types"
)

var (
	// ErrChunkNotFound is returned when a chunk has never been stored
	ErrChunkNotFound = errors.New("storage: chunk not found")
	// ErrTableNotFound is returned when a table has no stored chunks
	ErrTableNotFound = errors.New("storage: table not found")
	// ErrInvalidRef is returned for table references that cannot form a key
	ErrInvalidRef = errors.New("storage: invalid table reference")
)

const keySep = "/"

// ChunkStore is the local inventory of collected chunks
type ChunkStore interface {
	// Put stores the payload of one chunk, replacing any previous payload
	Put(ctx context.Context, ref types.TableRef, chunk coverage.Chunk, f coverage.Format, data []byte) error

	// Get returns the payload of one chunk
	Get(ctx context.Context, ref types.TableRef, chunk coverage.Chunk, f coverage.Format) ([]byte, error)

	// GetKey returns the payload stored under a formatted chunk key
	GetKey(ctx context.Context, ref types.TableRef, key string) ([]byte, error)

	// Delete removes every chunk of a table. A table with nothing stored is
	// ErrTableNotFound.
	Delete(ctx context.Context, ref types.TableRef) error

	// Keys lists the stored chunks of a table in key order
	Keys(ctx context.Context, ref types.TableRef) ([]types.ChunkRecord, error)

	// Collected reads the stored chunk keys back into a coverage
	Collected(ctx context.Context, ref types.TableRef, f coverage.Format) (coverage.Coverage, error)

	// Tables lists every table with at least one stored chunk
	Tables(ctx context.Context) ([]types.TableRef, error)

	// Close closes the store
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	InMemory         bool
	CompressionLevel int
	SyncWrites       bool
	Logger           *slog.Logger
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		CompressionLevel: 3,
		SyncWrites:       true,
	}
}

// badgerStore implements ChunkStore using BadgerDB
type badgerStore struct {
	cfg        *Config
	db         *badger.DB
	compressor *Compressor
	logger     *slog.Logger
}

// chunkPayload is the stored value of one chunk
type chunkPayload struct {
	Size int    `json:"size"`
	Data []byte `json:"data"`
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewStore opens a badger-backed chunk store
func NewStore(cfg *Config) (ChunkStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	return &badgerStore{
		cfg:        cfg,
		db:         db,
		compressor: compressor,
		logger:     logger,
	}, nil
}

// Put implements ChunkStore.Put
func (s *badgerStore) Put(ctx context.Context, ref types.TableRef, chunk coverage.Chunk, f coverage.Format, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := chunkKey(ref, chunk, f)
	if err != nil {
		return err
	}

	payload := chunkPayload{
		Size: len(data),
		Data: s.compressor.Compress(data),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payloadBytes)
	})
	if err != nil {
		return fmt.Errorf("failed to write chunk %s: %w", key, err)
	}

	s.logger.Debug("chunk stored",
		"key", string(key),
		"bytes", len(data),
		"stored_bytes", len(payload.Data),
	)
	return nil
}

// Get implements ChunkStore.Get
func (s *badgerStore) Get(ctx context.Context, ref types.TableRef, chunk coverage.Chunk, f coverage.Format) ([]byte, error) {
	name, err := coverage.FormatChunk(chunk, f)
	if err != nil {
		return nil, fmt.Errorf("failed to format chunk: %w", err)
	}
	return s.GetKey(ctx, ref, name)
}

// GetKey implements ChunkStore.GetKey
func (s *badgerStore) GetKey(ctx context.Context, ref types.TableRef, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix, err := tablePrefix(ref)
	if err != nil {
		return nil, err
	}
	key := append(prefix, name...)

	var payloadBytes []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		payloadBytes, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	var payload chunkPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	data, err := s.compressor.Decompress(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk %s: %w", key, err)
	}
	return data, nil
}

// Delete implements ChunkStore.Delete
func (s *badgerStore) Delete(ctx context.Context, ref types.TableRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix, err := tablePrefix(ref)
	if err != nil {
		return err
	}

	found := false
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		found = it.Valid()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan table %s: %w", ref, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}

	if err := s.db.DropPrefix(prefix); err != nil {
		return fmt.Errorf("failed to delete table %s: %w", ref, err)
	}
	return nil
}

// Keys implements ChunkStore.Keys
func (s *badgerStore) Keys(ctx context.Context, ref types.TableRef) ([]types.ChunkRecord, error) {
	prefix, err := tablePrefix(ref)
	if err != nil {
		return nil, err
	}

	records := []types.ChunkRecord{}
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var payload chunkPayload
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &payload)
			})
			if err != nil {
				return fmt.Errorf("failed to read payload of %s: %w", item.Key(), err)
			}
			records = append(records, types.ChunkRecord{
				Ref:  ref,
				Key:  string(item.Key()[len(prefix):]),
				Size: payload.Size,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Collected implements ChunkStore.Collected.
//
// Nothing stored is nil. Calendar and number tables whose stored chunks
// have no gaps collapse to one Interval; range tables merge into Intervals;
// everything else is a sorted ChunkList.
func (s *badgerStore) Collected(ctx context.Context, ref types.TableRef, f coverage.Format) (coverage.Coverage, error) {
	records, err := s.Keys(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	chunks := make([]coverage.Chunk, 0, len(records))
	for _, r := range records {
		c, err := coverage.Parse(r.Key, f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored chunk %q of %s: %w", r.Key, ref, err)
		}
		chunks = append(chunks, c)
	}
	if err := coverage.SortChunks(chunks); err != nil {
		return nil, err
	}
	return inferCoverage(chunks, f)
}

func inferCoverage(chunks []coverage.Chunk, f coverage.Format) (coverage.Coverage, error) {
	if f.IsMulti() || f.Unit.Boundary() == coverage.NoBoundary {
		return coverage.ChunkList(chunks), nil
	}

	first, last := chunks[0], chunks[len(chunks)-1]
	if _, ok := first.(coverage.RangeChunk); ok {
		ivs := make(coverage.Intervals, len(chunks))
		for i, c := range chunks {
			r, ok := c.(coverage.RangeChunk)
			if !ok {
				return nil, fmt.Errorf("%w: mixed range and scalar chunks", coverage.ErrShapeMismatch)
			}
			ivs[i] = coverage.Interval{Start: r.Start, End: r.End}
		}
		return coverage.Normalize(ivs, f)
	}

	span := coverage.Interval{Start: first, End: last}
	n, err := coverage.Count(span, f)
	if err != nil {
		return nil, err
	}
	if n == int64(len(chunks)) {
		return span, nil
	}
	return coverage.ChunkList(chunks), nil
}

// Tables implements ChunkStore.Tables
func (s *badgerStore) Tables(ctx context.Context) ([]types.TableRef, error) {
	var refs []types.TableRef
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ref, ok := parseRef(string(it.Item().Key()))
			if !ok {
				continue
			}
			if len(refs) == 0 || refs[len(refs)-1] != ref {
				refs = append(refs, ref)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return refs, nil
}

// Close implements ChunkStore.Close
func (s *badgerStore) Close() error {
	s.compressor.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// tablePrefix returns "source/table/"
func tablePrefix(ref types.TableRef) ([]byte, error) {
	if ref.Source == "" || ref.Table == "" ||
		strings.Contains(ref.Source, keySep) || strings.Contains(ref.Table, keySep) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref.String())
	}
	return []byte(ref.Source + keySep + ref.Table + keySep), nil
}

// chunkKey returns "source/table/<formatted chunk>"
func chunkKey(ref types.TableRef, chunk coverage.Chunk, f coverage.Format) ([]byte, error) {
	prefix, err := tablePrefix(ref)
	if err != nil {
		return nil, err
	}
	name, err := coverage.FormatChunk(chunk, f)
	if err != nil {
		return nil, fmt.Errorf("failed to format chunk: %w", err)
	}
	return append(prefix, name...), nil
}

func parseRef(key string) (types.TableRef, bool) {
	parts := strings.SplitN(key, keySep, 3)
	if len(parts) != 3 || slices.Contains(parts, "") {
		return types.TableRef{}, false
	}
	return types.TableRef{Source: parts[0], Table: parts[1]}, true
}

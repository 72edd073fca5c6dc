package types

import (
	"time"

	"github.com/vjranagit/absorb/pkg/coverage"
)

// TableRef identifies a table within a source
type TableRef struct {
	Source string `json:"source"`
	Table  string `json:"table"`
}

// String returns "source/table"
func (r TableRef) String() string {
	return r.Source + "/" + r.Table
}

// TrackedTable is a table configured for collection
type TrackedTable struct {
	Ref        TableRef
	Format     coverage.Format
	Parameters map[string]string

	// URL is an optional fetch template for HTTP sources.
	URL string
	// Available is a fixed available range; nil means probe the source.
	Available coverage.Coverage
}

// ChunkRecord describes one stored chunk payload
type ChunkRecord struct {
	Ref  TableRef `json:"ref"`
	Key  string   `json:"key"`
	Size int      `json:"size"`
}

// CollectOptions narrows or forces a collection
type CollectOptions struct {
	// Requested restricts collection to a range; nil means everything available.
	Requested coverage.Coverage
	Overwrite bool
	Dry       bool
}

// CollectionPlan is the set of chunks a collection would fetch
type CollectionPlan struct {
	Ref       TableRef           `json:"ref"`
	Format    string             `json:"format"`
	Chunks    coverage.ChunkList `json:"-"`
	NChunks   int                `json:"n_chunks"`
	Keys      []string           `json:"chunks"`
	MinChunk  string             `json:"min_chunk,omitempty"`
	MaxChunk  string             `json:"max_chunk,omitempty"`
	Available string             `json:"available"`
	Collected string             `json:"collected"`
	Missing   string             `json:"missing"`
	Overwrite bool               `json:"overwrite"`
	Dry       bool               `json:"dry"`
}

// CollectResult summarizes a finished collection run
type CollectResult struct {
	RunID    string         `json:"run_id"`
	Plan     CollectionPlan `json:"plan"`
	Stored   int            `json:"stored"`
	Empty    int            `json:"empty"`
	Bytes    int64          `json:"bytes"`
	Duration time.Duration  `json:"duration"`
}

// Chunk statuses recorded in the journal
const (
	StatusStored = "stored"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// JournalEntry is one collection event
type JournalEntry struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Table     string    `json:"table"`
	Chunk     string    `json:"chunk"`
	Status    string    `json:"status"`
	Bytes     int       `json:"bytes,omitempty"`
	Error     string    `json:"error,omitempty"`
}

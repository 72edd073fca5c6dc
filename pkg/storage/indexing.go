package storage

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vjranagit/absorb/pkg/types"
)

// sourceLabel indexes the source name alongside table parameters
const sourceLabel = "__source__"

// Catalog indexes tracked tables by fingerprint, source and parameters
type Catalog struct {
	mu     sync.RWMutex
	tables map[uint64]*CatalogEntry
	byRef  map[types.TableRef]uint64
	// Inverted index: parameter name -> parameter value -> fingerprints
	labelIndex map[string]map[string][]uint64
}

// CatalogEntry is one tracked table
type CatalogEntry struct {
	Fingerprint uint64
	Table       types.TrackedTable
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		tables:     make(map[uint64]*CatalogEntry),
		byRef:      make(map[types.TableRef]uint64),
		labelIndex: make(map[string]map[string][]uint64),
	}
}

// Add tracks a table. Re-adding an identical table is a no-op; adding a
// different definition under a tracked reference is an error.
func (c *Catalog) Add(table types.TrackedTable) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fingerprint := Fingerprint(table)
	if existing, ok := c.byRef[table.Ref]; ok {
		if existing == fingerprint {
			return fingerprint, nil
		}
		return 0, fmt.Errorf("table %s is already tracked with different parameters", table.Ref)
	}

	c.tables[fingerprint] = &CatalogEntry{Fingerprint: fingerprint, Table: table}
	c.byRef[table.Ref] = fingerprint

	c.indexLocked(sourceLabel, table.Ref.Source, fingerprint)
	for name, value := range table.Parameters {
		c.indexLocked(name, value, fingerprint)
	}
	return fingerprint, nil
}

func (c *Catalog) indexLocked(name, value string, fingerprint uint64) {
	if c.labelIndex[name] == nil {
		c.labelIndex[name] = make(map[string][]uint64)
	}
	c.labelIndex[name][value] = append(c.labelIndex[name][value], fingerprint)
}

// Get returns the entry of a tracked table
func (c *Catalog) Get(ref types.TableRef) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fingerprint, ok := c.byRef[ref]
	if !ok {
		return CatalogEntry{}, false
	}
	return *c.tables[fingerprint], true
}

// BySource returns the tables of one source, sorted by name
func (c *Catalog) BySource(source string) []CatalogEntry {
	return c.Find(map[string]string{sourceLabel: source})
}

// Find returns tables whose parameters match every selector, sorted by
// reference. No selectors matches every table.
func (c *Catalog) Find(selectors map[string]string) []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []uint64
	if len(selectors) == 0 {
		ids = make([]uint64, 0, len(c.tables))
		for id := range c.tables {
			ids = append(ids, id)
		}
	} else {
		first := true
		for name, value := range selectors {
			matches := c.labelIndex[name][value]
			if first {
				ids = append([]uint64(nil), matches...)
				first = false
			} else {
				ids = intersect(ids, matches)
			}
			if len(ids) == 0 {
				return nil
			}
		}
	}

	out := make([]CatalogEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.tables[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Table.Ref.String() < out[j].Table.Ref.String()
	})
	return out
}

// Len returns the number of tracked tables
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

// Fingerprint hashes a table's source, name and parameters
func Fingerprint(table types.TrackedTable) uint64 {
	keys := make([]string, 0, len(table.Parameters))
	for k := range table.Parameters {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	buf := new(bytes.Buffer)
	buf.WriteString(table.Ref.Source)
	buf.WriteByte(0)
	buf.WriteString(table.Ref.Table)
	buf.WriteByte(0)
	buf.WriteString(table.Format.String())

	for _, k := range keys {
		buf.WriteByte(0)
		buf.WriteString(k)
		buf.WriteByte(0)
		buf.WriteString(table.Parameters[k])
	}

	return xxhash.Sum64(buf.Bytes())
}

// intersect finds common elements in two slices
func intersect(a, b []uint64) []uint64 {
	a = slices.Clone(a)
	b = slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)

	result := make([]uint64, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			i++
		} else if a[i] > b[j] {
			j++
		} else {
			result = append(result, a[i])
			i++
			j++
		}
	}
	return result
}

package coverage

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Chunk is the atomic, independently fetchable unit of a table's index
// domain. The concrete types are TimeChunk, NumberChunk, NameChunk,
// NameListChunk, RangeChunk and MultiChunk.
type Chunk interface {
	isChunk()
}

// TimeChunk is a calendar bucket start or a raw instant.
type TimeChunk struct {
	time.Time
}

// NumberChunk is an integer index value.
type NumberChunk int64

// NameChunk is a categorical partition.
type NameChunk string

// NameListChunk is a set of names fetched together.
type NameListChunk []string

// RangeChunk is a continuous sub-range treated as one unit.
type RangeChunk struct {
	Start Chunk
	End   Chunk
}

// DimChunk is the value of one dimension of a MultiChunk.
type DimChunk struct {
	Dim   string
	Chunk Chunk
}

// MultiChunk addresses a table indexed along several axes at once.
type MultiChunk []DimChunk

func (TimeChunk) isChunk()     {}
func (NumberChunk) isChunk()   {}
func (NameChunk) isChunk()     {}
func (NameListChunk) isChunk() {}
func (RangeChunk) isChunk()    {}
func (MultiChunk) isChunk()    {}

// At returns a TimeChunk for t.
func At(t time.Time) TimeChunk {
	return TimeChunk{Time: t}
}

// Date returns a UTC midnight TimeChunk.
func Date(year int, month time.Month, day int) TimeChunk {
	return TimeChunk{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Get returns the value of the named dimension.
func (m MultiChunk) Get(dim string) (Chunk, bool) {
	for _, d := range m {
		if d.Dim == dim {
			return d.Chunk, true
		}
	}
	return nil, false
}

// CompareChunks orders two chunks of the same shape. Range chunks order by
// start then end; multi chunks order dimension by dimension.
func CompareChunks(a, b Chunk) (int, error) {
	switch x := a.(type) {
	case TimeChunk:
		if y, ok := b.(TimeChunk); ok {
			return x.Compare(y.Time), nil
		}
	case NumberChunk:
		if y, ok := b.(NumberChunk); ok {
			return cmp.Compare(x, y), nil
		}
	case NameChunk:
		if y, ok := b.(NameChunk); ok {
			return strings.Compare(string(x), string(y)), nil
		}
	case NameListChunk:
		if y, ok := b.(NameListChunk); ok {
			return slices.Compare(x, y), nil
		}
	case RangeChunk:
		if y, ok := b.(RangeChunk); ok {
			c, err := CompareChunks(x.Start, y.Start)
			if err != nil || c != 0 {
				return c, err
			}
			return CompareChunks(x.End, y.End)
		}
	case MultiChunk:
		if y, ok := b.(MultiChunk); ok {
			return compareMulti(x, y)
		}
	}
	return 0, fmt.Errorf("%w: cannot compare %T with %T", ErrShapeMismatch, a, b)
}

func compareMulti(a, b MultiChunk) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d dimensions vs %d", ErrShapeMismatch, len(a), len(b))
	}
	for i := range a {
		if a[i].Dim != b[i].Dim {
			return 0, fmt.Errorf("%w: dimension %q vs %q", ErrShapeMismatch, a[i].Dim, b[i].Dim)
		}
		c, err := CompareChunks(a[i].Chunk, b[i].Chunk)
		if err != nil || c != 0 {
			return c, err
		}
	}
	return 0, nil
}

// EqualChunks reports whether a and b have the same shape and value.
func EqualChunks(a, b Chunk) bool {
	c, err := CompareChunks(a, b)
	return err == nil && c == 0
}

// chunkKey is a canonical identity for set membership. Instants are keyed
// in UTC so that equal instants in different zones collide.
func chunkKey(c Chunk) string {
	switch v := c.(type) {
	case TimeChunk:
		return "t:" + v.UTC().Format(time.RFC3339Nano)
	case NumberChunk:
		return "n:" + strconv.FormatInt(int64(v), 10)
	case NameChunk:
		return "s:" + strconv.Quote(string(v))
	case NameListChunk:
		quoted := make([]string, len(v))
		for i, name := range v {
			quoted[i] = strconv.Quote(name)
		}
		return "l:[" + strings.Join(quoted, ",") + "]"
	case RangeChunk:
		return "r:(" + chunkKey(v.Start) + "," + chunkKey(v.End) + ")"
	case MultiChunk:
		parts := make([]string, len(v))
		for i, d := range v {
			parts[i] = strconv.Quote(d.Dim) + "=" + chunkKey(d.Chunk)
		}
		return "m:{" + strings.Join(parts, ",") + "}"
	}
	return fmt.Sprintf("?:%v", c)
}

// SortChunks sorts chunks ascending in place.
func SortChunks(chunks []Chunk) error {
	var err error
	slices.SortStableFunc(chunks, func(a, b Chunk) int {
		c, cerr := CompareChunks(a, b)
		if cerr != nil && err == nil {
			err = cerr
		}
		return c
	})
	return err
}

// checkEndpoint verifies an interval endpoint matches a scalar format.
func checkEndpoint(c Chunk, f Format) error {
	switch f.Unit.Category() {
	case CategoryTemporal:
		if _, ok := c.(TimeChunk); ok {
			return nil
		}
	case CategoryNumeric:
		if _, ok := c.(NumberChunk); ok {
			return nil
		}
	case CategoryName:
		if _, ok := c.(NameChunk); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: endpoint %T does not fit %s", ErrShapeMismatch, c, f)
}

// checkBucketStart rejects month, quarter and year endpoints that do not fall
// on the first day of their bucket. Calendar steps from any other day
// overflow into the following month.
func checkBucketStart(c Chunk, g Granularity) error {
	t, ok := c.(TimeChunk)
	if !ok {
		return nil
	}
	var aligned bool
	switch g {
	case Month:
		aligned = t.Day() == 1
	case Quarter:
		aligned = t.Day() == 1 && (t.Month()-1)%3 == 0
	case Year:
		aligned = t.Day() == 1 && t.Month() == time.January
	default:
		return nil
	}
	if !aligned {
		return fmt.Errorf("%w: %s is not the start of a %s", ErrInvalidInterval, t.Format(dayLayout), g)
	}
	return nil
}

// Package coverage models which parts of a table's index domain exist
// upstream or have been collected locally, and computes what is missing.
//
// A Coverage is one of Interval, Intervals, ChunkList or MultiCoverage. A nil
// Coverage means "unknown", which is distinct from an empty ChunkList
// ("known to be empty"). Every function in this package is pure: inputs are
// never mutated and results are freshly allocated, so it is safe to call
// from any number of goroutines.
package coverage

import (
	"fmt"
	"slices"
)

// Coverage describes a set of chunks.
type Coverage interface {
	isCoverage()
}

// Interval is a span of chunks from Start to End. Under closed bounds both
// ends are included; under semiopen bounds End is excluded.
type Interval struct {
	Start Chunk
	End   Chunk
}

// Intervals is an ascending list of disjoint intervals.
type Intervals []Interval

// ChunkList is an explicit, possibly unsorted, set of chunks.
type ChunkList []Chunk

// DimCoverage is the coverage of one dimension of a MultiCoverage.
type DimCoverage struct {
	Dim      string
	Coverage Coverage
}

// MultiCoverage is the cross product of per-dimension coverages.
type MultiCoverage []DimCoverage

func (Interval) isCoverage()      {}
func (Intervals) isCoverage()     {}
func (ChunkList) isCoverage()     {}
func (MultiCoverage) isCoverage() {}

// NewInterval validates and returns an interval under f's boundary.
func NewInterval(start, end Chunk, f Format) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.validate(f); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// validate rejects endpoints of the wrong shape and reversed intervals.
// Granularities without a boundary only need start <= end.
func (iv Interval) validate(f Format) error {
	if f.IsMulti() {
		return fmt.Errorf("%w: interval under multi-dimensional format %s", ErrShapeMismatch, f)
	}
	if iv.Start == nil || iv.End == nil {
		return fmt.Errorf("%w: missing endpoint", ErrInvalidInterval)
	}
	if err := checkEndpoint(iv.Start, f); err != nil {
		return err
	}
	if err := checkEndpoint(iv.End, f); err != nil {
		return err
	}
	if err := checkBucketStart(iv.Start, f.Unit); err != nil {
		return err
	}
	if err := checkBucketStart(iv.End, f.Unit); err != nil {
		return err
	}
	c, err := CompareChunks(iv.Start, iv.End)
	if err != nil {
		return err
	}
	if f.Unit.Boundary() == Semiopen {
		if c >= 0 {
			return fmt.Errorf("%w: start must be < end", ErrInvalidInterval)
		}
		return nil
	}
	if c > 0 {
		return fmt.Errorf("%w: start must be <= end", ErrInvalidInterval)
	}
	return nil
}

// Get returns the coverage of the named dimension.
func (m MultiCoverage) Get(dim string) (Coverage, bool) {
	for _, d := range m {
		if d.Dim == dim {
			return d.Coverage, true
		}
	}
	return nil, false
}

// asIntervals lifts interval-shaped coverage into a list of intervals.
func asIntervals(c Coverage) (Intervals, bool) {
	switch v := c.(type) {
	case Interval:
		return Intervals{v}, true
	case Intervals:
		return v, true
	}
	return nil, false
}

// Normalize sorts intervals and merges the ones that overlap or, under
// closed bounds, sit one step apart. The result is minimal.
func Normalize(ivs Intervals, f Format) (Intervals, error) {
	if f.Unit.Boundary() == NoBoundary || f.IsMulti() {
		return nil, fmt.Errorf("%w: %s has no interval arithmetic", ErrUnsupportedGranularity, f)
	}
	sorted := slices.Clone(ivs)
	for _, iv := range sorted {
		if err := iv.validate(f); err != nil {
			return nil, err
		}
	}
	slices.SortStableFunc(sorted, func(a, b Interval) int {
		c, _ := CompareChunks(a.Start, b.Start)
		return c
	})

	out := Intervals{}
	for _, iv := range sorted {
		if len(out) == 0 {
			out = append(out, iv)
			continue
		}
		last := &out[len(out)-1]
		reach := last.End
		if f.Unit.Boundary() == Closed {
			next, err := f.advance(last.End, 1)
			if err != nil {
				return nil, err
			}
			reach = next
		}
		c, err := CompareChunks(iv.Start, reach)
		if err != nil {
			return nil, err
		}
		if c > 0 {
			out = append(out, iv)
			continue
		}
		if e, _ := CompareChunks(iv.End, last.End); e > 0 {
			last.End = iv.End
		}
	}
	return out, nil
}

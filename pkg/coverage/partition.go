package coverage

import (
	"fmt"
	"slices"
)

// Partition expands a coverage into the ordered chunks it denotes.
//
//   - ChunkList is returned as is.
//   - MultiCoverage yields the cross product of its dimensions, the first
//     dimension varying slowest.
//   - Interval under a calendar unit or Number yields every step from start
//     to end inclusive, ascending.
//   - Interval under TimestampRange or NumberRange is already one chunk and
//     yields a single RangeChunk.
//   - Intervals concatenates the partition of each interval.
//
// Any other granularity applied to an interval is ErrUnsupportedGranularity.
func Partition(c Coverage, f Format) (ChunkList, error) {
	switch v := c.(type) {
	case nil:
		return nil, nil
	case ChunkList:
		return slices.Clone(v), nil
	case MultiCoverage:
		return partitionMulti(v, f)
	case Interval:
		return partitionInterval(v, f)
	case Intervals:
		out := ChunkList{}
		for _, iv := range v {
			chunks, err := partitionInterval(iv, f)
			if err != nil {
				return nil, err
			}
			out = append(out, chunks...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown coverage %T", ErrShapeMismatch, c)
}

// Count returns the number of chunks Partition would yield for iv without
// building them.
func Count(iv Interval, f Format) (int64, error) {
	info, err := checkPartitionable(iv, f)
	if err != nil {
		return 0, err
	}
	if info.span {
		return 1, nil
	}

	switch start := iv.Start.(type) {
	case NumberChunk:
		end := iv.End.(NumberChunk)
		return int64(end-start)/f.step() + 1, nil
	case TimeChunk:
		end := iv.End.(TimeChunk)
		var n int64
		for i := 0; ; i++ {
			t, err := advanceTime(start.Time, f.Unit, i)
			if err != nil {
				return 0, err
			}
			if t.After(end.Time) {
				return n, nil
			}
			n++
		}
	}
	return 0, fmt.Errorf("%w: %T endpoints for %s", ErrShapeMismatch, iv.Start, f)
}

func checkPartitionable(iv Interval, f Format) (unitInfo, error) {
	if f.IsMulti() {
		return unitInfo{}, fmt.Errorf("%w: interval under multi-dimensional format %s", ErrShapeMismatch, f)
	}
	info := f.Unit.info()
	if !info.expand && !info.span {
		return unitInfo{}, fmt.Errorf("%w: %s intervals cannot be partitioned, supply a chunk list", ErrUnsupportedGranularity, f.Unit)
	}
	if err := iv.validate(f); err != nil {
		return unitInfo{}, err
	}
	return info, nil
}

func partitionInterval(iv Interval, f Format) (ChunkList, error) {
	info, err := checkPartitionable(iv, f)
	if err != nil {
		return nil, err
	}
	if info.span {
		return ChunkList{RangeChunk{Start: iv.Start, End: iv.End}}, nil
	}

	switch start := iv.Start.(type) {
	case NumberChunk:
		end := iv.End.(NumberChunk)
		step := NumberChunk(f.step())
		out := make(ChunkList, 0, int64(end-start)/int64(step)+1)
		for n := start; n <= end; n += step {
			out = append(out, n)
		}
		return out, nil
	case TimeChunk:
		end := iv.End.(TimeChunk)
		out := ChunkList{}
		// Each bucket is stepped from start so month ends do not drift.
		for i := 0; ; i++ {
			t, err := advanceTime(start.Time, f.Unit, i)
			if err != nil {
				return nil, err
			}
			if t.After(end.Time) {
				break
			}
			out = append(out, TimeChunk{Time: t})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T endpoints for %s", ErrShapeMismatch, iv.Start, f)
}

func partitionMulti(m MultiCoverage, f Format) (ChunkList, error) {
	if !f.IsMulti() {
		return nil, fmt.Errorf("%w: multi-dimensional coverage under scalar format %s", ErrShapeMismatch, f)
	}
	if len(m) == 0 {
		return ChunkList{}, nil
	}

	dims := make([]ChunkList, len(m))
	for i, d := range m {
		df, ok := f.Dim(d.Dim)
		if !ok {
			return nil, fmt.Errorf("%w: dimension %q not in format %s", ErrShapeMismatch, d.Dim, f)
		}
		chunks, err := Partition(d.Coverage, df)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", d.Dim, err)
		}
		dims[i] = chunks
	}

	product := []MultiChunk{{}}
	for i, chunks := range dims {
		next := make([]MultiChunk, 0, len(product)*len(chunks))
		for _, head := range product {
			for _, c := range chunks {
				combo := make(MultiChunk, len(head), len(head)+1)
				copy(combo, head)
				next = append(next, append(combo, DimChunk{Dim: m[i].Dim, Chunk: c}))
			}
		}
		product = next
	}

	out := make(ChunkList, len(product))
	for i, combo := range product {
		out[i] = combo
	}
	return out, nil
}

package coverage

import (
	"fmt"
	"slices"
)

// overlap is the relative position of a subtracted interval s against a
// source interval f. The numbering follows the layout below; the 16 cases
// apply when fs < fe and the 6 point cases when fs == fe.
//
//	                         fs         fe
//	source                   |----------|
//	 1  disjointBefore  |--|
//	 2  touchesStart    |----|
//	 3  overlapsStart   |---------|
//	 4  coversToEnd     |---------------|
//	 5  coversBeyond    |---------------------|
//	 6  pointAtStart         |
//	 7  prefix               |----|
//	 8  exact                |----------|
//	 9  prefixBeyond         |---------------|
//	10  pointInside              |
//	11  interior                 |--|
//	12  suffix                   |------|
//	13  overlapsEnd              |-----------|
//	14  pointAtEnd                      |
//	15  touchesEnd                      |----|
//	16  disjointAfter                       |--|
//
//	                         p
//	source                   |
//	 1  onPointBefore   |--|
//	 2  onPointEnding   |----|
//	 3  onPointCovered  |-------|
//	 4  onPointExact         |
//	 5  onPointStarting      |--|
//	 6  onPointAfter            |--|
type overlap int

const (
	disjointBefore overlap = iota + 1
	touchesStart
	overlapsStart
	coversToEnd
	coversBeyond
	pointAtStart
	prefix
	exact
	prefixBeyond
	pointInside
	interior
	suffix
	overlapsEnd
	pointAtEnd
	touchesEnd
	disjointAfter

	onPointBefore
	onPointEnding
	onPointCovered
	onPointExact
	onPointStarting
	onPointAfter
)

// action is what remains of the source interval for a given overlap.
type action int

const (
	keepAll action = iota + 1
	keepNone
	// keepAfter keeps the part of f after s.
	keepAfter
	// keepBefore keeps the part of f before s.
	keepBefore
	// keepOutside keeps both sides of a hole punched by s.
	keepOutside
	// rejected marks cases a boundary discipline cannot express.
	rejected
)

// closedActions: a shared endpoint is consumed by the subtraction.
var closedActions = map[overlap]action{
	disjointBefore: keepAll,
	touchesStart:   keepAfter,
	overlapsStart:  keepAfter,
	coversToEnd:    keepNone,
	coversBeyond:   keepNone,
	pointAtStart:   keepAfter,
	prefix:         keepAfter,
	exact:          keepNone,
	prefixBeyond:   keepNone,
	pointInside:    keepOutside,
	interior:       keepOutside,
	suffix:         keepBefore,
	overlapsEnd:    keepBefore,
	pointAtEnd:     keepBefore,
	touchesEnd:     keepBefore,
	disjointAfter:  keepAll,

	onPointBefore:   keepAll,
	onPointEnding:   keepNone,
	onPointCovered:  keepNone,
	onPointExact:    keepNone,
	onPointStarting: keepNone,
	onPointAfter:    keepAll,
}

// semiopenActions: an open end is never consumed. Zero-width subtractions
// and point sources are not expressible as [start, end) spans.
var semiopenActions = map[overlap]action{
	disjointBefore: keepAll,
	touchesStart:   keepAll,
	overlapsStart:  keepAfter,
	coversToEnd:    keepNone,
	coversBeyond:   keepNone,
	pointAtStart:   rejected,
	prefix:         keepAfter,
	exact:          keepNone,
	prefixBeyond:   keepNone,
	pointInside:    rejected,
	interior:       keepOutside,
	suffix:         keepBefore,
	overlapsEnd:    keepBefore,
	pointAtEnd:     rejected,
	touchesEnd:     keepAll,
	disjointAfter:  keepAll,

	onPointBefore:   rejected,
	onPointEnding:   rejected,
	onPointCovered:  rejected,
	onPointExact:    rejected,
	onPointStarting: rejected,
	onPointAfter:    rejected,
}

// classify places s relative to f using endpoint ordering only. Both
// intervals must already satisfy start <= end.
func classify(s, f Interval) (overlap, error) {
	var err error
	compare := func(a, b Chunk) int {
		c, cerr := CompareChunks(a, b)
		if cerr != nil && err == nil {
			err = cerr
		}
		return c
	}
	ssFs := compare(s.Start, f.Start)
	seFs := compare(s.End, f.Start)
	ssFe := compare(s.Start, f.End)
	seFe := compare(s.End, f.End)
	seSs := compare(s.End, s.Start)
	fePs := compare(f.End, f.Start)
	if err != nil {
		return 0, err
	}

	if fePs == 0 {
		switch {
		case ssFs < 0 && seFs < 0:
			return onPointBefore, nil
		case ssFs < 0 && seFs == 0:
			return onPointEnding, nil
		case ssFs < 0 && seFs > 0:
			return onPointCovered, nil
		case ssFs == 0 && seFs == 0:
			return onPointExact, nil
		case ssFs == 0 && seFs > 0:
			return onPointStarting, nil
		case ssFs > 0:
			return onPointAfter, nil
		}
		return 0, fmt.Errorf("%w: unclassifiable subtraction", ErrInvalidInterval)
	}

	switch {
	case ssFs < 0 && seFs < 0:
		return disjointBefore, nil
	case ssFs < 0 && seFs == 0:
		return touchesStart, nil
	case ssFs < 0 && seFe < 0:
		return overlapsStart, nil
	case ssFs < 0 && seFe == 0:
		return coversToEnd, nil
	case ssFs < 0:
		return coversBeyond, nil
	case ssFs == 0 && seFs == 0:
		return pointAtStart, nil
	case ssFs == 0 && seFe < 0:
		return prefix, nil
	case ssFs == 0 && seFe == 0:
		return exact, nil
	case ssFs == 0:
		return prefixBeyond, nil
	case ssFe < 0 && seSs == 0:
		return pointInside, nil
	case ssFe < 0 && seFe < 0:
		return interior, nil
	case ssFe < 0 && seFe == 0:
		return suffix, nil
	case ssFe < 0:
		return overlapsEnd, nil
	case ssFe == 0 && seFe == 0:
		return pointAtEnd, nil
	case ssFe == 0 && seFe > 0:
		return touchesEnd, nil
	case ssFe > 0:
		return disjointAfter, nil
	}
	return 0, fmt.Errorf("%w: unclassifiable subtraction", ErrInvalidInterval)
}

// DiffInterval returns fromThis minus subtractThis as a minimal list of
// disjoint intervals, using the boundary discipline of f.
func DiffInterval(subtractThis, fromThis Interval, f Format) (Intervals, error) {
	if f.IsMulti() {
		return nil, fmt.Errorf("%w: multi-dimensional format %s must be diffed as chunk lists", ErrUnsupportedGranularity, f)
	}

	var table map[overlap]action
	switch f.Unit.Boundary() {
	case Closed:
		table = closedActions
	case Semiopen:
		table = semiopenActions
	default:
		return nil, fmt.Errorf("%w: %s has no interval arithmetic", ErrUnsupportedGranularity, f)
	}

	if err := subtractThis.validate(f); err != nil {
		return nil, fmt.Errorf("subtracted interval: %w", err)
	}
	if err := fromThis.validate(f); err != nil {
		return nil, fmt.Errorf("source interval: %w", err)
	}

	rel, err := classify(subtractThis, fromThis)
	if err != nil {
		return nil, err
	}

	closed := f.Unit.Boundary() == Closed
	before := func() (Interval, error) {
		if !closed {
			return Interval{Start: fromThis.Start, End: subtractThis.Start}, nil
		}
		end, err := f.advance(subtractThis.Start, -1)
		return Interval{Start: fromThis.Start, End: end}, err
	}
	after := func() (Interval, error) {
		if !closed {
			return Interval{Start: subtractThis.End, End: fromThis.End}, nil
		}
		start, err := f.advance(subtractThis.End, 1)
		return Interval{Start: start, End: fromThis.End}, err
	}

	switch table[rel] {
	case keepAll:
		return Intervals{fromThis}, nil
	case keepNone:
		return Intervals{}, nil
	case keepBefore:
		iv, err := before()
		if err != nil {
			return nil, err
		}
		return Intervals{iv}, nil
	case keepAfter:
		iv, err := after()
		if err != nil {
			return nil, err
		}
		return Intervals{iv}, nil
	case keepOutside:
		lo, err := before()
		if err != nil {
			return nil, err
		}
		hi, err := after()
		if err != nil {
			return nil, err
		}
		return Intervals{lo, hi}, nil
	}
	return nil, fmt.Errorf("%w: subtraction case %d has no %s result", ErrInvalidInterval, rel, f)
}

// Diff returns the part of fromThis not covered by subtractThis.
//
// When both inputs are intervals and f supports interval arithmetic the
// result is Intervals. Otherwise both sides are expanded into chunks and the
// result is a ChunkList holding every chunk of fromThis absent from
// subtractThis, in fromThis order. A nil subtractThis leaves fromThis
// unchanged; a nil fromThis yields nil.
func Diff(subtractThis, fromThis Coverage, f Format) (Coverage, error) {
	if fromThis == nil {
		return nil, nil
	}
	if subtractThis == nil {
		return cloneCoverage(fromThis), nil
	}

	if !f.IsMulti() && f.Unit.Boundary() != NoBoundary {
		sub, subOK := asIntervals(subtractThis)
		from, fromOK := asIntervals(fromThis)
		if subOK && fromOK {
			return diffIntervalSets(sub, from, f)
		}
	}
	return diffChunkLists(subtractThis, fromThis, f)
}

func cloneCoverage(c Coverage) Coverage {
	switch v := c.(type) {
	case Intervals:
		return slices.Clone(v)
	case ChunkList:
		return slices.Clone(v)
	case MultiCoverage:
		out := make(MultiCoverage, len(v))
		for i, d := range v {
			out[i] = DimCoverage{Dim: d.Dim, Coverage: cloneCoverage(d.Coverage)}
		}
		return out
	}
	return c
}

// diffIntervalSets subtracts every interval of sub from every interval of
// from. Inputs are normalized first so the result stays minimal.
func diffIntervalSets(sub, from Intervals, f Format) (Intervals, error) {
	sub, err := Normalize(sub, f)
	if err != nil {
		return nil, fmt.Errorf("subtracted coverage: %w", err)
	}
	from, err = Normalize(from, f)
	if err != nil {
		return nil, fmt.Errorf("source coverage: %w", err)
	}

	out := Intervals{}
	for _, remaining := range from {
		pieces := Intervals{remaining}
		for _, s := range sub {
			next := Intervals{}
			for _, p := range pieces {
				d, err := DiffInterval(s, p, f)
				if err != nil {
					return nil, err
				}
				next = append(next, d...)
			}
			pieces = next
		}
		out = append(out, pieces...)
	}
	return out, nil
}

func diffChunkLists(subtractThis, fromThis Coverage, f Format) (ChunkList, error) {
	sub, err := Partition(subtractThis, f)
	if err != nil {
		return nil, fmt.Errorf("subtracted coverage: %w", err)
	}
	from, err := Partition(fromThis, f)
	if err != nil {
		return nil, fmt.Errorf("source coverage: %w", err)
	}

	drop := make(map[string]struct{}, len(sub))
	for _, c := range sub {
		drop[chunkKey(c)] = struct{}{}
	}
	out := ChunkList{}
	for _, c := range from {
		if _, ok := drop[chunkKey(c)]; !ok {
			out = append(out, c)
		}
	}
	return out, nil
}

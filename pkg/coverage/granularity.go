package coverage

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the unit a table's index domain is discretized by.
type Granularity int

const (
	// All means the table is one chunk: the whole dataset.
	All Granularity = iota + 1
	Hour
	Day
	Week
	Month
	Quarter
	Year
	// Timestamp chunks are raw instants; one chunk per unique instant.
	Timestamp
	// TimestampRange chunks are continuous [start, end) spans.
	TimestampRange
	Number
	NumberRange
	NumberList
	Name
	NameList
)

// Boundary is the endpoint discipline used when diffing intervals.
type Boundary int

const (
	// NoBoundary granularities cannot be diffed as intervals.
	NoBoundary Boundary = iota
	// Closed intervals include both endpoints and step discretely.
	Closed
	// Semiopen intervals are [start, end) spans with no discrete step.
	Semiopen
)

// Category groups granularities by the domain of their chunk values.
type Category int

const (
	CategoryNone Category = iota
	CategoryTemporal
	CategoryNumeric
	CategoryName
)

// unitInfo is the metadata every switch over granularities reads from.
type unitInfo struct {
	name     string
	category Category
	boundary Boundary
	// expand is set when an interval partitions into one chunk per step.
	expand bool
	// span is set when chunks are (start, end) pairs.
	span bool
}

var units = map[Granularity]unitInfo{
	All:            {name: "all", category: CategoryNone},
	Hour:           {name: "hour", category: CategoryTemporal, boundary: Closed, expand: true},
	Day:            {name: "day", category: CategoryTemporal, boundary: Closed, expand: true},
	Week:           {name: "week", category: CategoryTemporal, boundary: Closed, expand: true},
	Month:          {name: "month", category: CategoryTemporal, boundary: Closed, expand: true},
	Quarter:        {name: "quarter", category: CategoryTemporal, boundary: Closed, expand: true},
	Year:           {name: "year", category: CategoryTemporal, boundary: Closed, expand: true},
	Timestamp:      {name: "timestamp", category: CategoryTemporal},
	TimestampRange: {name: "timestamp_range", category: CategoryTemporal, boundary: Semiopen, span: true},
	Number:         {name: "number", category: CategoryNumeric, boundary: Closed, expand: true},
	NumberRange:    {name: "number_range", category: CategoryNumeric, boundary: Closed, span: true},
	NumberList:     {name: "number_list", category: CategoryNumeric},
	Name:           {name: "name", category: CategoryName},
	NameList:       {name: "name_list", category: CategoryName},
}

func (g Granularity) info() unitInfo {
	return units[g]
}

// Valid reports whether g is one of the declared granularities.
func (g Granularity) Valid() bool {
	_, ok := units[g]
	return ok
}

// String returns the configuration name of g, e.g. "day".
func (g Granularity) String() string {
	if info, ok := units[g]; ok {
		return info.name
	}
	return fmt.Sprintf("granularity(%d)", int(g))
}

// Category returns the value domain of g.
func (g Granularity) Category() Category {
	return g.info().category
}

// Boundary returns the interval discipline of g.
func (g Granularity) Boundary() Boundary {
	return g.info().boundary
}

// ParseGranularity parses a configuration name such as "quarter".
func ParseGranularity(s string) (Granularity, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for g, info := range units {
		if info.name == name {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown granularity %q", ErrUnsupportedGranularity, s)
}

// Dim is one named axis of a multi-dimensional format.
type Dim struct {
	Name   string
	Format Format
}

// Format describes the chunk shape of a table. A format is either scalar
// (Unit set) or multi-dimensional (Dims set, Unit ignored).
type Format struct {
	Unit Granularity
	// Step is the numeric step for Number and NumberRange. Zero means 1.
	Step int64
	Dims []Dim
}

// Scalar returns a scalar format with the default step.
func Scalar(g Granularity) Format {
	return Format{Unit: g}
}

// NumberFormat returns a Number format stepping by step.
func NumberFormat(step int64) Format {
	return Format{Unit: Number, Step: step}
}

// MultiFormat returns a multi-dimensional format. Dimension order is kept
// and determines the order of partitioned cross products.
func MultiFormat(dims ...Dim) Format {
	return Format{Dims: dims}
}

// IsMulti reports whether f is multi-dimensional.
func (f Format) IsMulti() bool {
	return len(f.Dims) > 0
}

func (f Format) step() int64 {
	if f.Step <= 0 {
		return 1
	}
	return f.Step
}

// Dim returns the format of the named dimension.
func (f Format) Dim(name string) (Format, bool) {
	for _, d := range f.Dims {
		if d.Name == name {
			return d.Format, true
		}
	}
	return Format{}, false
}

// Validate checks that f is well formed.
func (f Format) Validate() error {
	if !f.IsMulti() {
		if !f.Unit.Valid() {
			return fmt.Errorf("%w: %s", ErrUnsupportedGranularity, f.Unit)
		}
		if f.Step < 0 {
			return fmt.Errorf("%w: negative step %d", ErrShapeMismatch, f.Step)
		}
		return nil
	}

	seen := make(map[string]bool, len(f.Dims))
	for _, d := range f.Dims {
		if d.Name == "" {
			return fmt.Errorf("%w: unnamed dimension", ErrShapeMismatch)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate dimension %q", ErrShapeMismatch, d.Name)
		}
		seen[d.Name] = true
		if d.Format.IsMulti() {
			return fmt.Errorf("%w: nested multi-dimensional format in %q", ErrShapeMismatch, d.Name)
		}
		if err := d.Format.Validate(); err != nil {
			return fmt.Errorf("dimension %q: %w", d.Name, err)
		}
	}
	return nil
}

// String renders f for logs, e.g. "day" or "multi(market:name,day:day)".
func (f Format) String() string {
	if !f.IsMulti() {
		if f.Step > 1 {
			return fmt.Sprintf("%s(step=%d)", f.Unit, f.Step)
		}
		return f.Unit.String()
	}
	parts := make([]string, len(f.Dims))
	for i, d := range f.Dims {
		parts[i] = d.Name + ":" + d.Format.String()
	}
	return "multi(" + strings.Join(parts, ",") + ")"
}

// advanceTime moves t by n calendar units of g.
func advanceTime(t time.Time, g Granularity, n int) (time.Time, error) {
	switch g {
	case Hour:
		return t.Add(time.Duration(n) * time.Hour), nil
	case Day:
		return t.AddDate(0, 0, n), nil
	case Week:
		return t.AddDate(0, 0, 7*n), nil
	case Month:
		return t.AddDate(0, n, 0), nil
	case Quarter:
		return t.AddDate(0, 3*n, 0), nil
	case Year:
		return t.AddDate(n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s has no calendar step", ErrUnsupportedGranularity, g)
}

// advance moves a scalar endpoint by n discrete steps of f.
func (f Format) advance(c Chunk, n int) (Chunk, error) {
	switch v := c.(type) {
	case TimeChunk:
		t, err := advanceTime(v.Time, f.Unit, n)
		if err != nil {
			return nil, err
		}
		return TimeChunk{Time: t}, nil
	case NumberChunk:
		return v + NumberChunk(int64(n)*f.step()), nil
	}
	return nil, fmt.Errorf("%w: %T cannot be stepped", ErrShapeMismatch, c)
}

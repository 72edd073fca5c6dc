package coverage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Absent renders a nil coverage.
	Absent = "-"
	// Empty renders a coverage known to hold no chunks.
	Empty = "[]"
	// RangeSep joins the two ends of a rendered range.
	RangeSep = "_to_"

	listSep    = "_"
	dimSep     = ","
	dimAssign  = "="
	numWidth   = 10
	hourLayout = "2006-01-02--15-04-05"
	dayLayout  = "2006-01-02"
	monLayout  = "2006-01"
	yearLayout = "2006"
)

// scalarUnit is the granularity used to render one endpoint of a range.
func scalarUnit(g Granularity) Granularity {
	switch g {
	case TimestampRange:
		return Timestamp
	case NumberRange:
		return Number
	}
	return g
}

// FormatChunk renders a chunk deterministically. The result is used both
// for display and as the chunk's key in storage, and Parse reverses it.
func FormatChunk(c Chunk, f Format) (string, error) {
	if f.IsMulti() {
		m, ok := c.(MultiChunk)
		if !ok {
			return "", fmt.Errorf("%w: %T under multi-dimensional format", ErrShapeMismatch, c)
		}
		parts := make([]string, len(m))
		for i, d := range m {
			df, ok := f.Dim(d.Dim)
			if !ok {
				return "", fmt.Errorf("%w: dimension %q not in format %s", ErrShapeMismatch, d.Dim, f)
			}
			s, err := FormatChunk(d.Chunk, df)
			if err != nil {
				return "", fmt.Errorf("dimension %q: %w", d.Dim, err)
			}
			if strings.ContainsAny(s, dimSep+dimAssign) {
				return "", fmt.Errorf("%w: dimension %q value %q may not contain %q or %q", ErrShapeMismatch, d.Dim, s, dimSep, dimAssign)
			}
			parts[i] = d.Dim + dimAssign + s
		}
		return strings.Join(parts, dimSep), nil
	}

	if r, ok := c.(RangeChunk); ok {
		unit := scalarUnit(f.Unit)
		start, err := formatScalar(r.Start, unit)
		if err != nil {
			return "", err
		}
		end, err := formatScalar(r.End, unit)
		if err != nil {
			return "", err
		}
		return start + RangeSep + end, nil
	}
	if f.Unit.info().span {
		return "", fmt.Errorf("%w: %s chunks are ranges, got %T", ErrShapeMismatch, f.Unit, c)
	}
	return formatScalar(c, f.Unit)
}

func formatScalar(c Chunk, g Granularity) (string, error) {
	if g == All {
		return "all", nil
	}
	switch v := c.(type) {
	case TimeChunk:
		switch g {
		case Hour, Timestamp:
			return v.Format(hourLayout), nil
		case Day, Week:
			return v.Format(dayLayout), nil
		case Month:
			return v.Format(monLayout), nil
		case Quarter:
			if v.Day() != 1 || (v.Month()-1)%3 != 0 {
				return "", fmt.Errorf("%w: %s", ErrInvalidQuarterBoundary, v.Format(dayLayout))
			}
			return fmt.Sprintf("%s-Q%d", v.Format(yearLayout), int(v.Month()-1)/3+1), nil
		case Year:
			return v.Format(yearLayout), nil
		}
	case NumberChunk:
		if g.Category() == CategoryNumeric {
			// Zero padding keeps keys in numeric order only for v >= 0.
			if v < 0 {
				return "", fmt.Errorf("%w: negative number %d", ErrShapeMismatch, int64(v))
			}
			return fmt.Sprintf("%0*d", numWidth, int64(v)), nil
		}
	case NameChunk:
		if g == Name {
			return string(v), nil
		}
	case NameListChunk:
		if g == NameList {
			return strings.Join(v, listSep), nil
		}
	}
	return "", fmt.Errorf("%w: %T does not fit %s", ErrShapeMismatch, c, g)
}

// FormatCoverage renders a coverage as "<first>_to_<last>". Intervals use
// their endpoints; lists use their smallest and largest chunk; multi
// coverages render each dimension as "dim=<coverage>".
func FormatCoverage(c Coverage, f Format) (string, error) {
	switch v := c.(type) {
	case nil:
		return Absent, nil
	case Interval:
		return formatSpan(v.Start, v.End, f)
	case Intervals:
		if len(v) == 0 {
			return Empty, nil
		}
		lo, hi := v[0].Start, v[0].End
		for _, iv := range v[1:] {
			if o, err := CompareChunks(iv.Start, lo); err != nil {
				return "", err
			} else if o < 0 {
				lo = iv.Start
			}
			if o, err := CompareChunks(iv.End, hi); err != nil {
				return "", err
			} else if o > 0 {
				hi = iv.End
			}
		}
		return formatSpan(lo, hi, f)
	case ChunkList:
		if len(v) == 0 {
			return Empty, nil
		}
		lo, hi, err := bounds(v)
		if err != nil {
			return "", err
		}
		if f.IsMulti() {
			first, err := FormatChunk(lo, f)
			if err != nil {
				return "", err
			}
			last, err := FormatChunk(hi, f)
			if err != nil {
				return "", err
			}
			return first + RangeSep + last, nil
		}
		// Range chunks span from the lowest start to the highest end.
		if r, ok := lo.(RangeChunk); ok {
			lo = r.Start
		}
		if r, ok := hi.(RangeChunk); ok {
			hi = r.End
		}
		return formatSpan(lo, hi, f)
	case MultiCoverage:
		if !f.IsMulti() {
			return "", fmt.Errorf("%w: multi-dimensional coverage under scalar format %s", ErrShapeMismatch, f)
		}
		parts := make([]string, len(v))
		for i, d := range v {
			df, ok := f.Dim(d.Dim)
			if !ok {
				return "", fmt.Errorf("%w: dimension %q not in format %s", ErrShapeMismatch, d.Dim, f)
			}
			s, err := FormatCoverage(d.Coverage, df)
			if err != nil {
				return "", fmt.Errorf("dimension %q: %w", d.Dim, err)
			}
			parts[i] = d.Dim + dimAssign + s
		}
		return strings.Join(parts, dimSep), nil
	}
	return "", fmt.Errorf("%w: unknown coverage %T", ErrShapeMismatch, c)
}

func formatSpan(lo, hi Chunk, f Format) (string, error) {
	if f.IsMulti() {
		return "", fmt.Errorf("%w: span under multi-dimensional format %s", ErrShapeMismatch, f)
	}
	unit := scalarUnit(f.Unit)
	start, err := formatScalar(lo, unit)
	if err != nil {
		return "", err
	}
	end, err := formatScalar(hi, unit)
	if err != nil {
		return "", err
	}
	return start + RangeSep + end, nil
}

// bounds returns the smallest and largest chunk of a non-empty list.
func bounds(chunks ChunkList) (Chunk, Chunk, error) {
	lo, hi := chunks[0], chunks[0]
	for _, c := range chunks[1:] {
		if cmp, err := CompareChunks(c, lo); err != nil {
			return nil, nil, err
		} else if cmp < 0 {
			lo = c
		}
		if cmp, err := CompareChunks(c, hi); err != nil {
			return nil, nil, err
		} else if cmp > 0 {
			hi = c
		}
	}
	return lo, hi, nil
}

// Parse reads a chunk rendered by FormatChunk. Times are parsed in UTC.
// NameList values are split on "_", so names containing "_" do not
// round-trip. FormatChunk refuses multi-dimensional values containing ","
// or "=" and negative numbers, so neither is ever stored.
func Parse(s string, f Format) (Chunk, error) {
	if f.IsMulti() {
		parts := strings.Split(s, dimSep)
		if len(parts) != len(f.Dims) {
			return nil, fmt.Errorf("%w: %q has %d dimensions, format %s has %d", ErrShapeMismatch, s, len(parts), f, len(f.Dims))
		}
		out := make(MultiChunk, len(parts))
		for i, part := range parts {
			name, value, ok := strings.Cut(part, dimAssign)
			if !ok {
				return nil, fmt.Errorf("%w: dimension %q has no name", ErrShapeMismatch, part)
			}
			df, ok := f.Dim(name)
			if !ok {
				return nil, fmt.Errorf("%w: dimension %q not in format %s", ErrShapeMismatch, name, f)
			}
			c, err := Parse(value, df)
			if err != nil {
				return nil, fmt.Errorf("dimension %q: %w", name, err)
			}
			out[i] = DimChunk{Dim: name, Chunk: c}
		}
		return out, nil
	}

	if f.Unit.info().span {
		lo, hi, ok := strings.Cut(s, RangeSep)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a %s", ErrShapeMismatch, s, f.Unit)
		}
		unit := scalarUnit(f.Unit)
		start, err := parseScalar(lo, unit)
		if err != nil {
			return nil, err
		}
		end, err := parseScalar(hi, unit)
		if err != nil {
			return nil, err
		}
		return RangeChunk{Start: start, End: end}, nil
	}
	return parseScalar(s, f.Unit)
}

// ParseInterval reads interval endpoints rendered by FormatChunk. Range
// formats read each endpoint at the unit of one end of a range.
func ParseInterval(start, end string, f Format) (Interval, error) {
	if f.IsMulti() {
		return Interval{}, fmt.Errorf("%w: interval under multi-dimensional format %s", ErrShapeMismatch, f)
	}
	unit := scalarUnit(f.Unit)
	lo, err := parseScalar(start, unit)
	if err != nil {
		return Interval{}, fmt.Errorf("interval start: %w", err)
	}
	hi, err := parseScalar(end, unit)
	if err != nil {
		return Interval{}, fmt.Errorf("interval end: %w", err)
	}
	return NewInterval(lo, hi, f)
}

func parseScalar(s string, g Granularity) (Chunk, error) {
	layout := ""
	switch g {
	case Hour, Timestamp:
		layout = hourLayout
	case Day, Week:
		layout = dayLayout
	case Month:
		layout = monLayout
	case Year:
		layout = yearLayout
	case Quarter:
		year, q, ok := strings.Cut(s, "-Q")
		n, err := strconv.Atoi(q)
		if !ok || err != nil || n < 1 || n > 4 {
			return nil, fmt.Errorf("%w: %q is not a quarter", ErrInvalidQuarterBoundary, s)
		}
		t, err := time.Parse(yearLayout, year)
		if err != nil {
			return nil, fmt.Errorf("failed to parse quarter year %q: %w", s, err)
		}
		return TimeChunk{Time: t.AddDate(0, 3*(n-1), 0)}, nil
	case Number, NumberList:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse number chunk %q: %w", s, err)
		}
		return NumberChunk(n), nil
	case All:
		if s != "all" {
			return nil, fmt.Errorf("%w: %q is not the all chunk", ErrShapeMismatch, s)
		}
		return NameChunk(s), nil
	case Name:
		return NameChunk(s), nil
	case NameList:
		return NameListChunk(strings.Split(s, listSep)), nil
	default:
		return nil, fmt.Errorf("%w: %s chunks cannot be parsed", ErrUnsupportedGranularity, g)
	}

	t, err := time.Parse(layout, s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s chunk %q: %w", g, s, err)
	}
	return TimeChunk{Time: t}, nil
}

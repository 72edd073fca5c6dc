package coverage

import "errors"

// Contract violations reported by the coverage engine. They are always
// returned wrapped with context; test for them with errors.Is.
var (
	// ErrInvalidInterval is returned for an interval with start > end under
	// closed bounds, or start >= end under semiopen bounds. Month, quarter
	// and year endpoints must also be the first day of their bucket.
	ErrInvalidInterval = errors.New("coverage: invalid interval")

	// ErrUnsupportedGranularity is returned when an operation is not defined
	// for a granularity, e.g. expanding a name interval into chunks.
	ErrUnsupportedGranularity = errors.New("coverage: unsupported granularity")

	// ErrInvalidQuarterBoundary is returned when formatting a quarter chunk
	// that does not fall on the first day of a quarter.
	ErrInvalidQuarterBoundary = errors.New("coverage: invalid quarter boundary")

	// ErrShapeMismatch is returned when a chunk or coverage does not have the
	// shape its format declares.
	ErrShapeMismatch = errors.New("coverage: shape mismatch")
)

package coverage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionIntervals(t *testing.T) {
	testCases := []struct {
		name   string
		cov    Coverage
		format Format
		want   ChunkList
	}{
		{
			name:   "days",
			cov:    Interval{Date(2025, 2, 27), Date(2025, 3, 2)},
			format: Scalar(Day),
			want:   ChunkList{Date(2025, 2, 27), Date(2025, 2, 28), Date(2025, 3, 1), Date(2025, 3, 2)},
		},
		{
			name:   "single day",
			cov:    Interval{Date(2025, 3, 1), Date(2025, 3, 1)},
			format: Scalar(Day),
			want:   ChunkList{Date(2025, 3, 1)},
		},
		{
			name:   "weeks",
			cov:    Interval{Date(2025, 1, 6), Date(2025, 1, 22)},
			format: Scalar(Week),
			want:   ChunkList{Date(2025, 1, 6), Date(2025, 1, 13), Date(2025, 1, 20)},
		},
		{
			name:   "months",
			cov:    Interval{Date(2024, 11, 1), Date(2025, 2, 1)},
			format: Scalar(Month),
			want:   ChunkList{Date(2024, 11, 1), Date(2024, 12, 1), Date(2025, 1, 1), Date(2025, 2, 1)},
		},
		{
			name:   "quarters",
			cov:    Interval{Date(2024, 7, 1), Date(2025, 1, 1)},
			format: Scalar(Quarter),
			want:   ChunkList{Date(2024, 7, 1), Date(2024, 10, 1), Date(2025, 1, 1)},
		},
		{
			name:   "years",
			cov:    Interval{Date(2022, 1, 1), Date(2024, 1, 1)},
			format: Scalar(Year),
			want:   ChunkList{Date(2022, 1, 1), Date(2023, 1, 1), Date(2024, 1, 1)},
		},
		{
			name:   "numbers",
			cov:    Interval{NumberChunk(3), NumberChunk(6)},
			format: Scalar(Number),
			want:   ChunkList{NumberChunk(3), NumberChunk(4), NumberChunk(5), NumberChunk(6)},
		},
		{
			name:   "numbers with step",
			cov:    Interval{NumberChunk(0), NumberChunk(25)},
			format: NumberFormat(10),
			want:   ChunkList{NumberChunk(0), NumberChunk(10), NumberChunk(20)},
		},
		{
			name:   "timestamp range",
			cov:    Interval{Date(2025, 3, 1), Date(2025, 4, 1)},
			format: Scalar(TimestampRange),
			want:   ChunkList{RangeChunk{Start: Date(2025, 3, 1), End: Date(2025, 4, 1)}},
		},
		{
			name:   "number range",
			cov:    Interval{NumberChunk(10), NumberChunk(20)},
			format: Scalar(NumberRange),
			want:   ChunkList{RangeChunk{Start: NumberChunk(10), End: NumberChunk(20)}},
		},
		{
			name: "interval list",
			cov: Intervals{
				{Date(2025, 3, 1), Date(2025, 3, 2)},
				{Date(2025, 3, 5), Date(2025, 3, 5)},
			},
			format: Scalar(Day),
			want:   ChunkList{Date(2025, 3, 1), Date(2025, 3, 2), Date(2025, 3, 5)},
		},
		{
			name:   "chunk list unchanged",
			cov:    ChunkList{NameChunk("b"), NameChunk("a")},
			format: Scalar(Name),
			want:   ChunkList{NameChunk("b"), NameChunk("a")},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Partition(tc.cov, tc.format)
			require.NoError(t, err)
			require.Len(t, got, len(tc.want), "got %v", got)
			for i := range tc.want {
				assert.True(t, EqualChunks(tc.want[i], got[i]), "chunk %d: want %v got %v", i, tc.want[i], got[i])
			}
		})
	}
}

func TestPartitionHours(t *testing.T) {
	start := time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC)
	got, err := Partition(Interval{At(start), At(start.Add(3 * time.Hour))}, Scalar(Hour))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.True(t, EqualChunks(Date(2025, 3, 2), got[2]))
}

func TestPartitionRejectsUnalignedCalendarEndpoints(t *testing.T) {
	testCases := []struct {
		name   string
		iv     Interval
		format Format
	}{
		{"month end start", Interval{Date(2025, 1, 31), Date(2025, 4, 1)}, Scalar(Month)},
		{"month end end", Interval{Date(2025, 1, 1), Date(2025, 4, 30)}, Scalar(Month)},
		{"quarter mid month", Interval{Date(2025, 1, 15), Date(2025, 7, 1)}, Scalar(Quarter)},
		{"quarter wrong month", Interval{Date(2025, 1, 1), Date(2025, 5, 1)}, Scalar(Quarter)},
		{"year mid year", Interval{Date(2022, 1, 1), Date(2024, 6, 1)}, Scalar(Year)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Partition(tc.iv, tc.format)
			assert.ErrorIs(t, err, ErrInvalidInterval)
		})
	}
}

func TestPartitionMonthKeysAscend(t *testing.T) {
	got, err := Partition(Interval{Date(2025, 1, 1), Date(2025, 4, 1)}, Scalar(Month))
	require.NoError(t, err)

	keys := make([]string, len(got))
	for i, c := range got {
		keys[i], err = FormatChunk(c, Scalar(Month))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"2025-01", "2025-02", "2025-03", "2025-04"}, keys)
}

func TestCount(t *testing.T) {
	testCases := []struct {
		name   string
		iv     Interval
		format Format
		want   int64
	}{
		{"days", Interval{Date(2025, 2, 27), Date(2025, 3, 2)}, Scalar(Day), 4},
		{"months", Interval{Date(2024, 11, 1), Date(2025, 2, 1)}, Scalar(Month), 4},
		{"quarters", Interval{Date(2024, 7, 1), Date(2025, 1, 1)}, Scalar(Quarter), 3},
		{"numbers with step", Interval{NumberChunk(0), NumberChunk(25)}, NumberFormat(10), 3},
		{"sparse numbers", Interval{NumberChunk(0), NumberChunk(20_000_000)}, Scalar(Number), 20_000_001},
		{"range", Interval{NumberChunk(10), NumberChunk(20)}, Scalar(NumberRange), 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Count(tc.iv, tc.format)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Count(Interval{Date(2025, 1, 31), Date(2025, 3, 1)}, Scalar(Month))
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = Count(Interval{NameChunk("a"), NameChunk("b")}, Scalar(Name))
	assert.ErrorIs(t, err, ErrUnsupportedGranularity)
}

func TestPartitionMulti(t *testing.T) {
	f := MultiFormat(
		Dim{Name: "market", Format: Scalar(Name)},
		Dim{Name: "day", Format: Scalar(Day)},
	)
	cov := MultiCoverage{
		{Dim: "market", Coverage: ChunkList{NameChunk("btc"), NameChunk("eth")}},
		{Dim: "day", Coverage: Interval{Date(2025, 3, 1), Date(2025, 3, 3)}},
	}

	got, err := Partition(cov, f)
	require.NoError(t, err)
	require.Len(t, got, 6)

	first := got[0].(MultiChunk)
	market, ok := first.Get("market")
	require.True(t, ok)
	assert.Equal(t, NameChunk("btc"), market)
	d, _ := first.Get("day")
	assert.True(t, EqualChunks(Date(2025, 3, 1), d))

	// The first dimension varies slowest.
	fourth := got[3].(MultiChunk)
	market, _ = fourth.Get("market")
	assert.Equal(t, NameChunk("eth"), market)

	empty, err := Partition(MultiCoverage{}, f)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestPartitionErrors(t *testing.T) {
	testCases := []struct {
		name   string
		cov    Coverage
		format Format
		want   error
	}{
		{"name interval", Interval{NameChunk("a"), NameChunk("z")}, Scalar(Name), ErrUnsupportedGranularity},
		{"timestamp interval", Interval{Date(2025, 1, 1), Date(2025, 1, 2)}, Scalar(Timestamp), ErrUnsupportedGranularity},
		{"all interval", Interval{Date(2025, 1, 1), Date(2025, 1, 2)}, Scalar(All), ErrUnsupportedGranularity},
		{"reversed", Interval{Date(2025, 1, 2), Date(2025, 1, 1)}, Scalar(Day), ErrInvalidInterval},
		{"empty semiopen", Interval{Date(2025, 1, 1), Date(2025, 1, 1)}, Scalar(TimestampRange), ErrInvalidInterval},
		{"wrong endpoint", Interval{NumberChunk(1), NumberChunk(2)}, Scalar(Day), ErrShapeMismatch},
		{"multi under scalar", MultiCoverage{{Dim: "a", Coverage: ChunkList{}}}, Scalar(Day), ErrShapeMismatch},
		{"interval under multi", Interval{Date(2025, 1, 1), Date(2025, 1, 2)}, MultiFormat(Dim{Name: "d", Format: Scalar(Day)}), ErrShapeMismatch},
		{"unknown dimension", MultiCoverage{{Dim: "x", Coverage: ChunkList{}}}, MultiFormat(Dim{Name: "d", Format: Scalar(Day)}), ErrShapeMismatch},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Partition(tc.cov, tc.format)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPartitionAbsent(t *testing.T) {
	got, err := Partition(nil, Scalar(Day))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPartitionDoesNotAlias(t *testing.T) {
	in := ChunkList{NameChunk("a")}
	out, err := Partition(in, Scalar(Name))
	require.NoError(t, err)
	out[0] = NameChunk("b")
	assert.Equal(t, NameChunk("a"), in[0])
}

func BenchmarkPartitionDays(b *testing.B) {
	iv := Interval{Date(2000, 1, 1), Date(2025, 1, 1)}
	f := Scalar(Day)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Partition(iv, f)
	}
}

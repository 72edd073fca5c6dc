package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/absorb/pkg/coverage"
)

const sampleConfig = `
server:
  listen_addr: ":9000"
collect:
  workers: 8
  cache_ttl: 90s
tracked_tables:
  - source: kalshi
    table: daily_metrics
    granularity: day
    url: https://api.example.com/metrics/{chunk}
    available:
      start: "2024-01-01"
      end: "2024-12-31"
  - source: ethereum
    table: blocks
    granularity: number
    step: 1000
    parameters:
      chain: mainnet
    available_url: https://api.example.com/blocks/range
    requests_per_second: 5
  - source: binance
    table: candles
    dims:
      - name: pair
        granularity: name
        available:
          chunks: [BTCUSDT, ETHUSDT]
      - name: month
        granularity: month
        available:
          start: "2024-01"
          end: "2024-06"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Collect.Workers)
	assert.Equal(t, filepath.Join("./absorb", "db"), cfg.ToStorageConfig().Path)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.ListenAddr, cfg.Server.ListenAddr)
	assert.Empty(t, cfg.TrackedTables)
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 8, cfg.ToCollectConfig().Workers)
	assert.Equal(t, 90*time.Second, cfg.ToCollectConfig().CacheTTL)
	// Unset fields keep their defaults.
	assert.Equal(t, 3, cfg.Storage.CompressionLevel)
	assert.Equal(t, DefaultConfig().Collect.CacheSize, cfg.Collect.CacheSize)

	tables, err := cfg.Tracked()
	require.NoError(t, err)
	require.Len(t, tables, 3)

	daily := tables[0]
	assert.Equal(t, "kalshi/daily_metrics", daily.Ref.String())
	assert.Equal(t, coverage.Scalar(coverage.Day), daily.Format)
	assert.Equal(t, coverage.Interval{Start: coverage.Date(2024, 1, 1), End: coverage.Date(2024, 12, 31)}, daily.Available)
	assert.Contains(t, daily.URL, "{chunk}")

	blocks := tables[1]
	assert.Equal(t, coverage.NumberFormat(1000), blocks.Format)
	assert.Nil(t, blocks.Available)
	assert.Equal(t, "mainnet", blocks.Parameters["chain"])
	assert.Equal(t, 5.0, cfg.TrackedTables[1].RequestsPerSecond)

	candles := tables[2]
	require.True(t, candles.Format.IsMulti())
	multi, ok := candles.Available.(coverage.MultiCoverage)
	require.True(t, ok, "expected multi coverage, got %T", candles.Available)
	require.Len(t, multi, 2)
	assert.Equal(t, "pair", multi[0].Dim)
	assert.Equal(t, coverage.ChunkList{coverage.NameChunk("BTCUSDT"), coverage.NameChunk("ETHUSDT")}, multi[0].Coverage)

	chunks, err := coverage.Partition(candles.Available, candles.Format)
	require.NoError(t, err)
	assert.Len(t, chunks, 12)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ABSORB_ROOT", "/srv/absorb")
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("COMPRESSION_LEVEL", "4")
	t.Setenv("COLLECT_WORKERS", "16")
	t.Setenv("CACHE_TTL", "1h")
	t.Setenv("ENABLE_JOURNAL", "false")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/srv/absorb", cfg.Storage.Root)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, 4, cfg.Storage.CompressionLevel)
	assert.Equal(t, 16, cfg.Collect.Workers)
	assert.Equal(t, time.Hour, cfg.Collect.CacheTTL)
	assert.False(t, cfg.Storage.EnableJournal)
	assert.Equal(t, filepath.Join("/srv/absorb", FileName), DefaultPath())

	t.Setenv("ABSORB_CONFIG", "/etc/absorb.yaml")
	assert.Equal(t, "/etc/absorb.yaml", DefaultPath())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "tracked_tables: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }, "listen address"},
		{"empty root", func(c *Config) { c.Storage.Root = "" }, "storage root"},
		{"compression too high", func(c *Config) { c.Storage.CompressionLevel = 5 }, "compression level"},
		{"no workers", func(c *Config) { c.Collect.Workers = 0 }, "workers"},
		{"no cache", func(c *Config) { c.Collect.CacheSize = 0 }, "cache size"},
		{"missing table name", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Granularity: "day"}}
		}, "source and table are required"},
		{"slash in name", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "a/b", Granularity: "day"}}
		}, "may not contain"},
		{"unknown granularity", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "t", Granularity: "fortnight"}}
		}, "unknown granularity"},
		{"granularity and dims", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "t", Granularity: "day", Dims: []DimConfig{{Name: "d", Granularity: "day"}}}}
		}, "mutually exclusive"},
		{"duplicate dims", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "t", Dims: []DimConfig{{Name: "d", Granularity: "day"}, {Name: "d", Granularity: "name"}}}}
		}, "duplicate dimension"},
		{"reversed available", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "t", Granularity: "day", Available: &RangeConfig{Start: "2024-02-01", End: "2024-01-01"}}}
		}, "invalid interval"},
		{"half available", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "t", Granularity: "day", Available: &RangeConfig{Start: "2024-02-01"}}}
		}, "start and end are required"},
		{"bad quarter", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "t", Granularity: "quarter", Available: &RangeConfig{Chunks: []string{"2024-Q7"}}}}
		}, "quarter"},
		{"multi with table available", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "t", Dims: []DimConfig{{Name: "d", Granularity: "day"}}, Available: &RangeConfig{Start: "2024-01-01", End: "2024-01-02"}}}
		}, "per dimension"},
		{"multi with partial available", func(c *Config) {
			c.TrackedTables = []TableConfig{{Source: "s", Table: "t", Dims: []DimConfig{
				{Name: "a", Granularity: "name", Available: &RangeConfig{Chunks: []string{"x"}}},
				{Name: "b", Granularity: "day"},
			}}}
		}, "1 of 2 dimensions"},
		{"listed twice", func(c *Config) {
			c.TrackedTables = []TableConfig{
				{Source: "s", Table: "t", Granularity: "day"},
				{Source: "s", Table: "t", Granularity: "month"},
			}
		}, "listed twice"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", FileName)
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

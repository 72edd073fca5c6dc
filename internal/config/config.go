package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vjranagit/absorb/pkg/collect"
	"github.com/vjranagit/absorb/pkg/coverage"
	"github.com/vjranagit/absorb/pkg/storage"
	"github.com/vjranagit/absorb/pkg/types"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up under the absorb root
const FileName = "absorb_config.yaml"

// Config holds the application configuration
type Config struct {
	Server        ServerConfig  `yaml:"server"`
	Storage       StorageConfig `yaml:"storage"`
	Collect       CollectConfig `yaml:"collect"`
	TrackedTables []TableConfig `yaml:"tracked_tables"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Root             string `yaml:"root"`
	CompressionLevel int    `yaml:"compression_level"`
	SyncWrites       bool   `yaml:"sync_writes"`
	EnableJournal    bool   `yaml:"enable_journal"`
}

// CollectConfig holds collector configuration
type CollectConfig struct {
	Workers   int           `yaml:"workers"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// TableConfig is one tracked table in the config file
type TableConfig struct {
	Source      string            `yaml:"source"`
	Table       string            `yaml:"table"`
	Granularity string            `yaml:"granularity,omitempty"`
	Step        int64             `yaml:"step,omitempty"`
	Dims        []DimConfig       `yaml:"dims,omitempty"`
	Parameters  map[string]string `yaml:"parameters,omitempty"`

	URL               string       `yaml:"url,omitempty"`
	AvailableURL      string       `yaml:"available_url,omitempty"`
	Available         *RangeConfig `yaml:"available,omitempty"`
	RequestsPerSecond float64      `yaml:"requests_per_second,omitempty"`
	Burst             int          `yaml:"burst,omitempty"`
}

// DimConfig is one dimension of a multi-dimensional table
type DimConfig struct {
	Name        string       `yaml:"name"`
	Granularity string       `yaml:"granularity"`
	Step        int64        `yaml:"step,omitempty"`
	Available   *RangeConfig `yaml:"available,omitempty"`
}

// RangeConfig is a fixed available range in formatted chunk syntax: either
// start and end, or an explicit chunk list
type RangeConfig struct {
	Start  string   `yaml:"start,omitempty"`
	End    string   `yaml:"end,omitempty"`
	Chunks []string `yaml:"chunks,omitempty"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8420",
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Root:             "./absorb",
			CompressionLevel: 3,
			SyncWrites:       true,
			EnableJournal:    true,
		},
		Collect: CollectConfig{
			Workers:   collect.DefaultConfig().Workers,
			CacheSize: collect.DefaultConfig().CacheSize,
			CacheTTL:  collect.DefaultConfig().CacheTTL,
		},
	}
}

// DefaultPath returns $ABSORB_CONFIG, or the config file under $ABSORB_ROOT
func DefaultPath() string {
	if path := os.Getenv("ABSORB_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(getEnv("ABSORB_ROOT", DefaultConfig().Storage.Root), FileName)
}

// Load returns the defaults overlaid by the YAML file at path, when it
// exists, and then by environment variables
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes the config as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	c.Storage.Root = getEnv("ABSORB_ROOT", c.Storage.Root)
	c.Server.ListenAddr = getEnv("LISTEN_ADDR", c.Server.ListenAddr)
	c.Storage.CompressionLevel = getEnvInt("COMPRESSION_LEVEL", c.Storage.CompressionLevel)
	c.Storage.SyncWrites = getEnvBool("SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.EnableJournal = getEnvBool("ENABLE_JOURNAL", c.Storage.EnableJournal)
	c.Collect.Workers = getEnvInt("COLLECT_WORKERS", c.Collect.Workers)
	c.Collect.CacheTTL = getEnvDuration("CACHE_TTL", c.Collect.CacheTTL)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             filepath.Join(c.Storage.Root, "db"),
		CompressionLevel: c.Storage.CompressionLevel,
		SyncWrites:       c.Storage.SyncWrites,
	}
}

// ToCollectConfig converts to collect.Config
func (c *Config) ToCollectConfig() collect.Config {
	return collect.Config{
		Workers:   c.Collect.Workers,
		CacheSize: c.Collect.CacheSize,
		CacheTTL:  c.Collect.CacheTTL,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Collect.Workers < 1 {
		return fmt.Errorf("collect workers must be at least 1")
	}

	if c.Collect.CacheSize < 1 {
		return fmt.Errorf("collect cache size must be at least 1")
	}

	_, err := c.Tracked()
	return err
}

// Tracked converts the configured tables, checking their formats and
// available ranges
func (c *Config) Tracked() ([]types.TrackedTable, error) {
	seen := make(map[types.TableRef]bool, len(c.TrackedTables))
	tables := make([]types.TrackedTable, 0, len(c.TrackedTables))
	for i, tc := range c.TrackedTables {
		table, err := tc.Tracked()
		if err != nil {
			return nil, fmt.Errorf("tracked table %d: %w", i, err)
		}
		if seen[table.Ref] {
			return nil, fmt.Errorf("tracked table %s is listed twice", table.Ref)
		}
		seen[table.Ref] = true
		tables = append(tables, table)
	}
	return tables, nil
}

// Tracked converts one table config
func (tc TableConfig) Tracked() (types.TrackedTable, error) {
	ref := types.TableRef{Source: tc.Source, Table: tc.Table}
	if ref.Source == "" || ref.Table == "" {
		return types.TrackedTable{}, fmt.Errorf("source and table are required")
	}
	if strings.Contains(ref.Source, "/") || strings.Contains(ref.Table, "/") {
		return types.TrackedTable{}, fmt.Errorf("%s: source and table may not contain '/'", ref)
	}

	f, err := tc.Format()
	if err != nil {
		return types.TrackedTable{}, fmt.Errorf("%s: %w", ref, err)
	}
	available, err := tc.AvailableCoverage(f)
	if err != nil {
		return types.TrackedTable{}, fmt.Errorf("%s: available range: %w", ref, err)
	}

	return types.TrackedTable{
		Ref:        ref,
		Format:     f,
		Parameters: tc.Parameters,
		URL:        tc.URL,
		Available:  available,
	}, nil
}

// Format parses the table's chunk format
func (tc TableConfig) Format() (coverage.Format, error) {
	if len(tc.Dims) == 0 {
		return scalarFormat(tc.Granularity, tc.Step)
	}
	if tc.Granularity != "" {
		return coverage.Format{}, fmt.Errorf("granularity and dims are mutually exclusive")
	}

	dims := make([]coverage.Dim, len(tc.Dims))
	for i, d := range tc.Dims {
		df, err := scalarFormat(d.Granularity, d.Step)
		if err != nil {
			return coverage.Format{}, fmt.Errorf("dimension %q: %w", d.Name, err)
		}
		dims[i] = coverage.Dim{Name: d.Name, Format: df}
	}
	f := coverage.MultiFormat(dims...)
	if err := f.Validate(); err != nil {
		return coverage.Format{}, err
	}
	return f, nil
}

func scalarFormat(granularity string, step int64) (coverage.Format, error) {
	g, err := coverage.ParseGranularity(granularity)
	if err != nil {
		return coverage.Format{}, err
	}
	f := coverage.Format{Unit: g, Step: step}
	if err := f.Validate(); err != nil {
		return coverage.Format{}, err
	}
	return f, nil
}

// AvailableCoverage parses the fixed available range. Nil means the range
// is probed from the source. Multi-dimensional tables fix it per dimension,
// and every dimension must then have one.
func (tc TableConfig) AvailableCoverage(f coverage.Format) (coverage.Coverage, error) {
	if !f.IsMulti() {
		return tc.Available.coverage(f)
	}
	if tc.Available != nil {
		return nil, fmt.Errorf("multi-dimensional tables set available per dimension")
	}

	var multi coverage.MultiCoverage
	for _, d := range tc.Dims {
		df, _ := f.Dim(d.Name)
		cov, err := d.Available.coverage(df)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", d.Name, err)
		}
		if cov == nil {
			continue
		}
		multi = append(multi, coverage.DimCoverage{Dim: d.Name, Coverage: cov})
	}
	switch len(multi) {
	case 0:
		return nil, nil
	case len(tc.Dims):
		return multi, nil
	}
	return nil, fmt.Errorf("available range is set for %d of %d dimensions", len(multi), len(tc.Dims))
}

func (r *RangeConfig) coverage(f coverage.Format) (coverage.Coverage, error) {
	if r == nil {
		return nil, nil
	}
	if len(r.Chunks) > 0 {
		if r.Start != "" || r.End != "" {
			return nil, fmt.Errorf("start/end and chunks are mutually exclusive")
		}
		list := make(coverage.ChunkList, 0, len(r.Chunks))
		for _, raw := range r.Chunks {
			c, err := coverage.Parse(raw, f)
			if err != nil {
				return nil, err
			}
			list = append(list, c)
		}
		return list, nil
	}
	if r.Start == "" || r.End == "" {
		return nil, fmt.Errorf("start and end are required")
	}
	iv, err := coverage.ParseInterval(r.Start, r.End, f)
	if err != nil {
		return nil, err
	}
	return iv, nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

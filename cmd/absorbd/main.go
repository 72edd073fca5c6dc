package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/vjranagit/absorb/internal/config"
	"github.com/vjranagit/absorb/pkg/api"
	"github.com/vjranagit/absorb/pkg/collect"
	"github.com/vjranagit/absorb/pkg/source"
	"github.com/vjranagit/absorb/pkg/storage"
	"github.com/vjranagit/absorb/pkg/types"
)

const (
	version = "0.3.0"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("absorbd exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// Load configuration
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("configuration loaded",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"root", cfg.Storage.Root,
		"compression_level", cfg.Storage.CompressionLevel,
		"workers", cfg.Collect.Workers,
		"tracked_tables", len(cfg.TrackedTables),
	)

	// Initialize storage
	storeCfg := cfg.ToStorageConfig()
	storeCfg.Logger = logger
	store, err := storage.NewStore(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	var journal *storage.Journal
	if cfg.Storage.EnableJournal {
		replayJournal(logger, cfg.Storage.Root)
		journal, err = storage.NewJournal(cfg.Storage.Root)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer journal.Close()
	}

	catalog, sources, err := trackTables(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("tables tracked", "tables", catalog.Len(), "sources", len(sources.Refs()))

	collector := collect.New(cfg.ToCollectConfig(), store, catalog, sources, journal, logger)

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(cfg.Server.ListenAddr, collector, store, catalog, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", cfg.Server.ListenAddr)
		errCh <- server.Start()
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// trackTables builds the catalog and the sources of the configured tables.
// Tables without a URL keep their fixed available range and have no source.
func trackTables(cfg *config.Config, logger *slog.Logger) (*storage.Catalog, *source.Registry, error) {
	catalog := storage.NewCatalog()
	sources := source.NewRegistry()

	for _, tc := range cfg.TrackedTables {
		table, err := tc.Tracked()
		if err != nil {
			return nil, nil, err
		}
		if _, err := catalog.Add(table); err != nil {
			return nil, nil, err
		}
		if table.URL == "" {
			continue
		}

		src, err := source.NewHTTPSource(source.HTTPConfig{
			URLTemplate:       table.URL,
			AvailableURL:      tc.AvailableURL,
			Available:         table.Available,
			Format:            table.Format,
			RequestsPerSecond: tc.RequestsPerSecond,
			Burst:             tc.Burst,
			UserAgent:         "absorbd/" + version,
			Logger:            logger.With("source", table.Ref.Source, "table", table.Ref.Table),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("source for %s: %w", table.Ref, err)
		}
		sources.Register(table.Ref, src)
	}
	return catalog, sources, nil
}

// replayJournal logs per-table outcomes of earlier runs
func replayJournal(logger *slog.Logger, root string) {
	type tally struct{ stored, empty, failed int }
	tallies := make(map[string]*tally)
	runs := make(map[string]struct{})

	err := storage.ReplayJournal(root, func(e types.JournalEntry) error {
		key := types.TableRef{Source: e.Source, Table: e.Table}.String()
		t, ok := tallies[key]
		if !ok {
			t = &tally{}
			tallies[key] = t
		}
		switch e.Status {
		case types.StatusStored:
			t.stored++
		case types.StatusEmpty:
			t.empty++
		case types.StatusFailed:
			t.failed++
		}
		runs[e.RunID] = struct{}{}
		return nil
	})
	if err != nil {
		logger.Warn("failed to replay journal", "error", err)
		return
	}

	for table, t := range tallies {
		logger.Info("journal history",
			"table", table,
			"stored", t.stored,
			"empty", t.empty,
			"failed", t.failed,
		)
	}
	logger.Info("journal replayed", "runs", len(runs), "tables", len(tallies))
}

package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vjranagit/absorb/pkg/collect"
	"github.com/vjranagit/absorb/pkg/coverage"
	"github.com/vjranagit/absorb/pkg/source"
	"github.com/vjranagit/absorb/pkg/storage"
	"github.com/vjranagit/absorb/pkg/types"
)

// Server implements the HTTP API server
type Server struct {
	collector *collect.Collector
	store     storage.ChunkStore
	catalog   *storage.Catalog
	logger    *slog.Logger
	addr      string
	router    *gin.Engine
	server    *http.Server
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error  string               `json:"error"`
	Result *types.CollectResult `json:"result,omitempty"`
}

// TableResponse describes one tracked table
type TableResponse struct {
	Source      string            `json:"source"`
	Table       string            `json:"table"`
	Format      string            `json:"format"`
	Fingerprint string            `json:"fingerprint"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// CoverageResponse is the formatted coverage of one table
type CoverageResponse struct {
	Ref       types.TableRef `json:"ref"`
	Format    string         `json:"format"`
	Available string         `json:"available"`
	Collected string         `json:"collected"`
	Missing   string         `json:"missing"`
}

// ChunksResponse lists the stored chunks of one table
type ChunksResponse struct {
	Ref    types.TableRef      `json:"ref"`
	Chunks []types.ChunkRecord `json:"chunks"`
}

// CollectRequest narrows a collection. Start and End select an interval,
// Chunks an explicit list; both empty means everything available.
type CollectRequest struct {
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Chunks    []string `json:"chunks"`
	Overwrite bool     `json:"overwrite"`
	Dry       bool     `json:"dry"`
}

// NewServer creates a new API server
func NewServer(addr string, collector *collect.Collector, store storage.ChunkStore, catalog *storage.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		collector: collector,
		store:     store,
		catalog:   catalog,
		logger:    logger.With("component", "api"),
		addr:      addr,
	}
	s.router = s.routes()
	return s
}

// Handler returns the router serving every endpoint
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/tables", s.handleTables)
	v1.GET("/cache", s.handleCacheStats)

	table := v1.Group("/tables/:source/:table")
	table.GET("/coverage", s.handleCoverage)
	table.GET("/plan", s.handlePlan)
	table.POST("/collect", s.handleCollect)
	table.GET("/chunks", s.handleChunks)
	table.DELETE("/chunks", s.handleDeleteChunks)
	table.GET("/chunks/:chunk", s.handleChunk)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// statusFor maps errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, collect.ErrNotTracked),
		errors.Is(err, source.ErrNoSource),
		errors.Is(err, storage.ErrChunkNotFound),
		errors.Is(err, storage.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, coverage.ErrInvalidInterval),
		errors.Is(err, coverage.ErrUnsupportedGranularity),
		errors.Is(err, coverage.ErrInvalidQuarterBoundary),
		errors.Is(err, coverage.ErrShapeMismatch),
		errors.Is(err, storage.ErrInvalidRef):
		return http.StatusBadRequest
	case errors.Is(err, collect.ErrNoAvailableRange):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func tableRef(c *gin.Context) types.TableRef {
	return types.TableRef{Source: c.Param("source"), Table: c.Param("table")}
}

// requested parses a requested range under a table's format
func requested(f coverage.Format, start, end string, chunks []string) (coverage.Coverage, error) {
	if len(chunks) > 0 {
		if start != "" || end != "" {
			return nil, errors.New("start/end and chunks are mutually exclusive")
		}
		list := make(coverage.ChunkList, 0, len(chunks))
		for _, raw := range chunks {
			chunk, err := coverage.Parse(raw, f)
			if err != nil {
				return nil, err
			}
			list = append(list, chunk)
		}
		return list, nil
	}

	switch {
	case start == "" && end == "":
		return nil, nil
	case start == "" || end == "":
		return nil, errors.New("start and end must be given together")
	}
	iv, err := coverage.ParseInterval(start, end, f)
	if err != nil {
		return nil, err
	}
	return iv, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"tables": s.catalog.Len(),
	})
}

func (s *Server) handleTables(c *gin.Context) {
	selectors := make(map[string]string)
	for name, values := range c.Request.URL.Query() {
		if name != "source" && len(values) > 0 {
			selectors[name] = values[0]
		}
	}

	var entries []storage.CatalogEntry
	if src := c.Query("source"); src != "" && len(selectors) == 0 {
		entries = s.catalog.BySource(src)
	} else {
		for _, e := range s.catalog.Find(selectors) {
			if src == "" || e.Table.Ref.Source == src {
				entries = append(entries, e)
			}
		}
	}

	tables := make([]TableResponse, 0, len(entries))
	for _, e := range entries {
		tables = append(tables, TableResponse{
			Source:      e.Table.Ref.Source,
			Table:       e.Table.Ref.Table,
			Format:      e.Table.Format.String(),
			Fingerprint: strconv.FormatUint(e.Fingerprint, 16),
			Parameters:  e.Table.Parameters,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.collector.CacheStats())
}

func (s *Server) handleCoverage(c *gin.Context) {
	ref := tableRef(c)
	entry, err := s.collector.Table(ref)
	if err != nil {
		s.fail(c, err)
		return
	}
	f := entry.Table.Format
	ctx := c.Request.Context()

	available, err := s.collector.Available(ctx, ref)
	if err != nil {
		s.fail(c, err)
		return
	}
	collected, err := s.collector.Collected(ctx, ref)
	if err != nil {
		s.fail(c, err)
		return
	}
	missing, err := coverage.Diff(collected, available, f)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := CoverageResponse{Ref: ref, Format: f.String()}
	for _, field := range []struct {
		dst *string
		cov coverage.Coverage
	}{
		{&resp.Available, available},
		{&resp.Collected, collected},
		{&resp.Missing, missing},
	} {
		if *field.dst, err = coverage.FormatCoverage(field.cov, f); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePlan(c *gin.Context) {
	ref := tableRef(c)
	entry, err := s.collector.Table(ref)
	if err != nil {
		s.fail(c, err)
		return
	}

	opts := types.CollectOptions{Dry: true}
	if raw := c.Query("overwrite"); raw != "" {
		if opts.Overwrite, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid overwrite: " + err.Error()})
			return
		}
	}
	opts.Requested, err = requested(entry.Table.Format, c.Query("start"), c.Query("end"), c.QueryArray("chunk"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	plan, err := s.collector.Plan(c.Request.Context(), ref, opts)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleCollect(c *gin.Context) {
	ref := tableRef(c)
	entry, err := s.collector.Table(ref)
	if err != nil {
		s.fail(c, err)
		return
	}

	var req CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	opts := types.CollectOptions{Overwrite: req.Overwrite, Dry: req.Dry}
	opts.Requested, err = requested(entry.Table.Format, req.Start, req.End, req.Chunks)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, err := s.collector.Collect(c.Request.Context(), ref, opts)
	if err != nil {
		if result != nil {
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Result: result})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleChunks(c *gin.Context) {
	ref := tableRef(c)
	if _, err := s.collector.Table(ref); err != nil {
		s.fail(c, err)
		return
	}
	records, err := s.store.Keys(c.Request.Context(), ref)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ChunksResponse{Ref: ref, Chunks: records})
}

func (s *Server) handleDeleteChunks(c *gin.Context) {
	ref := tableRef(c)
	if _, err := s.collector.Table(ref); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.store.Delete(c.Request.Context(), ref); err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("deleted stored chunks", "source", ref.Source, "table", ref.Table)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChunk(c *gin.Context) {
	ref := tableRef(c)
	if _, err := s.collector.Table(ref); err != nil {
		s.fail(c, err)
		return
	}
	data, err := s.store.GetKey(c.Request.Context(), ref, c.Param("chunk"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

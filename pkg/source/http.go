package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vjranagit/absorb/pkg/coverage"
	"golang.org/x/time/rate"
)

// HTTPClient interface allows injecting mock HTTP clients for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures an HTTPSource.
//
// URLTemplate placeholders:
//
//	{chunk}  the formatted chunk, e.g. 2025-03-01
//	{start}  start of a range chunk, RFC 3339 for times
//	{end}    end of a range chunk; scalar chunks use the chunk for both
type HTTPConfig struct {
	URLTemplate string
	// AvailableURL returns {"start": ..., "end": ...} or {"chunks": [...]}
	// in formatted chunk syntax. Empty means Available is used as is.
	AvailableURL      string
	Available         coverage.Coverage
	Format            coverage.Format
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	Client            HTTPClient
	Logger            *slog.Logger
}

// HTTPSource fetches chunks from a URL template
type HTTPSource struct {
	cfg     HTTPConfig
	client  HTTPClient
	limiter *rate.Limiter
	logger  *slog.Logger
}

type availableResponse struct {
	Start  string   `json:"start"`
	End    string   `json:"end"`
	Chunks []string `json:"chunks"`
}

// NewHTTPSource creates an HTTP source
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if cfg.URLTemplate == "" {
		return nil, fmt.Errorf("url template is required")
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk format: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPSource{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// Available implements Source
func (s *HTTPSource) Available(ctx context.Context) (coverage.Coverage, error) {
	if s.cfg.AvailableURL == "" {
		return s.cfg.Available, nil
	}

	body, err := s.get(ctx, s.cfg.AvailableURL)
	if err != nil {
		return nil, fmt.Errorf("failed to probe available range: %w", err)
	}
	if body == nil {
		return nil, nil
	}

	var resp availableResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode available range: %w", err)
	}
	return s.parseAvailable(resp)
}

func (s *HTTPSource) parseAvailable(resp availableResponse) (coverage.Coverage, error) {
	f := s.cfg.Format
	if resp.Chunks != nil {
		chunks := make(coverage.ChunkList, 0, len(resp.Chunks))
		for _, raw := range resp.Chunks {
			c, err := coverage.Parse(raw, f)
			if err != nil {
				return nil, fmt.Errorf("failed to parse available chunk %q: %w", raw, err)
			}
			chunks = append(chunks, c)
		}
		return chunks, nil
	}
	if resp.Start == "" || resp.End == "" {
		return nil, nil
	}

	iv, err := coverage.ParseInterval(resp.Start, resp.End, f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse available range: %w", err)
	}
	return iv, nil
}

// Fetch implements Source
func (s *HTTPSource) Fetch(ctx context.Context, chunk coverage.Chunk) ([]byte, error) {
	target, err := s.expand(chunk)
	if err != nil {
		return nil, err
	}
	data, err := s.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunk: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// get returns nil, nil on 404
func (s *HTTPSource) get(ctx context.Context, target string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	s.logger.Debug("upstream request",
		"url", target,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

func (s *HTTPSource) expand(chunk coverage.Chunk) (string, error) {
	name, err := coverage.FormatChunk(chunk, s.cfg.Format)
	if err != nil {
		return "", fmt.Errorf("failed to format chunk: %w", err)
	}

	lo, hi := chunk, chunk
	if r, ok := chunk.(coverage.RangeChunk); ok {
		lo, hi = r.Start, r.End
	}

	return strings.NewReplacer(
		"{chunk}", url.PathEscape(name),
		"{start}", url.QueryEscape(endpoint(lo, name)),
		"{end}", url.QueryEscape(endpoint(hi, name)),
	).Replace(s.cfg.URLTemplate), nil
}

// endpoint renders a range endpoint for a URL, falling back to the
// formatted chunk for non-scalar values
func endpoint(c coverage.Chunk, fallback string) string {
	switch v := c.(type) {
	case coverage.TimeChunk:
		return v.UTC().Format(time.RFC3339)
	case coverage.NumberChunk:
		return strconv.FormatInt(int64(v), 10)
	case coverage.NameChunk:
		return string(v)
	}
	return fallback
}

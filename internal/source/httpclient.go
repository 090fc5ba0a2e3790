package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

// ClientConfig configures the HTTP search client.
type ClientConfig struct {
	// BaseURL is the search endpoint base URL.
	BaseURL string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key sent as a bearer token.
	APIKey string
}

// Client is the HTTP implementation of the Source contract. It performs a
// single attempt per Search call: retry and backoff policy belongs to the
// harvester engine, which also owns the process-wide block cooldown. The
// client only waits on the rate limiter and classifies failures.
type Client struct {
	client  *http.Client
	limiter *RateLimiter
	config  ClientConfig
	logger  zerolog.Logger
}

// Compile-time interface verification.
var _ Source = (*Client)(nil)

// NewClient creates a new rate-limited search client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-CitationHarvest/1.0"
	}

	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:  cfg,
		logger:  logger.With().Str("component", "source_client").Logger(),
	}
}

// Name returns the source name for logging and error context.
func (c *Client) Name() string {
	return "citation-index"
}

// searchResponse is the wire format of a search result page.
type searchResponse struct {
	Records []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Year    int    `json:"year"`
		Snippet string `json:"snippet"`
	} `json:"records"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// Search fetches one page of citing records for the scoped work.
func (c *Client) Search(ctx context.Context, scope Scope, query Query, offset int) (*Page, error) {
	if scope.WorkID == "" {
		return nil, domain.NewValidationError("work_id", "scope work ID is required")
	}
	if offset < 0 {
		return nil, domain.NewValidationError("offset", "offset must be non-negative")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := c.buildRequest(ctx, scope, query, offset)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.TransientFetchError{Source: c.Name(), Offset: offset, Cause: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if err := c.classifyStatus(resp, offset); err != nil {
		return nil, err
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &domain.ParseError{Source: c.Name(), Offset: offset, Cause: err}
	}

	page := &Page{
		Records:       make([]Record, 0, len(decoded.Records)),
		ReportedTotal: decoded.Total,
		HasMore:       decoded.HasMore,
	}
	for _, r := range decoded.Records {
		page.Records = append(page.Records, Record{
			ExternalID: r.ID,
			Title:      r.Title,
			Year:       r.Year,
			Snippet:    r.Snippet,
		})
	}

	c.logger.Debug().
		Str("work_id", scope.WorkID).
		Int("offset", offset).
		Int("records", len(page.Records)).
		Int("reported_total", page.ReportedTotal).
		Bool("has_more", page.HasMore).
		Msg("search page fetched")

	return page, nil
}

// buildRequest assembles the search request for a scope, query and offset.
func (c *Client) buildRequest(ctx context.Context, scope Scope, query Query, offset int) (*http.Request, error) {
	params := url.Values{}
	params.Set("cites", scope.WorkID)
	params.Set("start", strconv.Itoa(offset))
	if scope.Years.Low != 0 {
		params.Set("ylo", strconv.Itoa(scope.Years.Low))
	}
	if scope.Years.High != 0 {
		params.Set("yhi", strconv.Itoa(scope.Years.High))
	}
	if !query.IsEmpty() {
		params.Set("q", query.Encode())
	}

	endpoint := fmt.Sprintf("%s/search?%s", c.config.BaseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	return req, nil
}

// classifyStatus maps a non-200 response onto the harvest error taxonomy.
// 429 and 403 mean the source is refusing the whole process, not just this
// request, so they classify as blocked rather than transient.
func (c *Client) classifyStatus(resp *http.Response, offset int) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return &domain.SourceBlockedError{
			Source:     c.Name(),
			RetryAfter: retryAfter(resp),
			Cause:      fmt.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return &domain.TransientFetchError{
			Source: c.Name(),
			Offset: offset,
			Cause:  fmt.Errorf("status %d", resp.StatusCode),
		}
	default:
		return fmt.Errorf("%s returned unexpected status %d at offset %d", c.Name(), resp.StatusCode, offset)
	}
}

// retryAfter extracts the Retry-After header as a duration, supporting both
// the seconds and HTTP-date forms. Zero when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}

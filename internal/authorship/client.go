// Package authorship calls the external authorship-verification service
// that decides whether a harvested citing record was actually authored by
// the tracked paper's author. The filter runs after ingestion: a rejected
// record is flagged for review rather than deleted, so the decision is
// always reversible.
package authorship

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/citation-harvest-service/internal/config"
	"github.com/helixir/citation-harvest-service/internal/domain"
)

// Verdict is the filter's decision for one citing record.
type Verdict string

const (
	VerdictAccept    Verdict = "accept"
	VerdictReject    Verdict = "reject"
	VerdictUncertain Verdict = "uncertain"
)

// Result is one verification outcome. Confidence is the service's own
// estimate in [0, 1]; verdicts below the configured minimum are demoted
// to uncertain regardless of label.
type Result struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Verifier decides authorship for citing records.
type Verifier interface {
	Verify(ctx context.Context, citation *domain.Citation) (*Result, error)
}

// Client is the HTTP implementation of Verifier.
type Client struct {
	client        *http.Client
	baseURL       string
	minConfidence float64
	logger        zerolog.Logger
}

var _ Verifier = (*Client)(nil)

// NewClient creates an authorship-filter client.
func NewClient(cfg config.AuthorshipConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		client:        &http.Client{Timeout: timeout},
		baseURL:       cfg.BaseURL,
		minConfidence: cfg.MinConfidence,
		logger:        logger.With().Str("component", "authorship_client").Logger(),
	}
}

type verifyRequest struct {
	ExternalID string `json:"external_id,omitempty"`
	Title      string `json:"title"`
	Year       int    `json:"year,omitempty"`
}

// Verify asks the service whether the citation's work belongs to the
// tracked author. Transport and decode failures are classified with the
// same error types the source client uses, so callers share one retry
// taxonomy.
func (c *Client) Verify(ctx context.Context, citation *domain.Citation) (*Result, error) {
	if citation == nil {
		return nil, domain.NewValidationError("citation", "citation is required")
	}
	if citation.Title == "" {
		return nil, domain.NewValidationError("title", "citation title is required")
	}

	body, err := json.Marshal(verifyRequest{
		ExternalID: citation.ExternalID,
		Title:      citation.Title,
		Year:       citation.Year,
	})
	if err != nil {
		return nil, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.TransientFetchError{Source: "authorship", Cause: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.TransientFetchError{
			Source: "authorship",
			Cause:  fmt.Errorf("status %d", resp.StatusCode),
		}
	default:
		return nil, fmt.Errorf("authorship verify failed with status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &domain.ParseError{Source: "authorship", Cause: err}
	}

	if result.Verdict != VerdictAccept && result.Verdict != VerdictReject && result.Verdict != VerdictUncertain {
		return nil, &domain.ParseError{
			Source: "authorship",
			Cause:  fmt.Errorf("unknown verdict %q", result.Verdict),
		}
	}

	if result.Verdict != VerdictUncertain && result.Confidence < c.minConfidence {
		c.logger.Debug().
			Str("verdict", string(result.Verdict)).
			Float64("confidence", result.Confidence).
			Float64("min_confidence", c.minConfidence).
			Msg("verdict below confidence floor, demoting to uncertain")
		result.Verdict = VerdictUncertain
	}

	return &result, nil
}

package authorship

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-harvest-service/internal/observability"
	"github.com/helixir/citation-harvest-service/internal/repository"
)

// FilterOutcome summarizes one post-ingestion filter pass.
type FilterOutcome struct {
	Checked   int
	Accepted  int
	Rejected  int
	Uncertain int
	Errors    int
}

// Filter applies authorship verdicts to an edition's citations after
// harvesting. Rejected and uncertain citations are flagged for review,
// never deleted: the verdict is an external service's opinion, and the
// operator has the last word.
type Filter struct {
	verifier  Verifier
	citations repository.CitationRepository
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewFilter creates a post-ingestion authorship filter.
func NewFilter(verifier Verifier, citations repository.CitationRepository, metrics *observability.Metrics, logger zerolog.Logger) *Filter {
	return &Filter{
		verifier:  verifier,
		citations: citations,
		metrics:   metrics,
		logger:    logger.With().Str("component", "authorship_filter").Logger(),
	}
}

// FilterEdition verifies every citation pointing at the edition. Citations
// already under review are skipped; verification errors are logged and
// counted, not propagated, so one flaky verdict cannot abort the pass.
func (f *Filter) FilterEdition(ctx context.Context, editionID uuid.UUID) (*FilterOutcome, error) {
	citations, err := f.citations.ListByEdition(ctx, editionID)
	if err != nil {
		return nil, fmt.Errorf("list citations for filter: %w", err)
	}

	outcome := &FilterOutcome{}
	for _, citation := range citations {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		if citation.NeedsReview {
			continue
		}
		outcome.Checked++

		result, err := f.verifier.Verify(ctx, citation)
		if err != nil {
			outcome.Errors++
			f.logger.Warn().Err(err).
				Str("citation_id", citation.ID.String()).
				Msg("authorship verification failed")
			continue
		}
		f.observe(result.Verdict)

		switch result.Verdict {
		case VerdictAccept:
			outcome.Accepted++
		case VerdictUncertain:
			outcome.Uncertain++
			notes := fmt.Sprintf("authorship uncertain (confidence %.2f): %s", result.Confidence, result.Reason)
			if err := f.citations.SetNeedsReview(ctx, citation.ID, notes); err != nil {
				return outcome, fmt.Errorf("flag uncertain citation %s: %w", citation.ID, err)
			}
		case VerdictReject:
			outcome.Rejected++
			notes := fmt.Sprintf("authorship rejected (confidence %.2f): %s", result.Confidence, result.Reason)
			if err := f.citations.SetNeedsReview(ctx, citation.ID, notes); err != nil {
				return outcome, fmt.Errorf("flag rejected citation %s: %w", citation.ID, err)
			}
		}
	}

	f.logger.Info().
		Str("edition_id", editionID.String()).
		Int("checked", outcome.Checked).
		Int("rejected", outcome.Rejected).
		Int("uncertain", outcome.Uncertain).
		Int("errors", outcome.Errors).
		Msg("authorship filter pass finished")

	return outcome, nil
}

func (f *Filter) observe(verdict Verdict) {
	if f.metrics == nil {
		return
	}
	f.metrics.AuthorshipVerdicts.WithLabelValues(string(verdict)).Inc()
}

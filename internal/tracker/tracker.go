// Package tracker maintains durable harvest target state. It is the single
// writer of harvest_targets rows: the harvester reports page outcomes and
// the tracker decides every status transition.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-harvest-service/internal/config"
	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/events"
	"github.com/helixir/citation-harvest-service/internal/observability"
	"github.com/helixir/citation-harvest-service/internal/repository"
)

// Default thresholds, overridable via config.
const (
	DefaultStallThreshold         = 3
	DefaultEditionReviewThreshold = 5

	// DefaultClaimStaleAfter is the claim lease. Every progress write bumps
	// updated_at, so a live harvest never goes this long without renewing;
	// a target quiet past the lease is treated as abandoned.
	DefaultClaimStaleAfter = 30 * time.Minute
)

// PageResult reports one successfully fetched and committed page.
type PageResult struct {
	// Page is the 1-based page number that was committed.
	Page int

	// Found is the number of new non-duplicate records on the page.
	Found int

	// ReportedTotal is the source's current estimate for the scope. The
	// source may move it between pages.
	ReportedTotal int

	// HasMore is false when the source signalled the end of pagination.
	HasMore bool
}

// Tracker owns harvest target lifecycle transitions.
type Tracker struct {
	targets  repository.TargetRepository
	editions repository.EditionRepository

	stallThreshold  int
	reviewThreshold int
	claimStaleAfter time.Duration

	publisher events.Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// New creates a tracker. Zero thresholds fall back to the defaults.
func New(
	targets repository.TargetRepository,
	editions repository.EditionRepository,
	cfg config.TrackerConfig,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Tracker {
	stall := cfg.StallThreshold
	if stall <= 0 {
		stall = DefaultStallThreshold
	}
	review := cfg.EditionReviewThreshold
	if review <= 0 {
		review = DefaultEditionReviewThreshold
	}
	staleAfter := cfg.ClaimStaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultClaimStaleAfter
	}
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}

	return &Tracker{
		targets:         targets,
		editions:        editions,
		stallThreshold:  stall,
		reviewThreshold: review,
		claimStaleAfter: staleAfter,
		publisher:       publisher,
		metrics:         metrics,
		logger:          logger.With().Str("component", "tracker").Logger(),
	}
}

// Schedule ensures a pending target exists for the (edition, years) scope.
// An existing complete target is left untouched and returned as-is; an
// existing live target gets its expected count refreshed. Stalled targets
// stay stalled: only Reset moves them back to pending.
func (t *Tracker) Schedule(ctx context.Context, edition *domain.Edition, years domain.YearScope, expected int) (*domain.HarvestTarget, error) {
	if edition == nil {
		return nil, domain.NewValidationError("edition", "edition is required")
	}
	if expected < 0 {
		return nil, domain.NewValidationError("expected", "expected count must be non-negative")
	}
	if edition.NeedsReview {
		return nil, fmt.Errorf("edition %s is flagged for review: %w", edition.ID, domain.ErrInvalidInput)
	}

	existing, err := t.targets.GetByScope(ctx, edition.ID, years)
	switch {
	case err == nil:
		if existing.Status == domain.TargetStatusComplete {
			return existing, nil
		}
		if existing.ExpectedCount != expected {
			existing.ExpectedCount = expected
			existing.InitialExpected = expected
			if err := t.targets.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("refresh expected count: %w", err)
			}
		}
		return existing, nil
	case errors.Is(err, domain.ErrNotFound):
		// fall through to create
	default:
		return nil, fmt.Errorf("look up target by scope: %w", err)
	}

	target := &domain.HarvestTarget{
		EditionID:       edition.ID,
		Years:           years,
		ExpectedCount:   expected,
		InitialExpected: expected,
		Status:          domain.TargetStatusPending,
	}
	created, err := t.targets.Create(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	if t.metrics != nil {
		t.metrics.TargetsScheduled.Inc()
	}
	t.logger.Info().
		Str("target_id", created.ID.String()).
		Str("edition_id", edition.ID.String()).
		Int("year_low", years.Low).
		Int("year_high", years.High).
		Int("expected", expected).
		Msg("scheduled harvest target")

	return created, nil
}

// Start claims a target for this harvester and announces the harvest. The
// claim is a single conditional update: pending targets and in_progress
// targets whose lease lapsed are claimable, anything else returns
// domain.ErrTargetClaimed. Re-claiming a lapsed target (crash resume) keeps
// the persisted page cursor.
func (t *Tracker) Start(ctx context.Context, target *domain.HarvestTarget) error {
	if target == nil {
		return domain.NewValidationError("target", "target is required")
	}
	if !target.CanRetry() {
		return fmt.Errorf("target %s is %s: %w", target.ID, target.Status, domain.ErrInvalidInput)
	}

	claimed, err := t.targets.Claim(ctx, target.ID, t.claimStaleAfter)
	if err != nil {
		if errors.Is(err, domain.ErrTargetClaimed) {
			return err
		}
		return fmt.Errorf("start target: %w", err)
	}
	*target = *claimed

	t.publish(ctx, domain.HarvestEvent{
		EventType: domain.EventHarvestStarted,
		TargetID:  target.ID,
		EditionID: target.EditionID,
		Payload: domain.HarvestStartedPayload{
			ExpectedCount: target.ExpectedCount,
			ResumePage:    target.LastScrapedPage + 1,
		},
	})

	return nil
}

// RecordPageResult commits a successful page: counters move, the failure
// streak resets, and the status is recomputed. Completion happens when the
// actual count reaches the expected count or the source ended pagination.
func (t *Tracker) RecordPageResult(ctx context.Context, target *domain.HarvestTarget, result PageResult) error {
	if target == nil {
		return domain.NewValidationError("target", "target is required")
	}
	if target.Status != domain.TargetStatusInProgress {
		return fmt.Errorf("target %s is %s, not in_progress: %w", target.ID, target.Status, domain.ErrInvalidInput)
	}
	if result.Found < 0 {
		return domain.NewValidationError("found", "found count must be non-negative")
	}

	target.PagesAttempted++
	target.PagesSucceeded++
	target.LastScrapedPage = result.Page
	target.ActualCount += result.Found
	target.ConsecutiveFailures = 0
	target.FailureOffset = 0

	if result.ReportedTotal > 0 && result.ReportedTotal != target.ExpectedCount {
		t.logger.Info().
			Str("target_id", target.ID.String()).
			Int("expected", target.ExpectedCount).
			Int("reported", result.ReportedTotal).
			Msg("source estimate moved mid-harvest")
		target.ExpectedCount = result.ReportedTotal
	}

	completed := false
	switch {
	case target.ActualCount >= target.ExpectedCount:
		target.Status = domain.TargetStatusComplete
		target.GapReason = completionGapReason(target)
		completed = true
	case !result.HasMore:
		// Pagination ended short of the estimate. The shortfall is
		// reported, not hidden.
		target.Status = domain.TargetStatusComplete
		target.GapReason = domain.GapReasonPaginationEnded
		completed = true
	}

	if err := t.targets.Update(ctx, target); err != nil {
		return fmt.Errorf("record page result: %w", err)
	}

	if completed {
		t.finishComplete(ctx, target)
	}
	return nil
}

// Complete force-completes an in_progress target with an explicit gap
// reason. The harvester uses it for exhaustion conditions the source does
// not signal, such as consecutive empty pages or the page ceiling.
func (t *Tracker) Complete(ctx context.Context, target *domain.HarvestTarget, reason domain.GapReason) error {
	if target == nil {
		return domain.NewValidationError("target", "target is required")
	}
	if target.Status != domain.TargetStatusInProgress {
		return fmt.Errorf("target %s is %s, not in_progress: %w", target.ID, target.Status, domain.ErrInvalidInput)
	}

	target.Status = domain.TargetStatusComplete
	if target.ActualCount >= target.ExpectedCount {
		target.GapReason = completionGapReason(target)
	} else {
		target.GapReason = reason
	}
	if err := t.targets.Update(ctx, target); err != nil {
		return fmt.Errorf("complete target: %w", err)
	}

	t.finishComplete(ctx, target)
	return nil
}

// completionGapReason decides the gap reason for a target that satisfied
// its current estimate. A satisfied estimate that shrank below the one the
// scope was scheduled with still leaves a gap against the original plan.
func completionGapReason(target *domain.HarvestTarget) domain.GapReason {
	if target.ActualCount < target.InitialExpected {
		return domain.GapReasonSourceEstimateChanged
	}
	return domain.GapReasonNone
}

// AdvancePartition commits a fully drained partition batch: the batch
// counter moves forward and the page cursor rewinds for the next batch.
// Crash resume uses the counter to skip batches already ingested.
func (t *Tracker) AdvancePartition(ctx context.Context, target *domain.HarvestTarget) error {
	if target == nil {
		return domain.NewValidationError("target", "target is required")
	}
	if target.Status != domain.TargetStatusInProgress {
		return fmt.Errorf("target %s is %s, not in_progress: %w", target.ID, target.Status, domain.ErrInvalidInput)
	}

	target.LastPartition++
	target.LastScrapedPage = 0
	if err := t.targets.Update(ctx, target); err != nil {
		return fmt.Errorf("advance partition: %w", err)
	}
	return nil
}

// RecordFailure registers a failed page fetch at the given offset. The
// third consecutive failure at the same offset stalls the target, bumps
// the owning edition's stall count, and past the review threshold flags
// the edition so automatic retries halt.
func (t *Tracker) RecordFailure(ctx context.Context, target *domain.HarvestTarget, offset int, reason domain.GapReason) error {
	if target == nil {
		return domain.NewValidationError("target", "target is required")
	}
	if target.Status != domain.TargetStatusInProgress {
		return fmt.Errorf("target %s is %s, not in_progress: %w", target.ID, target.Status, domain.ErrInvalidInput)
	}

	target.PagesAttempted++
	target.PagesFailed++
	if target.ConsecutiveFailures > 0 && target.FailureOffset == offset {
		target.ConsecutiveFailures++
	} else {
		target.ConsecutiveFailures = 1
		target.FailureOffset = offset
	}

	stalled := target.ConsecutiveFailures >= t.stallThreshold
	if stalled {
		target.Status = domain.TargetStatusStalled
		if reason == domain.GapReasonNone {
			reason = domain.GapReasonUnknown
		}
		target.GapReason = reason
	}

	if err := t.targets.Update(ctx, target); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	if !stalled {
		return nil
	}
	return t.finishStalled(ctx, target, offset)
}

// Abort stalls an in_progress target immediately, without waiting out the
// failure streak. The harvester uses it for errors a retry cannot fix.
func (t *Tracker) Abort(ctx context.Context, target *domain.HarvestTarget, offset int, reason domain.GapReason) error {
	if target == nil {
		return domain.NewValidationError("target", "target is required")
	}
	if target.Status != domain.TargetStatusInProgress {
		return fmt.Errorf("target %s is %s, not in_progress: %w", target.ID, target.Status, domain.ErrInvalidInput)
	}

	target.PagesAttempted++
	target.PagesFailed++
	target.ConsecutiveFailures = 1
	target.FailureOffset = offset
	target.Status = domain.TargetStatusStalled
	if reason == domain.GapReasonNone {
		reason = domain.GapReasonUnknown
	}
	target.GapReason = reason

	if err := t.targets.Update(ctx, target); err != nil {
		return fmt.Errorf("abort target: %w", err)
	}
	return t.finishStalled(ctx, target, offset)
}

func (t *Tracker) finishStalled(ctx context.Context, target *domain.HarvestTarget, offset int) error {
	if t.metrics != nil {
		t.metrics.TargetsStalled.WithLabelValues(string(target.GapReason)).Inc()
	}
	t.logger.Warn().
		Str("target_id", target.ID.String()).
		Str("gap_reason", string(target.GapReason)).
		Int("failure_offset", offset).
		Int("consecutive_failures", target.ConsecutiveFailures).
		Msg("harvest target stalled")

	t.publish(ctx, domain.HarvestEvent{
		EventType: domain.EventHarvestStalled,
		TargetID:  target.ID,
		EditionID: target.EditionID,
		Payload: domain.HarvestStalledPayload{
			GapReason:           target.GapReason,
			FailureOffset:       offset,
			ConsecutiveFailures: target.ConsecutiveFailures,
			ActualCount:         target.ActualCount,
			ExpectedCount:       target.ExpectedCount,
		},
	})

	return t.recordEditionStall(ctx, target.EditionID)
}

func (t *Tracker) recordEditionStall(ctx context.Context, editionID uuid.UUID) error {
	count, err := t.editions.IncrementStallCount(ctx, editionID)
	if err != nil {
		return fmt.Errorf("increment edition stall count: %w", err)
	}
	if count < t.reviewThreshold {
		return nil
	}

	edition, err := t.editions.GetByID(ctx, editionID)
	if err != nil {
		return fmt.Errorf("load edition for review flag: %w", err)
	}
	if edition.NeedsReview {
		return nil
	}

	if err := t.editions.SetNeedsReview(ctx, editionID, true); err != nil {
		return fmt.Errorf("flag edition for review: %w", err)
	}

	if t.metrics != nil {
		t.metrics.EditionsFlagged.Inc()
	}
	t.logger.Warn().
		Str("edition_id", editionID.String()).
		Int("stall_count", count).
		Msg("edition crossed stall threshold, flagged for review")

	t.publish(ctx, domain.HarvestEvent{
		EventType: domain.EventEditionFlagged,
		EditionID: editionID,
		PaperID:   edition.PaperID,
		Payload: domain.EditionFlaggedPayload{
			StallCount: count,
			Threshold:  t.reviewThreshold,
			ExternalID: edition.ExternalID,
		},
	})

	return nil
}

// SetResidualGap records the planner's residual accounting on the target.
// The value is reported as computed, including negative values.
func (t *Tracker) SetResidualGap(ctx context.Context, target *domain.HarvestTarget, residual int) error {
	if target == nil {
		return domain.NewValidationError("target", "target is required")
	}

	target.ResidualGap = residual
	if err := t.targets.Update(ctx, target); err != nil {
		return fmt.Errorf("set residual gap: %w", err)
	}

	if t.metrics != nil {
		t.metrics.ResidualGap.WithLabelValues(target.EditionID.String()).Set(float64(residual))
	}
	return nil
}

// ReviewGap annotates a target with operator notes. Pure annotation: the
// status does not change.
func (t *Tracker) ReviewGap(ctx context.Context, targetID uuid.UUID, notes string) error {
	target, err := t.targets.GetByID(ctx, targetID)
	if err != nil {
		return err
	}

	target.NeedsReview = true
	target.ReviewNotes = notes
	if err := t.targets.Update(ctx, target); err != nil {
		return fmt.Errorf("annotate target: %w", err)
	}
	return nil
}

// Reset moves a stalled target back to pending. This is the only way out
// of the stalled status and is always an explicit operator action.
func (t *Tracker) Reset(ctx context.Context, targetID uuid.UUID) error {
	target, err := t.targets.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Status != domain.TargetStatusStalled {
		return fmt.Errorf("target %s is %s, not stalled: %w", targetID, target.Status, domain.ErrInvalidInput)
	}

	target.Status = domain.TargetStatusPending
	target.GapReason = domain.GapReasonNone
	target.ConsecutiveFailures = 0
	target.FailureOffset = 0

	if err := t.targets.Update(ctx, target); err != nil {
		return fmt.Errorf("reset target: %w", err)
	}

	if t.metrics != nil {
		t.metrics.TargetsReset.Inc()
	}
	t.logger.Info().Str("target_id", targetID.String()).Msg("stalled target reset to pending")
	return nil
}

// Outcome builds the terminal outcome report for a target.
func (t *Tracker) Outcome(target *domain.HarvestTarget) domain.TargetOutcome {
	return domain.TargetOutcome{
		TargetID:            target.ID,
		Status:              target.Status,
		GapReason:           target.GapReason,
		ResidualGapEstimate: target.ResidualGap,
	}
}

func (t *Tracker) finishComplete(ctx context.Context, target *domain.HarvestTarget) {
	if t.metrics != nil {
		t.metrics.TargetsCompleted.Inc()
	}
	t.logger.Info().
		Str("target_id", target.ID.String()).
		Int("actual", target.ActualCount).
		Int("expected", target.ExpectedCount).
		Str("gap_reason", string(target.GapReason)).
		Msg("harvest target complete")

	t.publish(ctx, domain.HarvestEvent{
		EventType: domain.EventHarvestCompleted,
		TargetID:  target.ID,
		EditionID: target.EditionID,
		Payload: domain.HarvestCompletedPayload{
			ActualCount:    target.ActualCount,
			ExpectedCount:  target.ExpectedCount,
			PagesSucceeded: target.PagesSucceeded,
			PagesFailed:    target.PagesFailed,
			ResidualGap:    target.ResidualGap,
			GapReason:      target.GapReason,
		},
	})
}

func (t *Tracker) publish(ctx context.Context, event domain.HarvestEvent) {
	if err := t.publisher.Publish(ctx, event); err != nil {
		t.logger.Error().Err(err).Str("event_type", event.EventType).Msg("failed to publish harvest event")
	}
}

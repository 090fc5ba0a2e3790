// Package harvester drives paginated citation fetches against the source.
// It owns retry, backoff, and block-cooldown behavior; the tracker owns
// every status decision; the reconciler owns what a record means. A page
// is committed atomically, so a crashed harvest resumes from the next
// uncommitted page.
package harvester

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-harvest-service/internal/config"
	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/observability"
	"github.com/helixir/citation-harvest-service/internal/planner"
	"github.com/helixir/citation-harvest-service/internal/reconcile"
	"github.com/helixir/citation-harvest-service/internal/source"
	"github.com/helixir/citation-harvest-service/internal/tracker"
)

// Default engine limits, overridable via config.
const (
	DefaultMaxPages       = 100
	DefaultEmptyPageLimit = 2
)

// TargetTracker is the slice of tracker behavior the engine drives. The
// engine reports what happened; the tracker decides what it means.
type TargetTracker interface {
	Start(ctx context.Context, target *domain.HarvestTarget) error
	RecordPageResult(ctx context.Context, target *domain.HarvestTarget, result tracker.PageResult) error
	RecordFailure(ctx context.Context, target *domain.HarvestTarget, offset int, reason domain.GapReason) error
	Abort(ctx context.Context, target *domain.HarvestTarget, offset int, reason domain.GapReason) error
	Complete(ctx context.Context, target *domain.HarvestTarget, reason domain.GapReason) error
	AdvancePartition(ctx context.Context, target *domain.HarvestTarget) error
	SetResidualGap(ctx context.Context, target *domain.HarvestTarget, residual int) error
	Outcome(target *domain.HarvestTarget) domain.TargetOutcome
}

// Ingestor commits one fetched page of records transactionally.
type Ingestor interface {
	IngestPage(ctx context.Context, paperID, editionID uuid.UUID, records []source.Record) (*reconcile.IngestResult, error)
}

// Engine harvests one target at a time. Safe for concurrent use: all
// per-target state lives on the stack of HarvestTarget.
type Engine struct {
	src      source.Source
	tracker  TargetTracker
	ingestor Ingestor
	planner  *planner.Planner
	blocks   *BlockState

	cfg     config.HarvesterConfig
	srcCfg  config.SourceConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// New creates a harvest engine.
func New(
	src source.Source,
	trk TargetTracker,
	ingestor Ingestor,
	pln *planner.Planner,
	blocks *BlockState,
	cfg config.HarvesterConfig,
	srcCfg config.SourceConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	if blocks == nil {
		blocks = NewBlockState()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.EmptyPageLimit <= 0 {
		cfg.EmptyPageLimit = DefaultEmptyPageLimit
	}
	if srcCfg.PageSize <= 0 {
		srcCfg.PageSize = 20
	}

	return &Engine{
		src:      src,
		tracker:  trk,
		ingestor: ingestor,
		planner:  pln,
		blocks:   blocks,
		cfg:      cfg,
		srcCfg:   srcCfg,
		metrics:  metrics,
		logger:   logger.With().Str("component", "harvester").Logger(),
	}
}

// HarvestTarget runs one target to a terminal state with an unpartitioned
// query. It resumes from the page after the last committed one.
func (e *Engine) HarvestTarget(ctx context.Context, target *domain.HarvestTarget, edition *domain.Edition) (domain.TargetOutcome, error) {
	return e.harvest(ctx, target, edition, source.Query{})
}

// HarvestPartitioned runs one target whose scope exceeds the source's
// result cap, iterating the plan's sub-queries. All sub-query streams
// merge through the ingestor, so overlapping records fold instead of
// double-counting, and the residual accounting is recorded on the target
// before it can complete.
func (e *Engine) HarvestPartitioned(ctx context.Context, target *domain.HarvestTarget, edition *domain.Edition, plan *planner.Plan) (domain.TargetOutcome, error) {
	if plan == nil || len(plan.Batches) == 0 {
		return e.HarvestTarget(ctx, target, edition)
	}

	if err := e.tracker.Start(ctx, target); err != nil {
		return domain.TargetOutcome{}, err
	}
	scope := e.scopeFor(target, edition)

	total, err := e.probeTotal(ctx, scope, plan.TotalQuery())
	if err != nil {
		return e.fail(ctx, target, 0, err)
	}
	exclusion, err := e.probeTotal(ctx, scope, plan.ExclusionQuery())
	if err != nil {
		return e.fail(ctx, target, 0, err)
	}

	batchResults := make([]int, 0, len(plan.Batches))
	for i, query := range plan.Batches {
		if i < target.LastPartition {
			// Batch drained before a restart. One probe request rebuilds
			// its reported total for the residual accounting without
			// re-fetching committed pages.
			reported, err := e.probeTotal(ctx, scope, query)
			if err != nil {
				return e.fail(ctx, target, 0, err)
			}
			batchResults = append(batchResults, reported)
			continue
		}

		reported, outcome, done, err := e.harvestStream(ctx, target, edition, scope, query, true)
		if done || err != nil {
			return outcome, err
		}
		if err := e.tracker.AdvancePartition(ctx, target); err != nil {
			return domain.TargetOutcome{}, err
		}
		batchResults = append(batchResults, reported)
		e.logger.Debug().
			Str("target_id", target.ID.String()).
			Int("batch", i).
			Int("reported", reported).
			Msg("partition batch drained")
	}

	accounting := e.planner.Account(total, exclusion, batchResults)
	if err := e.tracker.SetResidualGap(ctx, target, accounting.ResidualGap); err != nil {
		return domain.TargetOutcome{}, err
	}

	if !target.Status.IsTerminal() {
		if err := e.tracker.Complete(ctx, target, domain.GapReasonPaginationEnded); err != nil {
			return domain.TargetOutcome{}, err
		}
	}
	return e.tracker.Outcome(target), nil
}

func (e *Engine) harvest(ctx context.Context, target *domain.HarvestTarget, edition *domain.Edition, query source.Query) (domain.TargetOutcome, error) {
	if err := e.tracker.Start(ctx, target); err != nil {
		return domain.TargetOutcome{}, err
	}
	scope := e.scopeFor(target, edition)

	_, outcome, done, err := e.harvestStream(ctx, target, edition, scope, query, false)
	if err != nil {
		return domain.TargetOutcome{}, err
	}
	if done {
		return outcome, nil
	}

	if !target.Status.IsTerminal() {
		if err := e.tracker.Complete(ctx, target, domain.GapReasonMaxPagesReached); err != nil {
			return domain.TargetOutcome{}, err
		}
	}
	return e.tracker.Outcome(target), nil
}

// harvestStream pages through one query until the target reaches a
// terminal state, the stream is exhausted, or the page ceiling is hit.
// It returns the source's reported total for the stream, and done=true
// when the target reached a terminal state. A partial stream is one
// partition batch among several: its own exhaustion must not complete
// the target, so the tracker is told more pages remain and the drained
// batch is simply handed back to the caller.
func (e *Engine) harvestStream(ctx context.Context, target *domain.HarvestTarget, edition *domain.Edition, scope source.Scope, query source.Query, partial bool) (int, domain.TargetOutcome, bool, error) {
	backoff := NewBackoff(e.cfg.InitialBackoff, e.cfg.MaxBackoff)
	emptyStreak := 0
	reportedTotal := 0

	// The page cursor resumes past the last committed page. For a
	// partition batch the cursor is local to the batch: AdvancePartition
	// rewinds it when the previous batch drained.
	page := target.LastScrapedPage + 1
	for page <= e.cfg.MaxPages {
		offset := (page - 1) * e.srcCfg.PageSize

		if err := e.blocks.Wait(ctx); err != nil {
			return 0, domain.TargetOutcome{}, false, err
		}

		result, err := e.src.Search(ctx, scope, query, offset)
		if err != nil {
			outcome, stalled, ferr := e.handleFetchError(ctx, target, offset, backoff, err)
			if ferr != nil {
				return 0, domain.TargetOutcome{}, false, ferr
			}
			if stalled {
				return 0, outcome, true, nil
			}
			continue // same page again
		}
		backoff.Reset()
		if result.ReportedTotal > 0 {
			reportedTotal = result.ReportedTotal
		}

		ingested, err := e.ingestor.IngestPage(ctx, edition.PaperID, edition.ID, result.Records)
		if err != nil {
			return 0, domain.TargetOutcome{}, false, fmt.Errorf("commit page %d: %w", page, err)
		}
		if e.metrics != nil {
			e.metrics.PagesFetched.WithLabelValues("success").Inc()
		}

		if ingested.New == 0 {
			emptyStreak++
		} else {
			emptyStreak = 0
		}

		scopeTotal := result.ReportedTotal
		if partial {
			// One batch's total is not the scope's total: leave the
			// scope estimate alone.
			scopeTotal = 0
		}
		hasMore := result.HasMore
		if err := e.tracker.RecordPageResult(ctx, target, tracker.PageResult{
			Page:          page,
			Found:         ingested.New,
			ReportedTotal: scopeTotal,
			HasMore:       hasMore || partial,
		}); err != nil {
			return 0, domain.TargetOutcome{}, false, err
		}
		if target.Status.IsTerminal() {
			return reportedTotal, e.tracker.Outcome(target), true, nil
		}

		if emptyStreak >= e.cfg.EmptyPageLimit {
			e.logger.Info().
				Str("target_id", target.ID.String()).
				Int("page", page).
				Msg("consecutive pages without new records, treating stream as exhausted")
			if partial {
				return reportedTotal, domain.TargetOutcome{}, false, nil
			}
			if err := e.tracker.Complete(ctx, target, domain.GapReasonEmptyPage); err != nil {
				return 0, domain.TargetOutcome{}, false, err
			}
			return reportedTotal, e.tracker.Outcome(target), true, nil
		}
		if partial && !hasMore {
			return reportedTotal, domain.TargetOutcome{}, false, nil
		}

		page++
	}

	// Stream ended without a terminal state: either the page ceiling (for
	// unpartitioned harvests the caller completes with max_pages_reached)
	// or, for partition batches, the batch is simply drained.
	return reportedTotal, domain.TargetOutcome{}, false, nil
}

// handleFetchError records one failed attempt and prepares the retry. The
// tracker decides whether the failure streak stalls the target.
func (e *Engine) handleFetchError(ctx context.Context, target *domain.HarvestTarget, offset int, backoff *Backoff, err error) (domain.TargetOutcome, bool, error) {
	reason := gapReasonFor(err)
	e.observeFailure(reason, err)

	e.logger.Warn().Err(err).
		Str("target_id", target.ID.String()).
		Int("offset", offset).
		Str("gap_reason", string(reason)).
		Msg("page fetch failed")

	if !isRetryable(err) {
		if aerr := e.tracker.Abort(ctx, target, offset, reason); aerr != nil {
			return domain.TargetOutcome{}, false, aerr
		}
		return e.tracker.Outcome(target), true, nil
	}

	var blocked *domain.SourceBlockedError
	if errors.As(err, &blocked) {
		cooldown := blocked.RetryAfter
		if cooldown <= 0 {
			cooldown = e.cfg.BlockCooldown
		}
		until := e.blocks.Trip(cooldown)
		if e.metrics != nil {
			e.metrics.BlockCooldowns.Inc()
		}
		e.logger.Warn().
			Time("until", until).
			Msg("source block detected, process-wide cooldown opened")
	}

	if rerr := e.tracker.RecordFailure(ctx, target, offset, reason); rerr != nil {
		return domain.TargetOutcome{}, false, rerr
	}
	if target.Status == domain.TargetStatusStalled {
		return e.tracker.Outcome(target), true, nil
	}

	slept, serr := backoff.Sleep(ctx)
	if serr != nil {
		return domain.TargetOutcome{}, false, serr
	}
	if e.metrics != nil {
		e.metrics.BackoffSeconds.Add(slept.Seconds())
	}
	return domain.TargetOutcome{}, false, nil
}

// fail records a failure during partition probing and reports the outcome.
func (e *Engine) fail(ctx context.Context, target *domain.HarvestTarget, offset int, err error) (domain.TargetOutcome, error) {
	reason := gapReasonFor(err)
	if !isRetryable(err) {
		if aerr := e.tracker.Abort(ctx, target, offset, reason); aerr != nil {
			return domain.TargetOutcome{}, aerr
		}
		return e.tracker.Outcome(target), err
	}
	if rerr := e.tracker.RecordFailure(ctx, target, offset, reason); rerr != nil {
		return domain.TargetOutcome{}, rerr
	}
	return e.tracker.Outcome(target), err
}

// probeTotal fetches the first page of a query just for its reported
// total. Used by partition accounting for the full and exclusion queries.
func (e *Engine) probeTotal(ctx context.Context, scope source.Scope, query source.Query) (int, error) {
	if err := e.blocks.Wait(ctx); err != nil {
		return 0, err
	}
	page, err := e.src.Search(ctx, scope, query, 0)
	if err != nil {
		return 0, err
	}
	return page.ReportedTotal, nil
}

func (e *Engine) scopeFor(target *domain.HarvestTarget, edition *domain.Edition) source.Scope {
	return source.Scope{
		WorkID: edition.ExternalID,
		Years:  target.Years,
	}
}

func (e *Engine) observeFailure(reason domain.GapReason, err error) {
	if e.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrParse):
		e.metrics.PagesFetched.WithLabelValues("parse_error").Inc()
	case errors.Is(err, domain.ErrSourceBlocked):
		e.metrics.PagesFetched.WithLabelValues("blocked").Inc()
		if reason == domain.GapReasonRateLimited {
			e.metrics.SourceRateLimited.Inc()
		}
	case errors.Is(err, domain.ErrTransientFetch):
		e.metrics.PagesFetched.WithLabelValues("transient").Inc()
	default:
		e.metrics.PagesFetched.WithLabelValues("terminal").Inc()
	}
}

// isRetryable reports whether a fetch error is worth another attempt.
// Transient failures, source blocks, and parse errors all retry; anything
// else aborts the harvest on the spot.
func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrTransientFetch) ||
		errors.Is(err, domain.ErrSourceBlocked) ||
		errors.Is(err, domain.ErrParse)
}

// gapReasonFor maps a fetch error to the gap reason recorded on stall.
func gapReasonFor(err error) domain.GapReason {
	var blocked *domain.SourceBlockedError
	switch {
	case errors.As(err, &blocked):
		if blocked.RetryAfter > 0 {
			return domain.GapReasonRateLimited
		}
		return domain.GapReasonBlocked
	case errors.Is(err, domain.ErrParse):
		return domain.GapReasonParseError
	case errors.Is(err, domain.ErrTransientFetch):
		return domain.GapReasonUnknown
	default:
		return domain.GapReasonUnknown
	}
}

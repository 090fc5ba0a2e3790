package harvester

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/citation-harvest-service/internal/config"
	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/observability"
	"github.com/helixir/citation-harvest-service/internal/planner"
	"github.com/helixir/citation-harvest-service/internal/repository"
	"github.com/helixir/citation-harvest-service/internal/tracker"
)

// DefaultPollInterval is the pause between coordinator sweeps when no
// interval is configured.
const DefaultPollInterval = 30 * time.Second

// maxPartitionTerms caps how many title terms feed a partition plan.
const maxPartitionTerms = 12

// Coordinator sweeps pending targets and runs them through the engine
// under a bounded concurrency limit.
type Coordinator struct {
	targets  repository.TargetRepository
	editions repository.EditionRepository
	papers   repository.PaperRepository
	engine   *Engine
	planner  *planner.Planner

	concurrency      int
	resultCap        int
	pollInterval     time.Duration
	resumeStaleAfter time.Duration

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewCoordinator creates a coordinator over the given engine.
func NewCoordinator(
	targets repository.TargetRepository,
	editions repository.EditionRepository,
	papers repository.PaperRepository,
	engine *Engine,
	pln *planner.Planner,
	cfg config.HarvesterConfig,
	srcCfg config.SourceConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Coordinator {
	concurrency := cfg.MaxConcurrentTargets
	if concurrency <= 0 {
		concurrency = 1
	}
	staleAfter := cfg.ResumeStaleAfter
	if staleAfter <= 0 {
		staleAfter = tracker.DefaultClaimStaleAfter
	}
	return &Coordinator{
		targets:          targets,
		editions:         editions,
		papers:           papers,
		engine:           engine,
		planner:          pln,
		concurrency:      concurrency,
		resultCap:        srcCfg.ResultCap,
		pollInterval:     DefaultPollInterval,
		resumeStaleAfter: staleAfter,
		metrics:          metrics,
		logger:           logger.With().Str("component", "coordinator").Logger(),
	}
}

// Run sweeps pending targets until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("harvest sweep failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce harvests one batch of claimable targets and returns how many
// were attempted. The batch covers pending targets plus in_progress
// targets whose claim lease lapsed, so a crashed harvester's work is
// picked up by the next sweep. Individual target failures are logged, not
// propagated, so one bad target cannot starve the rest of the sweep.
func (c *Coordinator) RunOnce(ctx context.Context) (int, error) {
	pending, err := c.targets.ListClaimable(ctx, c.resumeStaleAfter, c.concurrency*4)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, target := range pending {
		target := target
		g.Go(func() error {
			if _, err := c.harvestOne(gctx, target); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Error().Err(err).
					Str("target_id", target.ID.String()).
					Msg("target harvest failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return len(pending), err
	}
	return len(pending), nil
}

// HarvestByID loads one target and runs it to a terminal state. Used by
// workflow activities, which address targets by ID.
func (c *Coordinator) HarvestByID(ctx context.Context, id uuid.UUID) (domain.TargetOutcome, error) {
	target, err := c.targets.GetByID(ctx, id)
	if err != nil {
		return domain.TargetOutcome{}, err
	}
	return c.harvestOne(ctx, target)
}

func (c *Coordinator) harvestOne(ctx context.Context, target *domain.HarvestTarget) (domain.TargetOutcome, error) {
	skipped := domain.TargetOutcome{
		TargetID:  target.ID,
		Status:    target.Status,
		GapReason: target.GapReason,
	}

	edition, err := c.editions.GetByID(ctx, target.EditionID)
	if err != nil {
		return domain.TargetOutcome{}, err
	}
	if edition.IsMerged() {
		c.logger.Debug().
			Str("edition_id", edition.ID.String()).
			Msg("edition merged away, skipping target")
		return skipped, nil
	}
	if edition.NeedsReview {
		c.logger.Debug().
			Str("edition_id", edition.ID.String()).
			Msg("edition flagged for review, skipping target")
		return skipped, nil
	}

	var outcome domain.TargetOutcome
	if planner.NeedsPartition(target.ExpectedCount, c.resultCap) {
		plan, perr := c.planFor(ctx, edition)
		if perr != nil {
			return domain.TargetOutcome{}, perr
		}
		outcome, err = c.engine.HarvestPartitioned(ctx, target, edition, plan)
	} else {
		outcome, err = c.engine.HarvestTarget(ctx, target, edition)
	}
	if err != nil {
		if errors.Is(err, domain.ErrTargetClaimed) {
			c.logger.Debug().
				Str("target_id", target.ID.String()).
				Msg("target claimed by another harvester, skipping")
			return skipped, nil
		}
		return domain.TargetOutcome{}, err
	}

	c.logger.Info().
		Str("target_id", outcome.TargetID.String()).
		Str("status", string(outcome.Status)).
		Str("gap_reason", string(outcome.GapReason)).
		Int("residual_gap_estimate", outcome.ResidualGapEstimate).
		Msg("target reached terminal state")
	return outcome, nil
}

// planFor builds a partition plan from the paper title's distinguishing
// terms. Falls back to an unpartitioned plan when the title yields none.
func (c *Coordinator) planFor(ctx context.Context, edition *domain.Edition) (*planner.Plan, error) {
	paper, err := c.papers.GetByID(ctx, edition.PaperID)
	if err != nil {
		return nil, err
	}

	terms := partitionTerms(paper.Title)
	if len(terms) == 0 {
		return nil, nil
	}
	return c.planner.Plan(terms)
}

var termStopwords = map[string]struct{}{
	"about": {}, "after": {}, "among": {}, "between": {}, "from": {},
	"into": {}, "over": {}, "that": {}, "their": {}, "there": {},
	"these": {}, "this": {}, "through": {}, "toward": {}, "under": {},
	"upon": {}, "with": {}, "within": {}, "without": {},
}

// partitionTerms extracts the lowercase distinguishing words of a title,
// dropping short words and common prepositions.
func partitionTerms(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 4 {
			continue
		}
		if _, stop := termStopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
		if len(terms) == maxPartitionTerms {
			break
		}
	}
	return terms
}

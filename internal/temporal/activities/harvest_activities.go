// Package activities implements the Temporal activities backing harvest
// workflows. Activities are thin shells: scheduling, stall handling, and
// retry budgets all live in the tracker and the harvest engine, so the
// workflow layer registers them with retries disabled.
package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/helixir/citation-harvest-service/internal/authorship"
	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/harvester"
	"github.com/helixir/citation-harvest-service/internal/reconcile"
	"github.com/helixir/citation-harvest-service/internal/repository"
	"github.com/helixir/citation-harvest-service/internal/tracker"
)

// Repairer is the slice of reconciliation behavior activities use.
type Repairer interface {
	RepairEdition(ctx context.Context, editionID uuid.UUID) (*reconcile.RepairResult, error)
}

// TargetHarvester runs one target to a terminal state.
type TargetHarvester interface {
	HarvestByID(ctx context.Context, id uuid.UUID) (domain.TargetOutcome, error)
}

// Compile-time checks against the concrete implementations.
var (
	_ Repairer        = (*reconcile.Reconciler)(nil)
	_ TargetHarvester = (*harvester.Coordinator)(nil)
)

// defaultHeartbeatInterval keeps the harvest activity's heartbeats well
// inside the workflow's heartbeat timeout, including through block
// cooldowns when no page completes for many minutes.
const defaultHeartbeatInterval = 30 * time.Second

// HarvestActivities provides Temporal activities for harvest workflows.
type HarvestActivities struct {
	tracker   *tracker.Tracker
	harvester TargetHarvester
	repairer  Repairer
	editions  repository.EditionRepository
	filter    *authorship.Filter

	heartbeatInterval time.Duration
}

// NewHarvestActivities creates the activity set. The filter may be nil
// when the authorship service is disabled.
func NewHarvestActivities(
	trk *tracker.Tracker,
	h TargetHarvester,
	repairer Repairer,
	editions repository.EditionRepository,
	filter *authorship.Filter,
) *HarvestActivities {
	return &HarvestActivities{
		tracker:           trk,
		harvester:         h,
		repairer:          repairer,
		editions:          editions,
		filter:            filter,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// ScheduleTargetInput identifies one (edition, year range) scope.
type ScheduleTargetInput struct {
	EditionID uuid.UUID `json:"edition_id"`
	YearLow   int       `json:"year_low"`
	YearHigh  int       `json:"year_high"`
	Expected  int       `json:"expected"`
}

// ScheduleTargetOutput reports the scheduled target.
type ScheduleTargetOutput struct {
	TargetID uuid.UUID `json:"target_id"`
	Status   string    `json:"status"`
}

// ScheduleTarget ensures a harvest target exists for the scope.
func (a *HarvestActivities) ScheduleTarget(ctx context.Context, input ScheduleTargetInput) (*ScheduleTargetOutput, error) {
	logger := activity.GetLogger(ctx)

	edition, err := a.editions.GetByID(ctx, input.EditionID)
	if err != nil {
		return nil, fmt.Errorf("load edition %s: %w", input.EditionID, err)
	}

	target, err := a.tracker.Schedule(ctx, edition,
		domain.YearScope{Low: input.YearLow, High: input.YearHigh}, input.Expected)
	if err != nil {
		return nil, err
	}

	logger.Info("target scheduled",
		"targetID", target.ID.String(),
		"status", string(target.Status),
	)
	return &ScheduleTargetOutput{TargetID: target.ID, Status: string(target.Status)}, nil
}

// HarvestTargetOutput is the terminal outcome of one harvest activity.
type HarvestTargetOutput struct {
	TargetID            uuid.UUID `json:"target_id"`
	Status              string    `json:"status"`
	GapReason           string    `json:"gap_reason"`
	ResidualGapEstimate int       `json:"residual_gap_estimate"`
}

// ExecuteHarvest runs one target to a terminal state. The engine owns
// per-page retries, backoff, and stall detection, so this activity runs
// with workflow retries disabled: a stalled outcome is a result, not a
// failure. A background ticker heartbeats for the whole run: a harvest
// can sit silent through a block cooldown, so heartbeats cannot be tied
// to page progress.
func (a *HarvestActivities) ExecuteHarvest(ctx context.Context, targetID uuid.UUID) (*HarvestTargetOutput, error) {
	stop := a.startHeartbeat(ctx, targetID)
	defer stop()

	outcome, err := a.harvester.HarvestByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	return &HarvestTargetOutput{
		TargetID:            outcome.TargetID,
		Status:              string(outcome.Status),
		GapReason:           string(outcome.GapReason),
		ResidualGapEstimate: outcome.ResidualGapEstimate,
	}, nil
}

// startHeartbeat records activity heartbeats on a ticker until the
// returned stop function is called or the context ends.
func (a *HarvestActivities) startHeartbeat(ctx context.Context, targetID uuid.UUID) func() {
	interval := a.heartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, targetID.String())
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// ResetTarget moves a stalled target back to pending on operator request.
func (a *HarvestActivities) ResetTarget(ctx context.Context, targetID uuid.UUID) error {
	return a.tracker.Reset(ctx, targetID)
}

// RepairEditionOutput summarizes one repair pass.
type RepairEditionOutput struct {
	CitationsRepointed int `json:"citations_repointed"`
	DuplicatesFolded   int `json:"duplicates_folded"`
	HarvestedCount     int `json:"harvested_count"`
}

// RepairEdition resolves the edition's merge root and repairs referential
// integrity. Idempotent, so safe to run after every harvest.
func (a *HarvestActivities) RepairEdition(ctx context.Context, editionID uuid.UUID) (*RepairEditionOutput, error) {
	result, err := a.repairer.RepairEdition(ctx, editionID)
	if err != nil {
		return nil, err
	}
	return &RepairEditionOutput{
		CitationsRepointed: result.CitationsRepointed,
		DuplicatesFolded:   result.DuplicatesFolded,
		HarvestedCount:     result.HarvestedCount,
	}, nil
}

// FilterOutput summarizes one authorship filter pass.
type FilterOutput struct {
	Checked   int `json:"checked"`
	Rejected  int `json:"rejected"`
	Uncertain int `json:"uncertain"`
}

// RunAuthorshipFilter applies the post-ingestion authorship filter to the
// edition's citations. A no-op when the filter is disabled.
func (a *HarvestActivities) RunAuthorshipFilter(ctx context.Context, editionID uuid.UUID) (*FilterOutput, error) {
	if a.filter == nil {
		return &FilterOutput{}, nil
	}

	outcome, err := a.filter.FilterEdition(ctx, editionID)
	if err != nil {
		return nil, err
	}
	return &FilterOutput{
		Checked:   outcome.Checked,
		Rejected:  outcome.Rejected,
		Uncertain: outcome.Uncertain,
	}, nil
}

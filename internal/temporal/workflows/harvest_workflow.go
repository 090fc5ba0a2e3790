// Package workflows defines the Temporal workflow orchestrating one
// edition's citation harvest: schedule targets, run them to terminal
// states, repair referential integrity, and stay alive for a window to
// accept operator reset signals for stalled targets.
package workflows

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/citation-harvest-service/internal/domain"
	htemporal "github.com/helixir/citation-harvest-service/internal/temporal"
	"github.com/helixir/citation-harvest-service/internal/temporal/activities"
)

// SignalResetTarget re-exports the signal name from the parent temporal
// package for convenience.
const SignalResetTarget = htemporal.SignalResetTarget

// Activity timeout constants. The harvest timeout bounds one full target:
// pages, per-page retries, and block cooldowns included.
const (
	scheduleActivityTimeout = 30 * time.Second
	harvestActivityTimeout  = 2 * time.Hour
	repairActivityTimeout   = 10 * time.Minute
	filterActivityTimeout   = 30 * time.Minute

	// resetListenWindow is how long the workflow stays alive after the
	// harvest finishes, waiting for operator reset signals.
	resetListenWindow = time.Hour
)

// HarvestWorkflowInput is an alias for the shared input type defined in
// the parent temporal package.
type HarvestWorkflowInput = htemporal.HarvestWorkflowInput

// ResetSignal is an alias for the shared signal payload.
type ResetSignal = htemporal.ResetSignal

// HarvestWorkflowResult contains the final results of a harvest workflow.
type HarvestWorkflowResult struct {
	// EditionID is the harvested edition.
	EditionID uuid.UUID

	// Outcomes are the terminal outcomes per target, in schedule order.
	// Targets re-harvested after a reset appear once with their final
	// outcome.
	Outcomes []activities.HarvestTargetOutput

	// Stalled is the number of targets whose final state is stalled.
	Stalled int

	// ResetsHandled is the number of operator reset signals processed.
	ResetsHandled int

	// Repair summarizes the post-harvest repair pass, when one ran.
	Repair *activities.RepairEditionOutput

	// Filter summarizes the authorship filter pass, when one ran.
	Filter *activities.FilterOutput
}

// HarvestEditionWorkflow orchestrates one edition's citation harvest.
//
// The workflow proceeds through the following phases:
//  1. Schedule a harvest target per requested year scope
//  2. Run each target to a terminal state (complete or stalled)
//  3. Optionally repair merge/orphan referential integrity
//  4. Optionally run the post-ingestion authorship filter
//  5. Listen for operator reset signals for a fixed window, resetting and
//     re-harvesting stalled targets on request
//
// Activities run with Temporal retries disabled: the harvest engine owns
// per-page retry and backoff budgets, and the tracker owns stall policy.
// A stalled target is a recorded outcome, not an activity failure.
func HarvestEditionWorkflow(ctx workflow.Context, input HarvestWorkflowInput) (*HarvestWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("harvest workflow starting",
		"editionID", input.EditionID.String(),
		"scopes", len(input.Scopes),
	)

	var act *activities.HarvestActivities

	singleAttempt := &temporal.RetryPolicy{MaximumAttempts: 1}
	scheduleCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: scheduleActivityTimeout,
		RetryPolicy:         singleAttempt,
	})
	harvestCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: harvestActivityTimeout,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy:         singleAttempt,
	})

	result := &HarvestWorkflowResult{EditionID: input.EditionID}
	finalOutcomes := make(map[uuid.UUID]activities.HarvestTargetOutput)
	order := make([]uuid.UUID, 0, len(input.Scopes))

	// Phase 1+2: schedule and harvest each scope sequentially. Scopes of
	// one edition share the source's rate budget, so fanning out here
	// buys nothing.
	for _, scope := range input.Scopes {
		var scheduled activities.ScheduleTargetOutput
		err := workflow.ExecuteActivity(scheduleCtx, act.ScheduleTarget, activities.ScheduleTargetInput{
			EditionID: input.EditionID,
			YearLow:   scope.YearLow,
			YearHigh:  scope.YearHigh,
			Expected:  scope.Expected,
		}).Get(ctx, &scheduled)
		if err != nil {
			return nil, err
		}

		if _, seen := finalOutcomes[scheduled.TargetID]; !seen {
			order = append(order, scheduled.TargetID)
		}

		if scheduled.Status == string(domain.TargetStatusComplete) ||
			scheduled.Status == string(domain.TargetStatusStalled) {
			finalOutcomes[scheduled.TargetID] = activities.HarvestTargetOutput{
				TargetID: scheduled.TargetID,
				Status:   scheduled.Status,
			}
			continue
		}

		var outcome activities.HarvestTargetOutput
		err = workflow.ExecuteActivity(harvestCtx, act.ExecuteHarvest, scheduled.TargetID).Get(ctx, &outcome)
		if err != nil {
			return nil, err
		}
		finalOutcomes[scheduled.TargetID] = outcome
	}

	// Phase 3: repair pass.
	if input.RunRepair {
		repairCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: repairActivityTimeout,
			RetryPolicy:         singleAttempt,
		})
		var repair activities.RepairEditionOutput
		if err := workflow.ExecuteActivity(repairCtx, act.RepairEdition, input.EditionID).Get(ctx, &repair); err != nil {
			logger.Warn("repair pass failed", "error", err)
		} else {
			result.Repair = &repair
		}
	}

	// Phase 4: authorship filter.
	if input.RunAuthorshipFilter {
		filterCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: filterActivityTimeout,
			RetryPolicy:         singleAttempt,
		})
		var filter activities.FilterOutput
		if err := workflow.ExecuteActivity(filterCtx, act.RunAuthorshipFilter, input.EditionID).Get(ctx, &filter); err != nil {
			logger.Warn("authorship filter failed", "error", err)
		} else {
			result.Filter = &filter
		}
	}

	// Phase 5: stay alive for operator resets. Each handled signal
	// restarts the window.
	resetCh := workflow.GetSignalChannel(ctx, SignalResetTarget)
	for {
		timedOut := false
		var signal ResetSignal

		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		selector := workflow.NewSelector(ctx)
		selector.AddFuture(workflow.NewTimer(timerCtx, resetListenWindow), func(workflow.Future) {
			timedOut = true
		})
		selector.AddReceive(resetCh, func(ch workflow.ReceiveChannel, _ bool) {
			ch.Receive(ctx, &signal)
		})
		selector.Select(ctx)
		cancelTimer()

		if timedOut {
			break
		}

		logger.Info("reset signal received",
			"targetID", signal.TargetID.String(),
			"requestedBy", signal.RequestedBy,
		)

		if err := workflow.ExecuteActivity(scheduleCtx, act.ResetTarget, signal.TargetID).Get(ctx, nil); err != nil {
			logger.Warn("reset failed", "targetID", signal.TargetID.String(), "error", err)
			continue
		}
		result.ResetsHandled++

		var outcome activities.HarvestTargetOutput
		if err := workflow.ExecuteActivity(harvestCtx, act.ExecuteHarvest, signal.TargetID).Get(ctx, &outcome); err != nil {
			logger.Warn("re-harvest after reset failed", "targetID", signal.TargetID.String(), "error", err)
			continue
		}
		if _, seen := finalOutcomes[signal.TargetID]; !seen {
			order = append(order, signal.TargetID)
		}
		finalOutcomes[signal.TargetID] = outcome
	}

	for _, id := range order {
		outcome := finalOutcomes[id]
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Status == string(domain.TargetStatusStalled) {
			result.Stalled++
		}
	}

	logger.Info("harvest workflow finished",
		"targets", len(result.Outcomes),
		"stalled", result.Stalled,
		"resets", result.ResetsHandled,
	)
	return result, nil
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types published to the harvest events topic.
const (
	// EventHarvestStarted is published when a target moves to in_progress.
	EventHarvestStarted = "harvest.started"

	// EventHarvestCompleted is published when a target completes.
	EventHarvestCompleted = "harvest.completed"

	// EventHarvestStalled is published when a target stalls.
	EventHarvestStalled = "harvest.stalled"

	// EventEditionFlagged is published when an edition crosses the stall
	// threshold and is flagged for manual review.
	EventEditionFlagged = "harvest.edition_flagged"

	// EventRepairApplied is published when a reconciliation repair pass
	// changed at least one row.
	EventRepairApplied = "harvest.repair_applied"
)

// HarvestEvent is the envelope for all harvest lifecycle events.
type HarvestEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType string    `json:"event_type"`
	TargetID  uuid.UUID `json:"target_id,omitempty"`
	EditionID uuid.UUID `json:"edition_id,omitempty"`
	PaperID   uuid.UUID `json:"paper_id,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`

	// Payload carries event-specific fields.
	Payload any `json:"payload,omitempty"`
}

// HarvestStartedPayload describes a target entering in_progress.
type HarvestStartedPayload struct {
	ExpectedCount int `json:"expected_count"`
	ResumePage    int `json:"resume_page"`
}

// HarvestCompletedPayload describes a completed target.
type HarvestCompletedPayload struct {
	ActualCount    int       `json:"actual_count"`
	ExpectedCount  int       `json:"expected_count"`
	PagesSucceeded int       `json:"pages_succeeded"`
	PagesFailed    int       `json:"pages_failed"`
	ResidualGap    int       `json:"residual_gap"`
	GapReason      GapReason `json:"gap_reason,omitempty"`
}

// HarvestStalledPayload describes a stalled target.
type HarvestStalledPayload struct {
	GapReason           GapReason `json:"gap_reason"`
	FailureOffset       int       `json:"failure_offset"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ActualCount         int       `json:"actual_count"`
	ExpectedCount       int       `json:"expected_count"`
}

// EditionFlaggedPayload describes an edition flagged for manual review.
type EditionFlaggedPayload struct {
	StallCount int    `json:"stall_count"`
	Threshold  int    `json:"threshold"`
	ExternalID string `json:"external_id"`
}

// RepairAppliedPayload summarizes a reconciliation repair pass.
type RepairAppliedPayload struct {
	CitationsRepointed int `json:"citations_repointed"`
	DuplicatesFolded   int `json:"duplicates_folded"`
	HarvestedCount     int `json:"harvested_count"`
}

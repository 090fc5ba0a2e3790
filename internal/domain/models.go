// Package domain provides domain models and business logic for the Citation Harvest Service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TargetStatus represents the lifecycle states of a harvest target.
// These values must match the database enum target_status.
type TargetStatus string

const (
	TargetStatusPending    TargetStatus = "pending"
	TargetStatusInProgress TargetStatus = "in_progress"
	TargetStatusComplete   TargetStatus = "complete"
	TargetStatusStalled    TargetStatus = "stalled"
)

// IsTerminal returns true if the status represents a state the tracker will
// not leave without explicit operator action.
func (s TargetStatus) IsTerminal() bool {
	switch s {
	case TargetStatusComplete, TargetStatusStalled:
		return true
	default:
		return false
	}
}

// GapReason explains why a harvest target's actual count fell short of the
// expected count. These values must match the database enum gap_reason.
type GapReason string

const (
	GapReasonNone                  GapReason = ""
	GapReasonSourceEstimateChanged GapReason = "source_estimate_changed"
	GapReasonRateLimited           GapReason = "rate_limited"
	GapReasonParseError            GapReason = "parse_error"
	GapReasonMaxPagesReached       GapReason = "max_pages_reached"
	GapReasonBlocked               GapReason = "blocked"
	GapReasonEmptyPage             GapReason = "empty_page"
	GapReasonPaginationEnded       GapReason = "pagination_ended"
	GapReasonUnknown               GapReason = "unknown"
)

// YearScope bounds a harvest target to a publication-year range.
// A zero bound means the range is open on that side.
type YearScope struct {
	Low  int
	High int
}

// Contains reports whether the given year falls inside the scope.
func (y YearScope) Contains(year int) bool {
	if y.Low != 0 && year < y.Low {
		return false
	}
	if y.High != 0 && year > y.High {
		return false
	}
	return true
}

// IsOpen reports whether the scope has no bounds at all.
func (y YearScope) IsOpen() bool {
	return y.Low == 0 && y.High == 0
}

// HarvestTarget is the unit of harvesting work: one (edition, year-scope)
// pair with durable progress counters.
type HarvestTarget struct {
	ID        uuid.UUID
	EditionID uuid.UUID
	Years     YearScope

	// ExpectedCount is the source's current estimate of citing records for
	// this scope. The source may move it mid-harvest.
	ExpectedCount int

	// InitialExpected is the estimate recorded at scheduling time. When a
	// target completes against a shrunken estimate, the shortfall against
	// this value is what gets reported.
	InitialExpected int

	// ActualCount is the number of deduplicated records committed so far.
	ActualCount int

	Status    TargetStatus
	GapReason GapReason

	PagesAttempted int
	PagesSucceeded int
	PagesFailed    int

	// LastScrapedPage is the page cursor. For unpartitioned harvests it
	// counts from the start of the scope; for partitioned harvests it is
	// local to the batch LastPartition points at.
	LastScrapedPage int

	// LastPartition is the number of fully drained partition batches.
	// Zero for unpartitioned targets.
	LastPartition int

	// ConsecutiveFailures counts failures at FailureOffset without an
	// intervening success. Three in a row stall the target.
	ConsecutiveFailures int
	FailureOffset       int

	// ResidualGap is the planner-computed, structurally unrecoverable
	// portion of the expected set. It is reported, never hidden.
	ResidualGap int

	NeedsReview bool
	ReviewNotes string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining returns how many expected records have not yet been harvested.
// The value may be negative when the source's estimate shrank mid-harvest.
func (t *HarvestTarget) Remaining() int {
	return t.ExpectedCount - t.ActualCount
}

// CanRetry reports whether the tracker may attempt further automatic fetches.
func (t *HarvestTarget) CanRetry() bool {
	return t.Status == TargetStatusPending || t.Status == TargetStatusInProgress
}

// TargetOutcome is emitted for every terminal harvest outcome.
type TargetOutcome struct {
	TargetID            uuid.UUID
	Status              TargetStatus
	GapReason           GapReason
	ResidualGapEstimate int
}

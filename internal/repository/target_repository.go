package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

// TargetRepository handles durable harvest target progress.
type TargetRepository interface {
	// Create inserts a new harvest target.
	Create(ctx context.Context, target *domain.HarvestTarget) (*domain.HarvestTarget, error)

	// GetByID retrieves a target by its internal UUID.
	// Returns domain.ErrNotFound if no matching target exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.HarvestTarget, error)

	// GetByScope retrieves the target for one (edition, year-scope) pair.
	// Returns domain.ErrNotFound if no matching target exists.
	GetByScope(ctx context.Context, editionID uuid.UUID, years domain.YearScope) (*domain.HarvestTarget, error)

	// Update persists the full mutable state of a target. Safe only for
	// the claim holder: Claim arbitrates ownership, and every Update
	// refreshes the claim's lease by bumping updated_at.
	// Returns domain.ErrNotFound if the target does not exist.
	Update(ctx context.Context, target *domain.HarvestTarget) error

	// Claim atomically takes ownership of a target, moving it to
	// in_progress. A pending target is always claimable; an in_progress
	// one only after its lease has been stale for staleAfter, which is
	// how a crashed harvest gets reclaimed. Returns the claimed row,
	// domain.ErrTargetClaimed when another harvester holds a live claim,
	// or domain.ErrNotFound.
	Claim(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (*domain.HarvestTarget, error)

	// ListClaimable retrieves targets the sweep may claim: pending ones
	// plus in_progress ones whose lease went stale, oldest first.
	ListClaimable(ctx context.Context, staleAfter time.Duration, limit int) ([]*domain.HarvestTarget, error)

	// ListByStatus retrieves targets in a given status, oldest first.
	ListByStatus(ctx context.Context, status domain.TargetStatus, limit int) ([]*domain.HarvestTarget, error)

	// ListByEdition retrieves all targets owned by an edition.
	ListByEdition(ctx context.Context, editionID uuid.UUID) ([]*domain.HarvestTarget, error)

	// StallSummary aggregates stalled targets by gap reason.
	StallSummary(ctx context.Context) ([]StallSummaryRow, error)

	// GapSummary aggregates expected/actual/residual counts per edition.
	GapSummary(ctx context.Context, editionID uuid.UUID) (*GapSummary, error)
}

// StallSummaryRow is one gap-reason bucket of stalled targets.
type StallSummaryRow struct {
	GapReason domain.GapReason `json:"gap_reason"`
	Count     int              `json:"count"`
}

// GapSummary aggregates harvest progress for one edition.
type GapSummary struct {
	EditionID     uuid.UUID `json:"edition_id"`
	Targets       int       `json:"targets"`
	ExpectedTotal int       `json:"expected_total"`
	ActualTotal   int       `json:"actual_total"`
	ResidualTotal int       `json:"residual_total"`
	Stalled       int       `json:"stalled"`
}

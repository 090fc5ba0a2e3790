package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

// EditionRepository handles published-variant persistence and the merge graph.
type EditionRepository interface {
	// Create inserts a new edition.
	Create(ctx context.Context, edition *domain.Edition) (*domain.Edition, error)

	// GetByID retrieves an edition by its internal UUID.
	// Returns domain.ErrNotFound if no matching edition exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Edition, error)

	// GetByExternalID retrieves an edition by its source-side identifier.
	// Returns domain.ErrNotFound if no matching edition exists.
	GetByExternalID(ctx context.Context, externalID string) (*domain.Edition, error)

	// ListByPaper retrieves all editions of a tracked paper.
	ListByPaper(ctx context.Context, paperID uuid.UUID) ([]*domain.Edition, error)

	// ListMerged retrieves all editions with a non-null merge target.
	// These are the merge repair pass's work list.
	ListMerged(ctx context.Context) ([]*domain.Edition, error)

	// SetMergedInto records that an edition was merged into another at the
	// source. Passing uuid.Nil clears the merge link.
	// Returns domain.ErrNotFound if the edition does not exist.
	SetMergedInto(ctx context.Context, id uuid.UUID, target uuid.UUID) error

	// SetHarvestedCount overwrites the edition's harvested count with the
	// live citation count computed by the reconciliation engine.
	// Returns domain.ErrNotFound if the edition does not exist.
	SetHarvestedCount(ctx context.Context, id uuid.UUID, count int) error

	// IncrementStallCount bumps the edition's stall counter and returns the
	// new value. Returns domain.ErrNotFound if the edition does not exist.
	IncrementStallCount(ctx context.Context, id uuid.UUID) (int, error)

	// SetNeedsReview flags or unflags the edition for manual review.
	// Returns domain.ErrNotFound if the edition does not exist.
	SetNeedsReview(ctx context.Context, id uuid.UUID, needsReview bool) error
}

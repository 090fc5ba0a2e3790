package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

// PaperRepository handles tracked-work persistence.
type PaperRepository interface {
	// Create inserts a new tracked paper.
	Create(ctx context.Context, paper *domain.Paper) (*domain.Paper, error)

	// GetByID retrieves a paper by its internal UUID, including soft-deleted
	// papers (the reconciliation engine needs to see them).
	// Returns domain.ErrNotFound if no matching paper exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Paper, error)

	// List retrieves papers matching the filter criteria, with total count
	// for pagination.
	List(ctx context.Context, filter PaperFilter) ([]*domain.Paper, int64, error)

	// UpdateSourceCount records the source-reported citation total.
	// Returns domain.ErrNotFound if the paper does not exist.
	UpdateSourceCount(ctx context.Context, id uuid.UUID, count int) error

	// SoftDelete marks a paper as deleted. Its citations become transiently
	// orphaned until the repair pass re-points them.
	// Returns domain.ErrNotFound if the paper does not exist.
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// ListSoftDeletedWithCitations returns the IDs of soft-deleted papers
	// that still have citations pointing at them. These are the repair
	// pass's work list.
	ListSoftDeletedWithCitations(ctx context.Context) ([]uuid.UUID, error)
}

// PaperFilter specifies criteria for listing papers.
type PaperFilter struct {
	// GroupKey filters to papers in a specific group (optional).
	GroupKey *string

	// IncludeDeleted includes soft-deleted papers when true.
	IncludeDeleted bool

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks if the filter has valid values and sets defaults.
func (f *PaperFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}

package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

// CitationRepository handles citing-record persistence and the encounter
// accounting the reconciliation engine depends on.
type CitationRepository interface {
	// Create inserts a new citation with encounter_count 1 (or the value
	// already set on the model, when folding).
	Create(ctx context.Context, citation *domain.Citation) (*domain.Citation, error)

	// GetByID retrieves a citation by its internal UUID.
	// Returns domain.ErrNotFound if no matching citation exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Citation, error)

	// FindByExternalID retrieves a paper's citation carrying the given
	// source-side identifier.
	// Returns domain.ErrNotFound if no matching citation exists.
	FindByExternalID(ctx context.Context, paperID uuid.UUID, externalID string) (*domain.Citation, error)

	// FindByNormalizedTitle retrieves a paper's citation with the given
	// normalized title.
	// Returns domain.ErrNotFound if no matching citation exists.
	FindByNormalizedTitle(ctx context.Context, paperID uuid.UUID, normalizedTitle string) (*domain.Citation, error)

	// AddEncounters adds delta to a citation's encounter count. Additive,
	// never overwriting: encounter information reconciles against the
	// source's self-reported totals.
	// Returns domain.ErrNotFound if the citation does not exist.
	AddEncounters(ctx context.Context, id uuid.UUID, delta int) error

	// IncrementIntersection bumps the count of tracked papers this record
	// was observed against.
	// Returns domain.ErrNotFound if the citation does not exist.
	IncrementIntersection(ctx context.Context, id uuid.UUID) error

	// SetNeedsReview flags a citation as an ambiguous match, with notes.
	// Returns domain.ErrNotFound if the citation does not exist.
	SetNeedsReview(ctx context.Context, id uuid.UUID, notes string) error

	// ListByEdition retrieves all citations pointing at an edition.
	ListByEdition(ctx context.Context, editionID uuid.UUID) ([]*domain.Citation, error)

	// ListByPaper retrieves all citations of a tracked paper.
	ListByPaper(ctx context.Context, paperID uuid.UUID) ([]*domain.Citation, error)

	// Repoint moves a citation to a new edition and paper. Used by merge
	// and orphan repair after root resolution.
	// Returns domain.ErrNotFound if the citation does not exist.
	Repoint(ctx context.Context, id uuid.UUID, editionID, paperID uuid.UUID) error

	// Delete removes a citation row. Only the reconciliation engine calls
	// this, after folding the row's encounter count into a surviving
	// duplicate.
	// Returns domain.ErrNotFound if the citation does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// CountByEdition returns the live citation count pointing at an edition.
	CountByEdition(ctx context.Context, editionID uuid.UUID) (int, error)
}

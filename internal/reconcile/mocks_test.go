package reconcile

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/repository"
)

// ---------------------------------------------------------------------------
// Mock: CitationRepository
// ---------------------------------------------------------------------------

type mockCitationRepository struct {
	mock.Mock
}

func (m *mockCitationRepository) Create(ctx context.Context, citation *domain.Citation) (*domain.Citation, error) {
	args := m.Called(ctx, citation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Citation), args.Error(1)
}

func (m *mockCitationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Citation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Citation), args.Error(1)
}

func (m *mockCitationRepository) FindByExternalID(ctx context.Context, paperID uuid.UUID, externalID string) (*domain.Citation, error) {
	args := m.Called(ctx, paperID, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Citation), args.Error(1)
}

func (m *mockCitationRepository) FindByNormalizedTitle(ctx context.Context, paperID uuid.UUID, normalizedTitle string) (*domain.Citation, error) {
	args := m.Called(ctx, paperID, normalizedTitle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Citation), args.Error(1)
}

func (m *mockCitationRepository) AddEncounters(ctx context.Context, id uuid.UUID, delta int) error {
	args := m.Called(ctx, id, delta)
	return args.Error(0)
}

func (m *mockCitationRepository) IncrementIntersection(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockCitationRepository) SetNeedsReview(ctx context.Context, id uuid.UUID, notes string) error {
	args := m.Called(ctx, id, notes)
	return args.Error(0)
}

func (m *mockCitationRepository) ListByEdition(ctx context.Context, editionID uuid.UUID) ([]*domain.Citation, error) {
	args := m.Called(ctx, editionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Citation), args.Error(1)
}

func (m *mockCitationRepository) ListByPaper(ctx context.Context, paperID uuid.UUID) ([]*domain.Citation, error) {
	args := m.Called(ctx, paperID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Citation), args.Error(1)
}

func (m *mockCitationRepository) Repoint(ctx context.Context, id uuid.UUID, editionID, paperID uuid.UUID) error {
	args := m.Called(ctx, id, editionID, paperID)
	return args.Error(0)
}

func (m *mockCitationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockCitationRepository) CountByEdition(ctx context.Context, editionID uuid.UUID) (int, error) {
	args := m.Called(ctx, editionID)
	return args.Int(0), args.Error(1)
}

// ---------------------------------------------------------------------------
// Mock: EditionRepository
// ---------------------------------------------------------------------------

type mockEditionRepository struct {
	mock.Mock
}

func (m *mockEditionRepository) Create(ctx context.Context, edition *domain.Edition) (*domain.Edition, error) {
	args := m.Called(ctx, edition)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Edition), args.Error(1)
}

func (m *mockEditionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Edition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Edition), args.Error(1)
}

func (m *mockEditionRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Edition, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Edition), args.Error(1)
}

func (m *mockEditionRepository) ListByPaper(ctx context.Context, paperID uuid.UUID) ([]*domain.Edition, error) {
	args := m.Called(ctx, paperID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Edition), args.Error(1)
}

func (m *mockEditionRepository) ListMerged(ctx context.Context) ([]*domain.Edition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Edition), args.Error(1)
}

func (m *mockEditionRepository) SetMergedInto(ctx context.Context, id uuid.UUID, target uuid.UUID) error {
	args := m.Called(ctx, id, target)
	return args.Error(0)
}

func (m *mockEditionRepository) SetHarvestedCount(ctx context.Context, id uuid.UUID, count int) error {
	args := m.Called(ctx, id, count)
	return args.Error(0)
}

func (m *mockEditionRepository) IncrementStallCount(ctx context.Context, id uuid.UUID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *mockEditionRepository) SetNeedsReview(ctx context.Context, id uuid.UUID, needsReview bool) error {
	args := m.Called(ctx, id, needsReview)
	return args.Error(0)
}

// ---------------------------------------------------------------------------
// Mock: PaperRepository
// ---------------------------------------------------------------------------

type mockPaperRepository struct {
	mock.Mock
}

func (m *mockPaperRepository) Create(ctx context.Context, paper *domain.Paper) (*domain.Paper, error) {
	args := m.Called(ctx, paper)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Paper), args.Error(1)
}

func (m *mockPaperRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Paper, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Paper), args.Error(1)
}

func (m *mockPaperRepository) List(ctx context.Context, filter repository.PaperFilter) ([]*domain.Paper, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*domain.Paper), args.Get(1).(int64), args.Error(2)
}

func (m *mockPaperRepository) UpdateSourceCount(ctx context.Context, id uuid.UUID, count int) error {
	args := m.Called(ctx, id, count)
	return args.Error(0)
}

func (m *mockPaperRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockPaperRepository) ListSoftDeletedWithCitations(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

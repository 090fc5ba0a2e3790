package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/repository"
)

// ---------------------------------------------------------------------------
// Mock: TargetRepository
// ---------------------------------------------------------------------------

type mockTargetRepository struct {
	mock.Mock
}

func (m *mockTargetRepository) Create(ctx context.Context, target *domain.HarvestTarget) (*domain.HarvestTarget, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.HarvestTarget), args.Error(1)
}

func (m *mockTargetRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.HarvestTarget, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.HarvestTarget), args.Error(1)
}

func (m *mockTargetRepository) GetByScope(ctx context.Context, editionID uuid.UUID, years domain.YearScope) (*domain.HarvestTarget, error) {
	args := m.Called(ctx, editionID, years)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.HarvestTarget), args.Error(1)
}

func (m *mockTargetRepository) Update(ctx context.Context, target *domain.HarvestTarget) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}

func (m *mockTargetRepository) Claim(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (*domain.HarvestTarget, error) {
	args := m.Called(ctx, id, staleAfter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.HarvestTarget), args.Error(1)
}

func (m *mockTargetRepository) ListClaimable(ctx context.Context, staleAfter time.Duration, limit int) ([]*domain.HarvestTarget, error) {
	args := m.Called(ctx, staleAfter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.HarvestTarget), args.Error(1)
}

func (m *mockTargetRepository) ListByStatus(ctx context.Context, status domain.TargetStatus, limit int) ([]*domain.HarvestTarget, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.HarvestTarget), args.Error(1)
}

func (m *mockTargetRepository) ListByEdition(ctx context.Context, editionID uuid.UUID) ([]*domain.HarvestTarget, error) {
	args := m.Called(ctx, editionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.HarvestTarget), args.Error(1)
}

func (m *mockTargetRepository) StallSummary(ctx context.Context) ([]repository.StallSummaryRow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.StallSummaryRow), args.Error(1)
}

func (m *mockTargetRepository) GapSummary(ctx context.Context, editionID uuid.UUID) (*repository.GapSummary, error) {
	args := m.Called(ctx, editionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.GapSummary), args.Error(1)
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
// Mock: events.Publisher
// ---------------------------------------------------------------------------

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.HarvestEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

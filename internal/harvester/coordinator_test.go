package harvester

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/mock"

	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/planner"
	"github.com/helixir/citation-harvest-service/internal/repository"
	"github.com/helixir/citation-harvest-service/internal/source"
)

type stubPaperRepo struct {
	paper *domain.Paper
}

func (s *stubPaperRepo) Create(_ context.Context, p *domain.Paper) (*domain.Paper, error) {
	return p, nil
}

func (s *stubPaperRepo) GetByID(_ context.Context, _ uuid.UUID) (*domain.Paper, error) {
	return s.paper, nil
}

func (s *stubPaperRepo) List(_ context.Context, _ repository.PaperFilter) ([]*domain.Paper, int64, error) {
	return nil, 0, nil
}

func (s *stubPaperRepo) UpdateSourceCount(_ context.Context, _ uuid.UUID, _ int) error {
	return nil
}

func (s *stubPaperRepo) SoftDelete(_ context.Context, _ uuid.UUID) error {
	return nil
}

func (s *stubPaperRepo) ListSoftDeletedWithCitations(_ context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

func newTestCoordinator(f *engineFixture, papers *stubPaperRepo) *Coordinator {
	pln := planner.New(3, zerolog.Nop(), nil)
	return NewCoordinator(
		f.targets, f.editions, papers,
		f.engine, pln,
		testEngineConfig(), testSourceConfig(),
		nil, zerolog.Nop(),
	)
}

func TestRunOnceHarvestsPendingTarget(t *testing.T) {
	f := newEngineFixture(t, 100)
	papers := &stubPaperRepo{paper: &domain.Paper{ID: f.edition.PaperID, Title: "A Theory of Justice"}}
	coord := newTestCoordinator(f, papers)

	f.src.On("Search", mock.Anything, f.scope(), source.Query{}, 0).
		Return(pageOf(100, 100, false), nil).Once()

	attempted, err := coord.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, attempted)
	assert.Equal(t, domain.TargetStatusComplete, f.target.Status)
	f.src.AssertExpectations(t)
}

func TestRunOnceSkipsMergedEdition(t *testing.T) {
	f := newEngineFixture(t, 100)
	other := uuid.New()
	f.edition.MergedInto = &other
	papers := &stubPaperRepo{paper: &domain.Paper{ID: f.edition.PaperID}}
	coord := newTestCoordinator(f, papers)

	attempted, err := coord.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, attempted)
	assert.Equal(t, domain.TargetStatusPending, f.target.Status)
	f.src.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceSkipsFlaggedEdition(t *testing.T) {
	f := newEngineFixture(t, 100)
	f.edition.NeedsReview = true
	papers := &stubPaperRepo{paper: &domain.Paper{ID: f.edition.PaperID}}
	coord := newTestCoordinator(f, papers)

	attempted, err := coord.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, attempted)
	f.src.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOncePartitionsOversizedTarget(t *testing.T) {
	f := newEngineFixture(t, 5000)
	papers := &stubPaperRepo{paper: &domain.Paper{
		ID:    f.edition.PaperID,
		Title: "Justice Fairness Liberty Equality Political Contract",
	}}
	coord := newTestCoordinator(f, papers)
	scope := f.scope()

	pln := planner.New(3, zerolog.Nop(), nil)
	plan, err := pln.Plan(partitionTerms(papers.paper.Title))
	require.NoError(t, err)
	require.Len(t, plan.Batches, 2)

	f.src.On("Search", mock.Anything, scope, plan.TotalQuery(), 0).Return(pageOf(0, 5000, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.ExclusionQuery(), 0).Return(pageOf(0, 500, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.Batches[0], 0).Return(pageOf(100, 2400, false), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.Batches[1], 0).Return(pageOf(100, 2000, false), nil).Once()

	attempted, err := coord.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, attempted)
	assert.Equal(t, domain.TargetStatusComplete, f.target.Status)
	assert.Equal(t, 4500-4400, f.target.ResidualGap)
	f.src.AssertExpectations(t)
}

func TestRunOnceResumesStaleInProgressTarget(t *testing.T) {
	f := newEngineFixture(t, 200)
	f.target.Status = domain.TargetStatusInProgress
	f.target.ActualCount = 100
	f.target.LastScrapedPage = 1
	f.target.UpdatedAt = time.Now().Add(-time.Hour)
	papers := &stubPaperRepo{paper: &domain.Paper{ID: f.edition.PaperID}}
	coord := newTestCoordinator(f, papers)

	f.src.On("Search", mock.Anything, f.scope(), source.Query{}, 100).
		Return(pageOf(100, 200, true), nil).Once()

	attempted, err := coord.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, attempted)
	assert.Equal(t, domain.TargetStatusComplete, f.target.Status)
	assert.Equal(t, 200, f.target.ActualCount)
	f.src.AssertExpectations(t)
}

func TestRunOnceLeavesLiveClaimAlone(t *testing.T) {
	f := newEngineFixture(t, 100)
	f.target.Status = domain.TargetStatusInProgress
	f.target.UpdatedAt = time.Now()
	papers := &stubPaperRepo{paper: &domain.Paper{ID: f.edition.PaperID}}
	coord := newTestCoordinator(f, papers)

	attempted, err := coord.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, attempted)
	f.src.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHarvestByIDSkipsHeldClaim(t *testing.T) {
	f := newEngineFixture(t, 100)
	f.target.Status = domain.TargetStatusInProgress
	f.target.UpdatedAt = time.Now()
	papers := &stubPaperRepo{paper: &domain.Paper{ID: f.edition.PaperID}}
	coord := newTestCoordinator(f, papers)

	outcome, err := coord.HarvestByID(context.Background(), f.target.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusInProgress, outcome.Status)
	f.src.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceNoPendingTargets(t *testing.T) {
	f := newEngineFixture(t, 100)
	f.target.Status = domain.TargetStatusComplete
	papers := &stubPaperRepo{paper: &domain.Paper{ID: f.edition.PaperID}}
	coord := newTestCoordinator(f, papers)

	attempted, err := coord.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, attempted)
}

func TestPartitionTerms(t *testing.T) {
	tests := []struct {
		name  string
		title string
		terms []string
	}{
		{
			"drops short words and stopwords",
			"A Theory of Justice: Original Edition, with Notes",
			[]string{"theory", "justice", "original", "edition", "notes"},
		},
		{
			"deduplicates",
			"Justice, Justice, and More Justice",
			[]string{"justice", "more"},
		},
		{
			"empty title",
			"",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := partitionTerms(tt.title)
			if tt.terms == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.terms, got)
		})
	}
}

package harvester

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citation-harvest-service/internal/config"
	"github.com/helixir/citation-harvest-service/internal/domain"
	"github.com/helixir/citation-harvest-service/internal/planner"
	"github.com/helixir/citation-harvest-service/internal/reconcile"
	"github.com/helixir/citation-harvest-service/internal/repository"
	"github.com/helixir/citation-harvest-service/internal/source"
	"github.com/helixir/citation-harvest-service/internal/tracker"
)

// ---------------------------------------------------------------------------
// In-memory repositories backing a real tracker
// ---------------------------------------------------------------------------

type stubTargetRepo struct {
	saved *domain.HarvestTarget
}

func (s *stubTargetRepo) Create(_ context.Context, t *domain.HarvestTarget) (*domain.HarvestTarget, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.saved = t
	return t, nil
}

func (s *stubTargetRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.HarvestTarget, error) {
	if s.saved == nil || s.saved.ID != id {
		return nil, fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	return s.saved, nil
}

func (s *stubTargetRepo) GetByScope(_ context.Context, editionID uuid.UUID, years domain.YearScope) (*domain.HarvestTarget, error) {
	if s.saved == nil || s.saved.EditionID != editionID || s.saved.Years != years {
		return nil, fmt.Errorf("scope: %w", domain.ErrNotFound)
	}
	return s.saved, nil
}

func (s *stubTargetRepo) Update(_ context.Context, t *domain.HarvestTarget) error {
	t.UpdatedAt = time.Now()
	s.saved = t
	return nil
}

func (s *stubTargetRepo) Claim(_ context.Context, id uuid.UUID, staleAfter time.Duration) (*domain.HarvestTarget, error) {
	if s.saved == nil || s.saved.ID != id {
		return nil, fmt.Errorf("target %s: %w", id, domain.ErrNotFound)
	}
	stale := s.saved.Status == domain.TargetStatusInProgress && time.Since(s.saved.UpdatedAt) >= staleAfter
	if s.saved.Status != domain.TargetStatusPending && !stale {
		return nil, fmt.Errorf("target %s: %w", id, domain.ErrTargetClaimed)
	}
	s.saved.Status = domain.TargetStatusInProgress
	s.saved.UpdatedAt = time.Now()
	return s.saved, nil
}

func (s *stubTargetRepo) ListClaimable(_ context.Context, staleAfter time.Duration, _ int) ([]*domain.HarvestTarget, error) {
	if s.saved == nil {
		return nil, nil
	}
	if s.saved.Status == domain.TargetStatusPending ||
		(s.saved.Status == domain.TargetStatusInProgress && time.Since(s.saved.UpdatedAt) >= staleAfter) {
		return []*domain.HarvestTarget{s.saved}, nil
	}
	return nil, nil
}

func (s *stubTargetRepo) ListByStatus(_ context.Context, status domain.TargetStatus, _ int) ([]*domain.HarvestTarget, error) {
	if s.saved != nil && s.saved.Status == status {
		return []*domain.HarvestTarget{s.saved}, nil
	}
	return nil, nil
}

func (s *stubTargetRepo) ListByEdition(_ context.Context, _ uuid.UUID) ([]*domain.HarvestTarget, error) {
	return nil, nil
}

func (s *stubTargetRepo) StallSummary(_ context.Context) ([]repository.StallSummaryRow, error) {
	return nil, nil
}

func (s *stubTargetRepo) GapSummary(_ context.Context, _ uuid.UUID) (*repository.GapSummary, error) {
	return nil, nil
}

type stubEditionRepo struct {
	edition *domain.Edition
}

func (s *stubEditionRepo) Create(_ context.Context, e *domain.Edition) (*domain.Edition, error) {
	return e, nil
}

func (s *stubEditionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Edition, error) {
	if s.edition == nil || s.edition.ID != id {
		return nil, fmt.Errorf("edition %s: %w", id, domain.ErrNotFound)
	}
	return s.edition, nil
}

func (s *stubEditionRepo) GetByExternalID(_ context.Context, _ string) (*domain.Edition, error) {
	return s.edition, nil
}

func (s *stubEditionRepo) ListByPaper(_ context.Context, _ uuid.UUID) ([]*domain.Edition, error) {
	return nil, nil
}

func (s *stubEditionRepo) ListMerged(_ context.Context) ([]*domain.Edition, error) {
	return nil, nil
}

func (s *stubEditionRepo) SetMergedInto(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}

func (s *stubEditionRepo) SetHarvestedCount(_ context.Context, _ uuid.UUID, count int) error {
	s.edition.HarvestedCount = count
	return nil
}

func (s *stubEditionRepo) IncrementStallCount(_ context.Context, _ uuid.UUID) (int, error) {
	s.edition.StallCount++
	return s.edition.StallCount, nil
}

func (s *stubEditionRepo) SetNeedsReview(_ context.Context, _ uuid.UUID, needsReview bool) error {
	s.edition.NeedsReview = needsReview
	return nil
}

// ---------------------------------------------------------------------------
// Scripted source and ingestor
// ---------------------------------------------------------------------------

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Search(ctx context.Context, scope source.Scope, query source.Query, offset int) (*source.Page, error) {
	args := m.Called(ctx, scope, query, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*source.Page), args.Error(1)
}

func (m *mockSource) Name() string {
	return "scripted"
}

// countingIngestor treats every record on a page as new.
type countingIngestor struct {
	pages int
}

func (c *countingIngestor) IngestPage(_ context.Context, _ uuid.UUID, _ uuid.UUID, records []source.Record) (*reconcile.IngestResult, error) {
	c.pages++
	return &reconcile.IngestResult{New: len(records)}, nil
}

// dryIngestor reports every record as an already-seen duplicate.
type dryIngestor struct{}

func (dryIngestor) IngestPage(_ context.Context, _ uuid.UUID, _ uuid.UUID, records []source.Record) (*reconcile.IngestResult, error) {
	return &reconcile.IngestResult{Folded: len(records)}, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func testEngineConfig() config.HarvesterConfig {
	return config.HarvesterConfig{
		MaxConcurrentTargets: 1,
		MaxPages:             100,
		MaxRetries:           3,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           2 * time.Millisecond,
		BlockCooldown:        5 * time.Millisecond,
		EmptyPageLimit:       2,
	}
}

func testSourceConfig() config.SourceConfig {
	return config.SourceConfig{PageSize: 100, ResultCap: 1000}
}

type engineFixture struct {
	engine   *Engine
	src      *mockSource
	targets  *stubTargetRepo
	editions *stubEditionRepo
	ingestor *countingIngestor
	target   *domain.HarvestTarget
	edition  *domain.Edition
}

func newEngineFixture(t *testing.T, expected int) *engineFixture {
	t.Helper()

	edition := &domain.Edition{
		ID:         uuid.New(),
		PaperID:    uuid.New(),
		ExternalID: "src:ed-1971-en",
	}
	target := &domain.HarvestTarget{
		ID:            uuid.New(),
		EditionID:     edition.ID,
		Years:         domain.YearScope{Low: 1990, High: 1999},
		ExpectedCount: expected,
		Status:        domain.TargetStatusPending,
	}

	targets := &stubTargetRepo{saved: target}
	editions := &stubEditionRepo{edition: edition}
	trk := tracker.New(targets, editions, config.TrackerConfig{}, nil, nil, zerolog.Nop())

	src := &mockSource{}
	ingestor := &countingIngestor{}
	pln := planner.New(3, zerolog.Nop(), nil)

	engine := New(src, trk, ingestor, pln, NewBlockState(), testEngineConfig(), testSourceConfig(), nil, zerolog.Nop())

	return &engineFixture{
		engine:   engine,
		src:      src,
		targets:  targets,
		editions: editions,
		ingestor: ingestor,
		target:   target,
		edition:  edition,
	}
}

func (f *engineFixture) scope() source.Scope {
	return source.Scope{WorkID: f.edition.ExternalID, Years: f.target.Years}
}

func pageOf(n, total int, hasMore bool) *source.Page {
	records := make([]source.Record, n)
	for i := range records {
		records[i] = source.Record{
			ExternalID: fmt.Sprintf("rec-%d", i),
			Title:      fmt.Sprintf("Citing Work %d", i),
		}
	}
	return &source.Page{Records: records, ReportedTotal: total, HasMore: hasMore}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHarvestTargetRecoversFromTransientFailures(t *testing.T) {
	f := newEngineFixture(t, 500)
	ctx := context.Background()
	scope := f.scope()

	transient := &domain.TransientFetchError{Source: "scripted", Offset: 200}

	f.src.On("Search", mock.Anything, scope, source.Query{}, 0).Return(pageOf(100, 500, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, source.Query{}, 100).Return(pageOf(100, 500, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, source.Query{}, 200).Return(nil, transient).Twice()
	f.src.On("Search", mock.Anything, scope, source.Query{}, 200).Return(pageOf(100, 500, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, source.Query{}, 300).Return(pageOf(100, 500, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, source.Query{}, 400).Return(pageOf(100, 500, false), nil).Once()

	outcome, err := f.engine.HarvestTarget(ctx, f.target, f.edition)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusComplete, outcome.Status)
	assert.Equal(t, domain.GapReasonNone, outcome.GapReason)
	assert.Equal(t, 500, f.target.ActualCount)
	assert.Equal(t, 7, f.target.PagesAttempted)
	assert.Equal(t, 5, f.target.PagesSucceeded)
	assert.Equal(t, 2, f.target.PagesFailed)
	assert.Equal(t, 5, f.target.LastScrapedPage)
	assert.Equal(t, 0, f.target.ConsecutiveFailures)
	assert.Equal(t, 5, f.ingestor.pages)

	f.src.AssertExpectations(t)
}

func TestHarvestTargetStallsAfterRepeatedFailuresAtSameOffset(t *testing.T) {
	f := newEngineFixture(t, 500)
	ctx := context.Background()

	transient := &domain.TransientFetchError{Source: "scripted", Offset: 0}
	f.src.On("Search", mock.Anything, f.scope(), source.Query{}, 0).Return(nil, transient).Times(3)

	outcome, err := f.engine.HarvestTarget(ctx, f.target, f.edition)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusStalled, outcome.Status)
	assert.Equal(t, domain.GapReasonUnknown, outcome.GapReason)
	assert.Equal(t, 3, f.target.PagesFailed)
	assert.Equal(t, 3, f.target.ConsecutiveFailures)
	assert.Equal(t, 0, f.target.FailureOffset)
	assert.Equal(t, 1, f.edition.StallCount)

	f.src.AssertExpectations(t)
}

func TestHarvestTargetBlockedOpensSharedCooldown(t *testing.T) {
	f := newEngineFixture(t, 100)
	ctx := context.Background()
	scope := f.scope()

	blocked := &domain.SourceBlockedError{Source: "scripted", RetryAfter: 10 * time.Millisecond}
	f.src.On("Search", mock.Anything, scope, source.Query{}, 0).Return(nil, blocked).Once()
	f.src.On("Search", mock.Anything, scope, source.Query{}, 0).Return(pageOf(100, 100, false), nil).Once()

	outcome, err := f.engine.HarvestTarget(ctx, f.target, f.edition)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusComplete, outcome.Status)
	assert.Equal(t, 1, f.target.PagesFailed)
	assert.Equal(t, 100, f.target.ActualCount)

	f.src.AssertExpectations(t)
}

func TestHarvestTargetStallReasonFromBlockedError(t *testing.T) {
	f := newEngineFixture(t, 500)
	ctx := context.Background()

	blocked := &domain.SourceBlockedError{Source: "scripted", RetryAfter: time.Millisecond}
	f.src.On("Search", mock.Anything, f.scope(), source.Query{}, 0).Return(nil, blocked).Times(3)

	outcome, err := f.engine.HarvestTarget(ctx, f.target, f.edition)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusStalled, outcome.Status)
	assert.Equal(t, domain.GapReasonRateLimited, outcome.GapReason)

	f.src.AssertExpectations(t)
}

func TestHarvestTargetTreatsRepeatedDuplicatePagesAsExhaustion(t *testing.T) {
	f := newEngineFixture(t, 500)
	ctx := context.Background()
	scope := f.scope()

	trk := tracker.New(f.targets, f.editions, config.TrackerConfig{}, nil, nil, zerolog.Nop())
	pln := planner.New(3, zerolog.Nop(), nil)
	engine := New(f.src, trk, dryIngestor{}, pln, NewBlockState(), testEngineConfig(), testSourceConfig(), nil, zerolog.Nop())

	f.src.On("Search", mock.Anything, scope, source.Query{}, 0).Return(pageOf(100, 500, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, source.Query{}, 100).Return(pageOf(100, 500, true), nil).Once()

	outcome, err := engine.HarvestTarget(ctx, f.target, f.edition)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusComplete, outcome.Status)
	assert.Equal(t, domain.GapReasonEmptyPage, outcome.GapReason)
	assert.Equal(t, 0, f.target.ActualCount)
	assert.Equal(t, 2, f.target.PagesSucceeded)

	f.src.AssertExpectations(t)
}

func TestHarvestTargetStopsAtPageCeiling(t *testing.T) {
	f := newEngineFixture(t, 10000)
	ctx := context.Background()
	scope := f.scope()

	cfg := testEngineConfig()
	cfg.MaxPages = 2
	trk := tracker.New(f.targets, f.editions, config.TrackerConfig{}, nil, nil, zerolog.Nop())
	pln := planner.New(3, zerolog.Nop(), nil)
	engine := New(f.src, trk, f.ingestor, pln, NewBlockState(), cfg, testSourceConfig(), nil, zerolog.Nop())

	f.src.On("Search", mock.Anything, scope, source.Query{}, 0).Return(pageOf(100, 10000, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, source.Query{}, 100).Return(pageOf(100, 10000, true), nil).Once()

	outcome, err := engine.HarvestTarget(ctx, f.target, f.edition)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusComplete, outcome.Status)
	assert.Equal(t, domain.GapReasonMaxPagesReached, outcome.GapReason)
	assert.Equal(t, 200, f.target.ActualCount)

	f.src.AssertExpectations(t)
}

func TestHarvestPartitionedRecordsResidualGap(t *testing.T) {
	f := newEngineFixture(t, 2000)
	ctx := context.Background()
	scope := f.scope()

	pln := planner.New(3, zerolog.Nop(), nil)
	plan, err := pln.Plan([]string{"justice", "fairness", "liberty", "equality", "rawls", "contract"})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 2)

	f.src.On("Search", mock.Anything, scope, plan.TotalQuery(), 0).Return(pageOf(0, 1000, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.ExclusionQuery(), 0).Return(pageOf(0, 100, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.Batches[0], 0).Return(pageOf(100, 400, false), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.Batches[1], 0).Return(pageOf(100, 450, false), nil).Once()

	outcome, err := f.engine.HarvestPartitioned(ctx, f.target, f.edition, plan)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusComplete, outcome.Status)
	assert.Equal(t, domain.GapReasonPaginationEnded, outcome.GapReason)
	assert.Equal(t, 50, outcome.ResidualGapEstimate)
	assert.Equal(t, 200, f.target.ActualCount)
	assert.Equal(t, 50, f.target.ResidualGap)

	f.src.AssertExpectations(t)
}

func TestHarvestPartitionedResumesPastCommittedBatches(t *testing.T) {
	f := newEngineFixture(t, 2000)
	ctx := context.Background()
	scope := f.scope()

	pln := planner.New(3, zerolog.Nop(), nil)
	plan, err := pln.Plan([]string{"justice", "fairness", "liberty", "equality", "rawls", "contract"})
	require.NoError(t, err)
	require.Len(t, plan.Batches, 2)

	// A crashed harvest left the first batch fully committed and the
	// second batch one page in. The lease lapsed, so the claim succeeds.
	f.target.Status = domain.TargetStatusInProgress
	f.target.LastPartition = 1
	f.target.LastScrapedPage = 1
	f.target.ActualCount = 400
	f.target.UpdatedAt = time.Now().Add(-time.Hour)

	f.src.On("Search", mock.Anything, scope, plan.TotalQuery(), 0).Return(pageOf(0, 1000, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.ExclusionQuery(), 0).Return(pageOf(0, 100, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.Batches[0], 0).Return(pageOf(0, 400, true), nil).Once()
	f.src.On("Search", mock.Anything, scope, plan.Batches[1], 100).Return(pageOf(100, 450, false), nil).Once()

	outcome, err := f.engine.HarvestPartitioned(ctx, f.target, f.edition, plan)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusComplete, outcome.Status)
	assert.Equal(t, 50, outcome.ResidualGapEstimate)
	assert.Equal(t, 500, f.target.ActualCount)
	assert.Equal(t, 1, f.ingestor.pages)

	f.src.AssertExpectations(t)
}

func TestHarvestTargetAbortsOnUnclassifiedError(t *testing.T) {
	f := newEngineFixture(t, 500)
	ctx := context.Background()

	f.src.On("Search", mock.Anything, f.scope(), source.Query{}, 0).
		Return(nil, fmt.Errorf("search: unexpected status 404")).Once()

	outcome, err := f.engine.HarvestTarget(ctx, f.target, f.edition)
	require.NoError(t, err)

	assert.Equal(t, domain.TargetStatusStalled, outcome.Status)
	assert.Equal(t, domain.GapReasonUnknown, outcome.GapReason)
	assert.Equal(t, 1, f.target.PagesFailed)
	assert.Equal(t, 1, f.target.ConsecutiveFailures)
	assert.Equal(t, 1, f.edition.StallCount)

	f.src.AssertExpectations(t)
}

func TestHarvestTargetRejectsStalledTarget(t *testing.T) {
	f := newEngineFixture(t, 500)
	f.target.Status = domain.TargetStatusStalled

	_, err := f.engine.HarvestTarget(context.Background(), f.target, f.edition)
	assert.Error(t, err)
}

func TestGapReasonFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason domain.GapReason
	}{
		{"rate limited block", &domain.SourceBlockedError{RetryAfter: time.Minute}, domain.GapReasonRateLimited},
		{"hard block", &domain.SourceBlockedError{}, domain.GapReasonBlocked},
		{"parse failure", &domain.ParseError{Source: "scripted", Offset: 40}, domain.GapReasonParseError},
		{"transient", &domain.TransientFetchError{Source: "scripted"}, domain.GapReasonUnknown},
		{"unclassified", fmt.Errorf("boom"), domain.GapReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reason, gapReasonFor(tt.err))
		})
	}
}

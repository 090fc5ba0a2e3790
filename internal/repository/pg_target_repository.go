package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

// Compile-time interface verification.
var _ TargetRepository = (*PgTargetRepository)(nil)

// PgTargetRepository is a PostgreSQL implementation of TargetRepository.
type PgTargetRepository struct {
	db DBTX
}

// NewPgTargetRepository creates a new PostgreSQL harvest target repository.
func NewPgTargetRepository(db DBTX) *PgTargetRepository {
	return &PgTargetRepository{db: db}
}

const targetColumns = `id, edition_id, year_low, year_high, expected_count, initial_expected, actual_count, status, gap_reason,
	pages_attempted, pages_succeeded, pages_failed, last_scraped_page, last_partition,
	consecutive_failures, failure_offset, residual_gap, needs_review, review_notes, created_at, updated_at`

func scanTarget(row pgx.Row) (*domain.HarvestTarget, error) {
	var t domain.HarvestTarget
	var status string
	var gapReason string
	err := row.Scan(
		&t.ID,
		&t.EditionID,
		&t.Years.Low,
		&t.Years.High,
		&t.ExpectedCount,
		&t.InitialExpected,
		&t.ActualCount,
		&status,
		&gapReason,
		&t.PagesAttempted,
		&t.PagesSucceeded,
		&t.PagesFailed,
		&t.LastScrapedPage,
		&t.LastPartition,
		&t.ConsecutiveFailures,
		&t.FailureOffset,
		&t.ResidualGap,
		&t.NeedsReview,
		&t.ReviewNotes,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TargetStatus(status)
	t.GapReason = domain.GapReason(gapReason)
	return &t, nil
}

// Create inserts a new harvest target.
func (r *PgTargetRepository) Create(ctx context.Context, target *domain.HarvestTarget) (*domain.HarvestTarget, error) {
	if target == nil {
		return nil, domain.NewValidationError("target", "target cannot be nil")
	}
	if target.EditionID == uuid.Nil {
		return nil, domain.NewValidationError("edition_id", "edition ID is required")
	}
	if target.ExpectedCount < 0 {
		return nil, domain.NewValidationError("expected_count", "expected count must be non-negative")
	}

	if target.ID == uuid.Nil {
		target.ID = uuid.New()
	}
	if target.Status == "" {
		target.Status = domain.TargetStatusPending
	}
	now := time.Now().UTC()

	if target.InitialExpected == 0 {
		target.InitialExpected = target.ExpectedCount
	}

	query := `
		INSERT INTO harvest_targets (id, edition_id, year_low, year_high, expected_count, initial_expected, actual_count,
			status, gap_reason, pages_attempted, pages_succeeded, pages_failed, last_scraped_page, last_partition,
			consecutive_failures, failure_offset, residual_gap, needs_review, review_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		target.ID,
		target.EditionID,
		target.Years.Low,
		target.Years.High,
		target.ExpectedCount,
		target.InitialExpected,
		target.ActualCount,
		string(target.Status),
		string(target.GapReason),
		target.PagesAttempted,
		target.PagesSucceeded,
		target.PagesFailed,
		target.LastScrapedPage,
		target.LastPartition,
		target.ConsecutiveFailures,
		target.FailureOffset,
		target.ResidualGap,
		target.NeedsReview,
		target.ReviewNotes,
		now,
		now,
	).Scan(&target.ID, &target.CreatedAt, &target.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("target for edition %s: %w", target.EditionID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert harvest target: %w", err)
	}

	return target, nil
}

// GetByID retrieves a target by its internal UUID.
func (r *PgTargetRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.HarvestTarget, error) {
	target, err := scanTarget(r.db.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM harvest_targets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("harvest target", id.String())
		}
		return nil, fmt.Errorf("failed to get harvest target: %w", err)
	}
	return target, nil
}

// GetByScope retrieves the target for one (edition, year-scope) pair.
func (r *PgTargetRepository) GetByScope(ctx context.Context, editionID uuid.UUID, years domain.YearScope) (*domain.HarvestTarget, error) {
	target, err := scanTarget(r.db.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM harvest_targets WHERE edition_id = $1 AND year_low = $2 AND year_high = $3`,
		editionID, years.Low, years.High))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("harvest target", editionID.String())
		}
		return nil, fmt.Errorf("failed to get harvest target by scope: %w", err)
	}
	return target, nil
}

// Update persists the full mutable state of a target.
func (r *PgTargetRepository) Update(ctx context.Context, target *domain.HarvestTarget) error {
	if target == nil {
		return domain.NewValidationError("target", "target cannot be nil")
	}

	query := `
		UPDATE harvest_targets SET
			expected_count = $2,
			initial_expected = $3,
			actual_count = $4,
			status = $5,
			gap_reason = $6,
			pages_attempted = $7,
			pages_succeeded = $8,
			pages_failed = $9,
			last_scraped_page = $10,
			last_partition = $11,
			consecutive_failures = $12,
			failure_offset = $13,
			residual_gap = $14,
			needs_review = $15,
			review_notes = $16,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		target.ID,
		target.ExpectedCount,
		target.InitialExpected,
		target.ActualCount,
		string(target.Status),
		string(target.GapReason),
		target.PagesAttempted,
		target.PagesSucceeded,
		target.PagesFailed,
		target.LastScrapedPage,
		target.LastPartition,
		target.ConsecutiveFailures,
		target.FailureOffset,
		target.ResidualGap,
		target.NeedsReview,
		target.ReviewNotes,
	)
	if err != nil {
		return fmt.Errorf("failed to update harvest target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("harvest target", target.ID.String())
	}
	return nil
}

// Claim atomically takes ownership of a target. The WHERE clause is the
// whole arbitration: pending rows are free, in_progress rows only become
// claimable after their lease (updated_at) has been stale for staleAfter.
// Exactly one concurrent claimer gets the row back.
func (r *PgTargetRepository) Claim(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (*domain.HarvestTarget, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)

	query := `
		UPDATE harvest_targets SET
			status = 'in_progress',
			updated_at = NOW()
		WHERE id = $1
		  AND (status = 'pending' OR (status = 'in_progress' AND updated_at < $2))
		RETURNING ` + targetColumns

	target, err := scanTarget(r.db.QueryRow(ctx, query, id, cutoff))
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim harvest target: %w", err)
	}

	// No claimable row. Distinguish a missing target from a live claim.
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("harvest target %s: %w", id, domain.ErrTargetClaimed)
}

// ListClaimable retrieves targets the sweep may claim: pending ones plus
// in_progress ones whose lease went stale, oldest first. Claim still
// arbitrates ownership per row, so a stale listing only costs a skip.
func (r *PgTargetRepository) ListClaimable(ctx context.Context, staleAfter time.Duration, limit int) ([]*domain.HarvestTarget, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	cutoff := time.Now().UTC().Add(-staleAfter)

	return r.list(ctx,
		`SELECT `+targetColumns+` FROM harvest_targets
		WHERE status = 'pending' OR (status = 'in_progress' AND updated_at < $1)
		ORDER BY created_at LIMIT $2`,
		cutoff, limit)
}

// ListByStatus retrieves targets in a given status, oldest first.
func (r *PgTargetRepository) ListByStatus(ctx context.Context, status domain.TargetStatus, limit int) ([]*domain.HarvestTarget, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}

	return r.list(ctx,
		`SELECT `+targetColumns+` FROM harvest_targets WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(status), limit)
}

// ListByEdition retrieves all targets owned by an edition.
func (r *PgTargetRepository) ListByEdition(ctx context.Context, editionID uuid.UUID) ([]*domain.HarvestTarget, error) {
	return r.list(ctx,
		`SELECT `+targetColumns+` FROM harvest_targets WHERE edition_id = $1 ORDER BY year_low, year_high`,
		editionID)
}

func (r *PgTargetRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.HarvestTarget, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list harvest targets: %w", err)
	}
	defer rows.Close()

	var targets []*domain.HarvestTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest target: %w", err)
		}
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate harvest targets: %w", err)
	}

	return targets, nil
}

// StallSummary aggregates stalled targets by gap reason.
func (r *PgTargetRepository) StallSummary(ctx context.Context) ([]StallSummaryRow, error) {
	query := `
		SELECT gap_reason, COUNT(*)
		FROM harvest_targets
		WHERE status = 'stalled'
		GROUP BY gap_reason
		ORDER BY COUNT(*) DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize stalls: %w", err)
	}
	defer rows.Close()

	var summary []StallSummaryRow
	for rows.Next() {
		var row StallSummaryRow
		var reason string
		if err := rows.Scan(&reason, &row.Count); err != nil {
			return nil, fmt.Errorf("failed to scan stall summary: %w", err)
		}
		row.GapReason = domain.GapReason(reason)
		summary = append(summary, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stall summary: %w", err)
	}

	return summary, nil
}

// GapSummary aggregates expected/actual/residual counts per edition.
func (r *PgTargetRepository) GapSummary(ctx context.Context, editionID uuid.UUID) (*GapSummary, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(expected_count), 0),
			COALESCE(SUM(actual_count), 0),
			COALESCE(SUM(residual_gap), 0),
			COUNT(*) FILTER (WHERE status = 'stalled')
		FROM harvest_targets
		WHERE edition_id = $1`

	summary := &GapSummary{EditionID: editionID}
	err := r.db.QueryRow(ctx, query, editionID).Scan(
		&summary.Targets,
		&summary.ExpectedTotal,
		&summary.ActualTotal,
		&summary.ResidualTotal,
		&summary.Stalled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize gaps: %w", err)
	}

	return summary, nil
}

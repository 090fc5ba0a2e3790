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
var _ EditionRepository = (*PgEditionRepository)(nil)

// PgEditionRepository is a PostgreSQL implementation of EditionRepository.
type PgEditionRepository struct {
	db DBTX
}

// NewPgEditionRepository creates a new PostgreSQL edition repository.
func NewPgEditionRepository(db DBTX) *PgEditionRepository {
	return &PgEditionRepository{db: db}
}

const editionColumns = `id, paper_id, external_id, label, merged_into, harvested_count, stall_count, needs_review, created_at, updated_at`

func scanEdition(row pgx.Row) (*domain.Edition, error) {
	var e domain.Edition
	err := row.Scan(
		&e.ID,
		&e.PaperID,
		&e.ExternalID,
		&e.Label,
		&e.MergedInto,
		&e.HarvestedCount,
		&e.StallCount,
		&e.NeedsReview,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts a new edition.
func (r *PgEditionRepository) Create(ctx context.Context, edition *domain.Edition) (*domain.Edition, error) {
	if edition == nil {
		return nil, domain.NewValidationError("edition", "edition cannot be nil")
	}
	if edition.ExternalID == "" {
		return nil, domain.NewValidationError("external_id", "external ID is required")
	}
	if edition.PaperID == uuid.Nil {
		return nil, domain.NewValidationError("paper_id", "paper ID is required")
	}

	if edition.ID == uuid.Nil {
		edition.ID = uuid.New()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO editions (id, paper_id, external_id, label, merged_into, harvested_count, stall_count, needs_review, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		edition.ID,
		edition.PaperID,
		edition.ExternalID,
		edition.Label,
		edition.MergedInto,
		edition.HarvestedCount,
		edition.StallCount,
		edition.NeedsReview,
		now,
		now,
	).Scan(&edition.ID, &edition.CreatedAt, &edition.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("edition %s: %w", edition.ExternalID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert edition: %w", err)
	}

	return edition, nil
}

// GetByID retrieves an edition by its internal UUID.
func (r *PgEditionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Edition, error) {
	edition, err := scanEdition(r.db.QueryRow(ctx,
		`SELECT `+editionColumns+` FROM editions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("edition", id.String())
		}
		return nil, fmt.Errorf("failed to get edition: %w", err)
	}
	return edition, nil
}

// GetByExternalID retrieves an edition by its source-side identifier.
func (r *PgEditionRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Edition, error) {
	if externalID == "" {
		return nil, domain.NewValidationError("external_id", "external ID is required")
	}

	edition, err := scanEdition(r.db.QueryRow(ctx,
		`SELECT `+editionColumns+` FROM editions WHERE external_id = $1`, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("edition", externalID)
		}
		return nil, fmt.Errorf("failed to get edition: %w", err)
	}
	return edition, nil
}

// ListByPaper retrieves all editions of a tracked paper.
func (r *PgEditionRepository) ListByPaper(ctx context.Context, paperID uuid.UUID) ([]*domain.Edition, error) {
	return r.list(ctx, `SELECT `+editionColumns+` FROM editions WHERE paper_id = $1 ORDER BY created_at`, paperID)
}

// ListMerged retrieves all editions with a non-null merge target.
func (r *PgEditionRepository) ListMerged(ctx context.Context) ([]*domain.Edition, error) {
	return r.list(ctx, `SELECT `+editionColumns+` FROM editions WHERE merged_into IS NOT NULL ORDER BY created_at`)
}

func (r *PgEditionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Edition, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list editions: %w", err)
	}
	defer rows.Close()

	var editions []*domain.Edition
	for rows.Next() {
		edition, err := scanEdition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edition: %w", err)
		}
		editions = append(editions, edition)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate editions: %w", err)
	}

	return editions, nil
}

// SetMergedInto records that an edition was merged into another.
func (r *PgEditionRepository) SetMergedInto(ctx context.Context, id uuid.UUID, target uuid.UUID) error {
	var mergedInto *uuid.UUID
	if target != uuid.Nil {
		mergedInto = &target
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE editions SET merged_into = $2, updated_at = NOW() WHERE id = $1`,
		id, mergedInto,
	)
	if err != nil {
		return fmt.Errorf("failed to set merge target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("edition", id.String())
	}
	return nil
}

// SetHarvestedCount overwrites the edition's harvested count.
func (r *PgEditionRepository) SetHarvestedCount(ctx context.Context, id uuid.UUID, count int) error {
	if count < 0 {
		return domain.NewValidationError("count", "harvested count must be non-negative")
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE editions SET harvested_count = $2, updated_at = NOW() WHERE id = $1`,
		id, count,
	)
	if err != nil {
		return fmt.Errorf("failed to set harvested count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("edition", id.String())
	}
	return nil
}

// IncrementStallCount bumps the edition's stall counter and returns the new value.
func (r *PgEditionRepository) IncrementStallCount(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`UPDATE editions SET stall_count = stall_count + 1, updated_at = NOW() WHERE id = $1 RETURNING stall_count`,
		id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.NewNotFoundError("edition", id.String())
		}
		return 0, fmt.Errorf("failed to increment stall count: %w", err)
	}
	return count, nil
}

// SetNeedsReview flags or unflags the edition for manual review.
func (r *PgEditionRepository) SetNeedsReview(ctx context.Context, id uuid.UUID, needsReview bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE editions SET needs_review = $2, updated_at = NOW() WHERE id = $1`,
		id, needsReview,
	)
	if err != nil {
		return fmt.Errorf("failed to set needs_review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("edition", id.String())
	}
	return nil
}

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
var _ CitationRepository = (*PgCitationRepository)(nil)

// PgCitationRepository is a PostgreSQL implementation of CitationRepository.
type PgCitationRepository struct {
	db DBTX
}

// NewPgCitationRepository creates a new PostgreSQL citation repository.
func NewPgCitationRepository(db DBTX) *PgCitationRepository {
	return &PgCitationRepository{db: db}
}

const citationColumns = `id, paper_id, edition_id, external_id, title, normalized_title, year, encounter_count, intersection_count, needs_review, review_notes, created_at, updated_at`

func scanCitation(row pgx.Row) (*domain.Citation, error) {
	var c domain.Citation
	err := row.Scan(
		&c.ID,
		&c.PaperID,
		&c.EditionID,
		&c.ExternalID,
		&c.Title,
		&c.NormalizedTitle,
		&c.Year,
		&c.EncounterCount,
		&c.IntersectionCount,
		&c.NeedsReview,
		&c.ReviewNotes,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new citation.
func (r *PgCitationRepository) Create(ctx context.Context, citation *domain.Citation) (*domain.Citation, error) {
	if citation == nil {
		return nil, domain.NewValidationError("citation", "citation cannot be nil")
	}
	if citation.PaperID == uuid.Nil {
		return nil, domain.NewValidationError("paper_id", "paper ID is required")
	}
	if citation.EditionID == uuid.Nil {
		return nil, domain.NewValidationError("edition_id", "edition ID is required")
	}
	if citation.Title == "" {
		return nil, domain.NewValidationError("title", "title is required")
	}

	if citation.ID == uuid.Nil {
		citation.ID = uuid.New()
	}
	if citation.NormalizedTitle == "" {
		citation.NormalizedTitle = domain.NormalizeTitle(citation.Title)
	}
	if citation.EncounterCount < 1 {
		citation.EncounterCount = 1
	}
	if citation.IntersectionCount < 1 {
		citation.IntersectionCount = 1
	}
	now := time.Now().UTC()

	// ON CONFLICT DO NOTHING keeps a dedup race from aborting the
	// enclosing page transaction: the loser scans no row and the caller
	// re-reads the winner to fold into it.
	query := `
		INSERT INTO citations (id, paper_id, edition_id, external_id, title, normalized_title, year,
			encounter_count, intersection_count, needs_review, review_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		citation.ID,
		citation.PaperID,
		citation.EditionID,
		citation.ExternalID,
		citation.Title,
		citation.NormalizedTitle,
		citation.Year,
		citation.EncounterCount,
		citation.IntersectionCount,
		citation.NeedsReview,
		citation.ReviewNotes,
		now,
		now,
	).Scan(&citation.ID, &citation.CreatedAt, &citation.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("citation for paper %s: %w", citation.PaperID, domain.ErrAlreadyExists)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("citation for paper %s: %w", citation.PaperID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert citation: %w", err)
	}

	return citation, nil
}

// GetByID retrieves a citation by its internal UUID.
func (r *PgCitationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Citation, error) {
	citation, err := scanCitation(r.db.QueryRow(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("citation", id.String())
		}
		return nil, fmt.Errorf("failed to get citation: %w", err)
	}
	return citation, nil
}

// FindByExternalID retrieves a paper's citation by source-side identifier.
func (r *PgCitationRepository) FindByExternalID(ctx context.Context, paperID uuid.UUID, externalID string) (*domain.Citation, error) {
	if externalID == "" {
		return nil, domain.NewValidationError("external_id", "external ID is required")
	}

	citation, err := scanCitation(r.db.QueryRow(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE paper_id = $1 AND external_id = $2`,
		paperID, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("citation", externalID)
		}
		return nil, fmt.Errorf("failed to find citation by external id: %w", err)
	}
	return citation, nil
}

// FindByNormalizedTitle retrieves a paper's citation by normalized title.
func (r *PgCitationRepository) FindByNormalizedTitle(ctx context.Context, paperID uuid.UUID, normalizedTitle string) (*domain.Citation, error) {
	if normalizedTitle == "" {
		return nil, domain.NewValidationError("normalized_title", "normalized title is required")
	}

	citation, err := scanCitation(r.db.QueryRow(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE paper_id = $1 AND normalized_title = $2`,
		paperID, normalizedTitle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("citation", normalizedTitle)
		}
		return nil, fmt.Errorf("failed to find citation by title: %w", err)
	}
	return citation, nil
}

// AddEncounters adds delta to a citation's encounter count.
func (r *PgCitationRepository) AddEncounters(ctx context.Context, id uuid.UUID, delta int) error {
	if delta <= 0 {
		return domain.NewValidationError("delta", "encounter delta must be positive")
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE citations SET encounter_count = encounter_count + $2, updated_at = NOW() WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("failed to add encounters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("citation", id.String())
	}
	return nil
}

// IncrementIntersection bumps the tracked-paper intersection count.
func (r *PgCitationRepository) IncrementIntersection(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE citations SET intersection_count = intersection_count + 1, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to increment intersection count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("citation", id.String())
	}
	return nil
}

// SetNeedsReview flags a citation as an ambiguous match.
func (r *PgCitationRepository) SetNeedsReview(ctx context.Context, id uuid.UUID, notes string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE citations SET needs_review = TRUE, review_notes = $2, updated_at = NOW() WHERE id = $1`,
		id, notes,
	)
	if err != nil {
		return fmt.Errorf("failed to flag citation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("citation", id.String())
	}
	return nil
}

// ListByEdition retrieves all citations pointing at an edition.
func (r *PgCitationRepository) ListByEdition(ctx context.Context, editionID uuid.UUID) ([]*domain.Citation, error) {
	return r.list(ctx, `SELECT `+citationColumns+` FROM citations WHERE edition_id = $1 ORDER BY created_at`, editionID)
}

// ListByPaper retrieves all citations of a tracked paper.
func (r *PgCitationRepository) ListByPaper(ctx context.Context, paperID uuid.UUID) ([]*domain.Citation, error) {
	return r.list(ctx, `SELECT `+citationColumns+` FROM citations WHERE paper_id = $1 ORDER BY created_at`, paperID)
}

func (r *PgCitationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Citation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list citations: %w", err)
	}
	defer rows.Close()

	var citations []*domain.Citation
	for rows.Next() {
		citation, err := scanCitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		citations = append(citations, citation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate citations: %w", err)
	}

	return citations, nil
}

// Repoint moves a citation to a new edition and paper.
func (r *PgCitationRepository) Repoint(ctx context.Context, id uuid.UUID, editionID, paperID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE citations SET edition_id = $2, paper_id = $3, updated_at = NOW() WHERE id = $1`,
		id, editionID, paperID,
	)
	if err != nil {
		return fmt.Errorf("failed to repoint citation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("citation", id.String())
	}
	return nil
}

// Delete removes a citation row.
func (r *PgCitationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM citations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete citation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("citation", id.String())
	}
	return nil
}

// CountByEdition returns the live citation count pointing at an edition.
func (r *PgCitationRepository) CountByEdition(ctx context.Context, editionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM citations WHERE edition_id = $1`, editionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count citations: %w", err)
	}
	return count, nil
}

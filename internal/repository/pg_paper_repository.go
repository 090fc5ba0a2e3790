package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

// Compile-time interface verification.
var _ PaperRepository = (*PgPaperRepository)(nil)

// PgPaperRepository is a PostgreSQL implementation of PaperRepository.
type PgPaperRepository struct {
	db DBTX
}

// NewPgPaperRepository creates a new PostgreSQL paper repository.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

const paperColumns = `id, title, source_citation_count, group_key, deleted_at, created_at, updated_at`

func scanPaper(row pgx.Row) (*domain.Paper, error) {
	var p domain.Paper
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.SourceCitationCount,
		&p.GroupKey,
		&p.DeletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new tracked paper.
func (r *PgPaperRepository) Create(ctx context.Context, paper *domain.Paper) (*domain.Paper, error) {
	if paper == nil {
		return nil, domain.NewValidationError("paper", "paper cannot be nil")
	}
	if paper.Title == "" {
		return nil, domain.NewValidationError("title", "title is required")
	}

	if paper.ID == uuid.Nil {
		paper.ID = uuid.New()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO papers (id, title, source_citation_count, group_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		paper.ID,
		paper.Title,
		paper.SourceCitationCount,
		paper.GroupKey,
		now,
		now,
	).Scan(&paper.ID, &paper.CreatedAt, &paper.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert paper: %w", err)
	}

	return paper, nil
}

// GetByID retrieves a paper by its internal UUID, including soft-deleted papers.
func (r *PgPaperRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Paper, error) {
	query := `SELECT ` + paperColumns + ` FROM papers WHERE id = $1`

	paper, err := scanPaper(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", id.String())
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}

	return paper, nil
}

// List retrieves papers matching the filter criteria.
func (r *PgPaperRepository) List(ctx context.Context, filter PaperFilter) ([]*domain.Paper, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	where := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if !filter.IncludeDeleted {
		where += " AND deleted_at IS NULL"
	}
	if filter.GroupKey != nil {
		where += fmt.Sprintf(" AND group_key = $%d", argPos)
		args = append(args, *filter.GroupKey)
		argPos++
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM papers " + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count papers: %w", err)
	}

	listQuery := fmt.Sprintf(
		"SELECT "+paperColumns+" FROM papers %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, argPos, argPos+1,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	var papers []*domain.Paper
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan paper: %w", err)
		}
		papers = append(papers, paper)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate papers: %w", err)
	}

	return papers, total, nil
}

// UpdateSourceCount records the source-reported citation total.
func (r *PgPaperRepository) UpdateSourceCount(ctx context.Context, id uuid.UUID, count int) error {
	if count < 0 {
		return domain.NewValidationError("count", "source count must be non-negative")
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE papers SET source_citation_count = $2, updated_at = NOW() WHERE id = $1`,
		id, count,
	)
	if err != nil {
		return fmt.Errorf("failed to update source count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("paper", id.String())
	}
	return nil
}

// SoftDelete marks a paper as deleted.
func (r *PgPaperRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE papers SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to soft-delete paper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("paper", id.String())
	}
	return nil
}

// ListSoftDeletedWithCitations returns IDs of soft-deleted papers that still
// have citations pointing at them.
func (r *PgPaperRepository) ListSoftDeletedWithCitations(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT p.id
		FROM papers p
		JOIN citations c ON c.paper_id = p.id
		WHERE p.deleted_at IS NOT NULL
		ORDER BY p.id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned papers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan paper id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate paper ids: %w", err)
	}

	return ids, nil
}

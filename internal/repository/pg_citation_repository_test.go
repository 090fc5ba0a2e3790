package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

func newTestCitation() *domain.Citation {
	now := time.Now().UTC()
	return &domain.Citation{
		ID:                uuid.New(),
		PaperID:           uuid.New(),
		EditionID:         uuid.New(),
		ExternalID:        "X123",
		Title:             "Justice as Fairness: A Restatement",
		NormalizedTitle:   "justice as fairness a restatement",
		Year:              2001,
		EncounterCount:    1,
		IntersectionCount: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func citationRows(citations ...*domain.Citation) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "paper_id", "edition_id", "external_id", "title", "normalized_title", "year",
		"encounter_count", "intersection_count", "needs_review", "review_notes", "created_at", "updated_at",
	})
	for _, c := range citations {
		rows.AddRow(c.ID, c.PaperID, c.EditionID, c.ExternalID, c.Title, c.NormalizedTitle, c.Year,
			c.EncounterCount, c.IntersectionCount, c.NeedsReview, c.ReviewNotes, c.CreatedAt, c.UpdatedAt)
	}
	return rows
}

func TestPgCitationRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates citation successfully", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		citation := newTestCitation()

		mock.ExpectQuery("INSERT INTO citations").
			WithArgs(
				pgxmock.AnyArg(), citation.PaperID, citation.EditionID, citation.ExternalID,
				citation.Title, citation.NormalizedTitle, citation.Year,
				citation.EncounterCount, citation.IntersectionCount,
				citation.NeedsReview, citation.ReviewNotes, pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(citation.ID, citation.CreatedAt, citation.UpdatedAt))

		result, err := repo.Create(ctx, citation)
		require.NoError(t, err)
		assert.Equal(t, citation.ExternalID, result.ExternalID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("derives normalized title and minimum counts", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		citation := newTestCitation()
		citation.NormalizedTitle = ""
		citation.EncounterCount = 0
		citation.IntersectionCount = 0

		mock.ExpectQuery("INSERT INTO citations").
			WithArgs(
				pgxmock.AnyArg(), citation.PaperID, citation.EditionID, citation.ExternalID,
				citation.Title, "justice as fairness a restatement", citation.Year,
				1, 1, false, "", pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(citation.ID, citation.CreatedAt, citation.UpdatedAt))

		result, err := repo.Create(ctx, citation)
		require.NoError(t, err)
		assert.Equal(t, "justice as fairness a restatement", result.NormalizedTitle)
		assert.Equal(t, 1, result.EncounterCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost unique index race maps to already exists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		citation := newTestCitation()

		// ON CONFLICT DO NOTHING scans no row when another insert won.
		mock.ExpectQuery("INSERT INTO citations").
			WithArgs(
				pgxmock.AnyArg(), citation.PaperID, citation.EditionID, citation.ExternalID,
				citation.Title, citation.NormalizedTitle, citation.Year,
				citation.EncounterCount, citation.IntersectionCount,
				citation.NeedsReview, citation.ReviewNotes, pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}))

		result, err := repo.Create(ctx, citation)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects citation without edition", func(t *testing.T) {
		repo := NewPgCitationRepository(nil)
		citation := newTestCitation()
		citation.EditionID = uuid.Nil

		result, err := repo.Create(ctx, citation)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgCitationRepository_Find(t *testing.T) {
	ctx := context.Background()

	t.Run("finds by external id within one paper", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		citation := newTestCitation()

		mock.ExpectQuery("SELECT (.+) FROM citations WHERE paper_id = \\$1 AND external_id").
			WithArgs(citation.PaperID, citation.ExternalID).
			WillReturnRows(citationRows(citation))

		result, err := repo.FindByExternalID(ctx, citation.PaperID, citation.ExternalID)
		require.NoError(t, err)
		assert.Equal(t, citation.ID, result.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finds by normalized title within one paper", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		citation := newTestCitation()
		citation.ExternalID = ""

		mock.ExpectQuery("SELECT (.+) FROM citations WHERE paper_id = \\$1 AND normalized_title").
			WithArgs(citation.PaperID, citation.NormalizedTitle).
			WillReturnRows(citationRows(citation))

		result, err := repo.FindByNormalizedTitle(ctx, citation.PaperID, citation.NormalizedTitle)
		require.NoError(t, err)
		assert.False(t, result.HasExternalID())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found when no match", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		paperID := uuid.New()

		mock.ExpectQuery("SELECT (.+) FROM citations WHERE paper_id = \\$1 AND external_id").
			WithArgs(paperID, "X999").
			WillReturnRows(citationRows())

		result, err := repo.FindByExternalID(ctx, paperID, "X999")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects empty lookup keys", func(t *testing.T) {
		repo := NewPgCitationRepository(nil)

		_, err := repo.FindByExternalID(ctx, uuid.New(), "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = repo.FindByNormalizedTitle(ctx, uuid.New(), "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgCitationRepository_AddEncounters(t *testing.T) {
	ctx := context.Background()

	t.Run("adds delta to encounter count", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE citations SET encounter_count").
			WithArgs(id, 2).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.AddEncounters(ctx, id, 2)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive delta", func(t *testing.T) {
		repo := NewPgCitationRepository(nil)

		err := repo.AddEncounters(ctx, uuid.New(), 0)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgCitationRepository_Repoint(t *testing.T) {
	ctx := context.Background()

	t.Run("moves citation to the canonical edition", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		id, editionID, paperID := uuid.New(), uuid.New(), uuid.New()

		mock.ExpectExec("UPDATE citations SET edition_id").
			WithArgs(id, editionID, paperID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.Repoint(ctx, id, editionID, paperID)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing citation", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgCitationRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE citations SET edition_id").
			WithArgs(id, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.Repoint(ctx, id, uuid.New(), uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgCitationRepository_Delete(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgCitationRepository(mock)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM citations").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err = repo.Delete(ctx, id)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCitationRepository_CountByEdition(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgCitationRepository(mock)
	editionID := uuid.New()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM citations WHERE edition_id").
		WithArgs(editionID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	count, err := repo.CountByEdition(ctx, editionID)
	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

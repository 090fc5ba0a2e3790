package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTargetStatusIsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   TargetStatus
		terminal bool
	}{
		{"pending is not terminal", TargetStatusPending, false},
		{"in_progress is not terminal", TargetStatusInProgress, false},
		{"complete is terminal", TargetStatusComplete, true},
		{"stalled is terminal", TargetStatusStalled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestYearScopeContains(t *testing.T) {
	tests := []struct {
		name  string
		scope YearScope
		year  int
		want  bool
	}{
		{"inside bounded range", YearScope{Low: 2010, High: 2020}, 2015, true},
		{"below range", YearScope{Low: 2010, High: 2020}, 2009, false},
		{"above range", YearScope{Low: 2010, High: 2020}, 2021, false},
		{"at low bound", YearScope{Low: 2010, High: 2020}, 2010, true},
		{"at high bound", YearScope{Low: 2010, High: 2020}, 2020, true},
		{"open scope contains everything", YearScope{}, 1850, true},
		{"open low bound", YearScope{High: 2000}, 1900, true},
		{"open high bound", YearScope{Low: 2000}, 2100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.Contains(tt.year))
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"lowercases", "On The Origin Of Species", "on the origin of species"},
		{"strips punctuation", "Trees, and other hierarchies: a survey.", "trees and other hierarchies a survey"},
		{"collapses whitespace", "a    b\t\tc", "a b c"},
		{"keeps digits", "Revision 2: updated results", "revision 2 updated results"},
		{"unicode letters survive", "Über die Hypothesen", "über die hypothesen"},
		{"empty input", "", ""},
		{"punctuation only", "?!...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTitle(tt.title))
		})
	}
}

func TestKeyFor(t *testing.T) {
	paperID := uuid.New()

	t.Run("external id wins when present", func(t *testing.T) {
		c := &Citation{PaperID: paperID, ExternalID: "X123", NormalizedTitle: "some title"}
		key := KeyFor(c)
		assert.Equal(t, "X123", key.ExternalID)
		assert.Empty(t, key.Title)
	})

	t.Run("falls back to normalized title", func(t *testing.T) {
		c := &Citation{PaperID: paperID, NormalizedTitle: "some title"}
		key := KeyFor(c)
		assert.Empty(t, key.ExternalID)
		assert.Equal(t, "some title", key.Title)
	})

	t.Run("same external id yields same key across titles", func(t *testing.T) {
		a := &Citation{PaperID: paperID, ExternalID: "X123", NormalizedTitle: "title a"}
		b := &Citation{PaperID: paperID, ExternalID: "X123", NormalizedTitle: "title b"}
		assert.Equal(t, KeyFor(a), KeyFor(b))
	})
}

func TestHarvestTargetRemaining(t *testing.T) {
	target := &HarvestTarget{ExpectedCount: 500, ActualCount: 320}
	assert.Equal(t, 180, target.Remaining())

	// Source estimates can shrink below what was already harvested.
	target.ExpectedCount = 300
	assert.Equal(t, -20, target.Remaining())
}

func TestPaperIsDeleted(t *testing.T) {
	p := &Paper{ID: uuid.New(), Title: "tracked work"}
	assert.False(t, p.IsDeleted())

	now := time.Now().UTC()
	p.DeletedAt = &now
	assert.True(t, p.IsDeleted())
}

func TestErrorUnwrapping(t *testing.T) {
	t.Run("transient fetch", func(t *testing.T) {
		err := &TransientFetchError{Source: "scholar", Offset: 40, Cause: errors.New("boom")}
		assert.ErrorIs(t, err, ErrTransientFetch)
		assert.Contains(t, err.Error(), "offset 40")
	})

	t.Run("source blocked", func(t *testing.T) {
		err := &SourceBlockedError{Source: "scholar", RetryAfter: time.Minute}
		assert.ErrorIs(t, err, ErrSourceBlocked)
	})

	t.Run("parse", func(t *testing.T) {
		err := &ParseError{Source: "scholar", Offset: 0, Cause: errors.New("bad html")}
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("integrity", func(t *testing.T) {
		err := &IntegrityError{Entity: "edition", ID: uuid.New(), Detail: "merge cycle"}
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("duplicate resolution", func(t *testing.T) {
		err := &DuplicateResolutionError{PaperID: uuid.New(), ExistingID: uuid.New(), Detail: "title matches, ids differ"}
		assert.ErrorIs(t, err, ErrDuplicateResolution)
	})

	t.Run("validation wraps invalid input", func(t *testing.T) {
		err := NewValidationError("expected_count", "must be non-negative")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

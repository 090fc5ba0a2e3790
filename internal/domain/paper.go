package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Paper represents a tracked publication whose citing records are harvested.
type Paper struct {
	ID uuid.UUID

	Title string

	// SourceCitationCount is the citation total the external source reports
	// for this work. It counts encounters, not distinct citing works, so it
	// reconciles against summed encounter counts rather than row counts.
	SourceCitationCount int

	// GroupKey clusters related tracked works (e.g. a book and its
	// translations) for reporting.
	GroupKey string

	// DeletedAt marks a soft deletion. Citations of a soft-deleted paper
	// are transiently orphaned until the repair pass re-points them.
	DeletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDeleted reports whether the paper has been soft-deleted.
func (p *Paper) IsDeleted() bool {
	return p.DeletedAt != nil
}

// Edition is a specific published variant of a Paper (translation, reprint)
// with its own external identifier at the citation-index source.
type Edition struct {
	ID      uuid.UUID
	PaperID uuid.UUID

	// ExternalID is the source-side identifier used in search scopes.
	ExternalID string

	Label string

	// MergedInto points at the edition this one was merged into at the
	// source. Chains resolve to a canonical root; cycles are integrity
	// errors.
	MergedInto *uuid.UUID

	// HarvestedCount must equal the live count of citations pointing at
	// this edition. Recomputed by the reconciliation engine.
	HarvestedCount int

	// StallCount is incremented each time a target owned by this edition
	// stalls. Crossing the review threshold flags the edition.
	StallCount  int
	NeedsReview bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsMerged reports whether this edition has been merged into another.
func (e *Edition) IsMerged() bool {
	return e.MergedInto != nil
}

// Citation is one citing record discovered for a tracked paper.
type Citation struct {
	ID        uuid.UUID
	PaperID   uuid.UUID
	EditionID uuid.UUID

	// ExternalID is the source-side record identifier, when the source
	// exposed one. Empty means identity falls back to the normalized title.
	ExternalID string

	Title           string
	NormalizedTitle string
	Year            int

	// EncounterCount is the number of independent observations of this
	// record, e.g. via overlapping partition sub-queries. Always >= 1.
	EncounterCount int

	// IntersectionCount is the number of tracked papers this citing record
	// has been observed against.
	IntersectionCount int

	NeedsReview bool
	ReviewNotes string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasExternalID reports whether the citation carries a source identifier.
func (c *Citation) HasExternalID() bool {
	return c.ExternalID != ""
}

// NormalizeTitle reduces a citing-record title to its dedup form: lowercase,
// punctuation stripped, whitespace collapsed to single spaces. Two records
// without external ids are the same citation iff their normalized titles
// match within one paper.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))

	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				sb.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(sb.String())
}

// CitationKey is the identity of a citing record within one paper:
// the external id when present, otherwise the normalized title.
type CitationKey struct {
	PaperID    uuid.UUID
	ExternalID string
	Title      string
}

// KeyFor derives the dedup identity for a citation.
func KeyFor(c *Citation) CitationKey {
	if c.HasExternalID() {
		return CitationKey{PaperID: c.PaperID, ExternalID: c.ExternalID}
	}
	return CitationKey{PaperID: c.PaperID, Title: c.NormalizedTitle}
}

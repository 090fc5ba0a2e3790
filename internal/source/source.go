// Package source defines the contract with the external citation-index
// search source and provides its HTTP implementation.
//
// The source caps visible results per query and rate-limits access. The
// contract therefore exposes offset-based pagination with a self-reported
// total, and every failure is classified before it reaches the harvester:
//
//   - transient: retried with backoff inside the engine's budget
//   - blocked: opens a process-wide cooldown (blocking is source-wide)
//   - parse: the page fetched but could not be decoded
//   - terminal: aborts the target
//
// The classification lives in the domain error types; callers dispatch with
// errors.Is against domain.ErrTransientFetch, domain.ErrSourceBlocked and
// domain.ErrParse.
package source

import (
	"context"
	"strings"

	"github.com/helixir/citation-harvest-service/internal/domain"
)

// Scope bounds a search to one tracked work variant and a year range.
type Scope struct {
	// WorkID is the source-side identifier of the edition being harvested.
	WorkID string

	// Years restricts results to a publication-year window. Zero bounds
	// are open.
	Years domain.YearScope
}

// Query is an "any of terms" search with negations. The planner uses the
// negation list to keep partition sub-queries disjoint.
type Query struct {
	// Include terms are OR'd together. Empty means no positive filter.
	Include []string

	// Exclude terms are negated. A record matching any excluded term is
	// not returned.
	Exclude []string
}

// Encode renders the query in the source's search syntax: quoted terms
// joined by OR, negations prefixed with a minus.
func (q Query) Encode() string {
	var sb strings.Builder
	for i, term := range q.Include {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteByte('"')
		sb.WriteString(term)
		sb.WriteByte('"')
	}
	for _, term := range q.Exclude {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(`-"`)
		sb.WriteString(term)
		sb.WriteByte('"')
	}
	return sb.String()
}

// IsEmpty reports whether the query has no terms at all.
func (q Query) IsEmpty() bool {
	return len(q.Include) == 0 && len(q.Exclude) == 0
}

// Record is one citing record as returned by the source.
type Record struct {
	// ExternalID is the source-side record identifier. May be empty; the
	// reconciliation engine then falls back to the normalized title.
	ExternalID string

	Title string
	Year  int

	// Snippet is the source's excerpt for the record, kept for review.
	Snippet string
}

// Page is one page of search results.
type Page struct {
	Records []Record

	// ReportedTotal is the source's self-reported total for the query.
	// It is an estimate and may move between pages.
	ReportedTotal int

	// HasMore indicates the source claims further pages exist. The engine
	// treats repeated empty pages as exhaustion regardless.
	HasMore bool
}

// Source is the fetch contract the harvester engine executes against.
type Source interface {
	// Search fetches one page of records citing the scoped work, starting
	// at the given offset. Errors are classified via the domain error
	// types; see the package documentation.
	Search(ctx context.Context, scope Scope, query Query, offset int) (*Page, error)

	// Name returns a human-readable source name for logging and errors.
	Name() string
}

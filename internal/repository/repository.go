// Package repository provides data access interfaces and implementations
// for the citation harvest service.
//
// # Overview
//
// This package defines repository interfaces and their PostgreSQL
// implementations following the repository pattern to abstract data
// persistence from harvest logic.
//
// # Repository Interfaces
//
//   - PaperRepository: tracked works and soft deletion
//   - EditionRepository: published variants and their merge graph
//   - CitationRepository: citing records and encounter accounting
//   - TargetRepository: durable harvest target progress
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple
// goroutines. The underlying pgxpool handles connection pooling and
// synchronization.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package,
// wrapping database errors with fmt.Errorf and the %w verb. Common errors:
//
//   - domain.ErrNotFound: resource does not exist
//   - domain.ErrAlreadyExists: unique constraint violation
//   - domain.ErrInvalidInput: invalid parameters provided
//
// # Transactions
//
// Repositories accept the DBTX interface so the same implementation works
// against the pool or inside a transaction from database.DB.WithTransaction.
// The reconciliation engine relies on this to make merge repair atomic.
package repository

import (
	"github.com/helixir/citation-harvest-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction
// contexts. Repository constructors accept DBTX so a transactional instance
// is just NewPgCitationRepository(tx).
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

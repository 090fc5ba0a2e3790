package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransientFetch indicates a retryable fetch failure (network glitch,
	// 5xx, upstream timeout). Retried with backoff inside the retry budget.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrSourceBlocked indicates the source is refusing the whole process
	// (captcha wall, IP block, hard rate limit). Opens a process-wide
	// cooldown rather than a per-request retry.
	ErrSourceBlocked = errors.New("source blocked")

	// ErrParse indicates a page fetched but could not be parsed.
	ErrParse = errors.New("parse failure")

	// ErrTargetClaimed indicates another harvester holds the claim on a
	// target. The caller skips the target; it is not an error condition.
	ErrTargetClaimed = errors.New("target claimed by another harvester")

	// ErrIntegrity indicates a data-integrity violation (cyclic merge chain,
	// missing merge target). Fatal: surfaced, never auto-recovered.
	ErrIntegrity = errors.New("integrity violation")

	// ErrDuplicateResolution indicates an ambiguous dedup match that must not
	// be auto-merged.
	ErrDuplicateResolution = errors.New("ambiguous duplicate")

	// ErrCancelled indicates an operation was cancelled by the operator.
	ErrCancelled = errors.New("cancelled")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// TransientFetchError wraps a retryable failure with its fetch position so
// the tracker can detect repeated failures at the same offset.
type TransientFetchError struct {
	Source string
	Offset int
	Cause  error
}

// Error implements the error interface.
func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure from %s at offset %d: %v", e.Source, e.Offset, e.Cause)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *TransientFetchError) Unwrap() error {
	return ErrTransientFetch
}

// SourceBlockedError reports a source-wide block with an optional
// source-suggested cooldown.
type SourceBlockedError struct {
	Source     string
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *SourceBlockedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s blocked the harvester: retry after %s", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("%s blocked the harvester", e.Source)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *SourceBlockedError) Unwrap() error {
	return ErrSourceBlocked
}

// ParseError reports a page that fetched but could not be decoded.
type ParseError struct {
	Source string
	Offset int
	Cause  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure from %s at offset %d: %v", e.Source, e.Offset, e.Cause)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ParseError) Unwrap() error {
	return ErrParse
}

// IntegrityError reports a fatal inconsistency in the entity graph.
type IntegrityError struct {
	Entity string
	ID     uuid.UUID
	Detail string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s %s: %s", e.Entity, e.ID, e.Detail)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// DuplicateResolutionError reports a dedup match that is ambiguous: the
// incoming record matches an existing citation by one identity facet but
// contradicts it on another. Recorded for review, never auto-merged.
type DuplicateResolutionError struct {
	PaperID    uuid.UUID
	ExistingID uuid.UUID
	Detail     string
}

// Error implements the error interface.
func (e *DuplicateResolutionError) Error() string {
	return fmt.Sprintf("ambiguous duplicate for paper %s (existing citation %s): %s", e.PaperID, e.ExistingID, e.Detail)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *DuplicateResolutionError) Unwrap() error {
	return ErrDuplicateResolution
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

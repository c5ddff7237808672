package keel

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors.
var (
	// ErrNoDriver is returned when a client without a configured driver
	// attempts to execute a batch.
	ErrNoDriver = errors.New("keel: no driver configured")

	// ErrTxStarted is returned when attempting to bind a transaction to
	// a client that already holds one.
	ErrTxStarted = errors.New("keel: cannot start a transaction within a transaction")
)

// ValidationError reports a subject that failed pre-flight validation.
// No statement has been issued when it is returned.
type ValidationError struct {
	Entity string // entity name
	Name   string // offending column or relation property
	Reason string
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("keel: validation failed for %s.%s: %s", e.Entity, e.Name, e.Reason)
	}
	return fmt.Sprintf("keel: validation failed for %s: %s", e.Entity, e.Reason)
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// OptimisticLockError reports an update whose version predicate did not
// match the stored row, either detected pre-flight against the loaded
// snapshot or by an UPDATE affecting zero rows.
type OptimisticLockError struct {
	Entity string // entity name
	ID     any    // primary key of the conflicting row
}

// Error returns the error string.
func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("keel: optimistic lock on %s (id=%v): version does not match stored row", e.Entity, e.ID)
}

// IsOptimisticLockError returns true if the error is an OptimisticLockError.
func IsOptimisticLockError(err error) bool {
	if err == nil {
		return false
	}
	var e *OptimisticLockError
	return errors.As(err, &e)
}

// CycleError reports a dependency cycle that cannot be resolved by
// deferring nullable foreign-key columns.
type CycleError struct {
	Entities []string // entity names participating in the cycle
}

// Error returns the error string.
func (e *CycleError) Error() string {
	return fmt.Sprintf("keel: unresolvable dependency cycle between %s: every edge is non-nullable", strings.Join(e.Entities, ", "))
}

// IsCycleError returns true if the error is a CycleError.
func IsCycleError(err error) bool {
	if err == nil {
		return false
	}
	var e *CycleError
	return errors.As(err, &e)
}

// QueryFailedError wraps a statement the driver rejected, together with
// the statement text and its arguments.
type QueryFailedError struct {
	Entity string // entity name
	Op     string // "insert", "update" or "remove"
	Query  string
	Args   []any
	Err    error
}

// Error returns the error string.
func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("keel: %s %s: %v (query=%q args=%v)", e.Op, e.Entity, e.Err, e.Query, e.Args)
}

// Unwrap returns the underlying driver error.
func (e *QueryFailedError) Unwrap() error {
	return e.Err
}

// IsQueryFailedError returns true if the error is a QueryFailedError.
func IsQueryFailedError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryFailedError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred while rolling back a
// failed batch. It is always joined with the error that triggered
// the rollback.
type RollbackError struct {
	Err error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("keel: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

package sql

import (
	"errors"
	"strings"
)

// ConstraintKind classifies a driver error as a database constraint
// violation. The zero value means the error is not constraint-related.
type ConstraintKind int

// Constraint kinds reported by ConstraintKindOf.
const (
	ConstraintNone ConstraintKind = iota
	ConstraintUnique
	ConstraintForeignKey
	ConstraintCheck
)

// String returns the kind name as used in error messages.
func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign-key"
	case ConstraintCheck:
		return "check"
	default:
		return "none"
	}
}

// errorCoder is implemented by database errors that expose a string
// error code, e.g. pq.Error.
type errorCoder interface {
	Code() string
}

// errorNumberer is implemented by database errors that expose a numeric
// error code, e.g. mysql.MySQLError.
type errorNumberer interface {
	Number() uint16
}

// sqlStateError is implemented by errors that expose a SQLSTATE code,
// e.g. pgx and lib/pq errors.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row.
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row.
	mysqlCheckConstraintViolate = 3819
)

// ConstraintKindOf inspects the error chain and classifies the error as
// a constraint violation, falling back to driver message matching for
// drivers that do not implement the code interfaces.
func ConstraintKindOf(err error) ConstraintKind {
	if err == nil {
		return ConstraintNone
	}
	if state, ok := stateOf(err); ok {
		switch state {
		case pgUniqueViolation:
			return ConstraintUnique
		case pgForeignKeyViolation:
			return ConstraintForeignKey
		case pgCheckViolation:
			return ConstraintCheck
		}
	}
	if e, ok := asError[errorNumberer](err); ok {
		switch e.Number() {
		case mysqlDuplicateEntry:
			return ConstraintUnique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return ConstraintForeignKey
		case mysqlCheckConstraintViolate:
			return ConstraintCheck
		}
	}
	msg := err.Error()
	switch {
	case containsAny(msg,
		"Error 1062",                 // MySQL
		"violates unique constraint", // Postgres
		"UNIQUE constraint failed",   // SQLite
	):
		return ConstraintUnique
	case containsAny(msg,
		"Error 1451",                      // MySQL
		"Error 1452",                      // MySQL
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	):
		return ConstraintForeignKey
	case containsAny(msg,
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	):
		return ConstraintCheck
	}
	return ConstraintNone
}

// IsConstraintError reports whether the error resulted from any
// database constraint violation.
func IsConstraintError(err error) bool {
	return ConstraintKindOf(err) != ConstraintNone
}

// IsUniqueConstraintError reports whether the error resulted from a
// uniqueness constraint violation, e.g. a duplicate value in a unique index.
func IsUniqueConstraintError(err error) bool {
	return ConstraintKindOf(err) == ConstraintUnique
}

// IsForeignKeyConstraintError reports whether the error resulted from a
// foreign-key constraint violation, e.g. a missing parent row.
func IsForeignKeyConstraintError(err error) bool {
	return ConstraintKindOf(err) == ConstraintForeignKey
}

func stateOf(err error) (string, bool) {
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState(), true
	}
	if e, ok := asError[errorCoder](err); ok {
		return e.Code(), true
	}
	return "", false
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

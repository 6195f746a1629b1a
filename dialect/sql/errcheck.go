package sql

import (
	"errors"
	"strings"
)

// errorCoder is an interface for database errors that provide error codes.
// Implemented by: pq.Error, pgx, modernc.org/sqlite, etc.
type errorCoder interface {
	Code() string
}

// errorNumberer is an interface for database errors that provide numeric
// error codes. Implemented by: mysql.MySQLError (Number field via method).
type errorNumberer interface {
	Number() uint16
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by: pq.Error, pgx, and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlNoWaitLock      = 3572 // NOWAIT lock request aborted
)

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness
// constraint violation, e.g. a duplicate value in a unique index. Save uses
// it to surface concurrent first-insert races as constraint errors.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgUniqueViolation {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgUniqueViolation {
		return true
	}
	if e, ok := asError[errorNumberer](err); ok && e.Number() == mysqlDuplicateEntry {
		return true
	}
	// Fallback to string matching for drivers that don't implement interfaces.
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL
		"violates unique constraint", // Postgres
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsLockContentionError reports if the error resulted from row-lock
// contention raised by a backend that errors instead of blocking. The
// sequencer retries allocations on exactly this condition rather than
// propagating it.
func IsLockContentionError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgLockNotAvailable {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgLockNotAvailable {
		return true
	}
	if e, ok := asError[errorNumberer](err); ok {
		switch e.Number() {
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlNoWaitLock:
			return true
		}
	}
	// Fallback to string matching for drivers that don't implement interfaces.
	return containsAny(err.Error(),
		"Error 1205",                 // MySQL lock wait timeout
		"Error 1213",                 // MySQL deadlock
		"could not obtain lock",      // Postgres NOWAIT
		"Lock wait timeout exceeded", // MySQL message form
		"database is locked",         // SQLite
		"row is locked",              // generic embedded backends
	)
}

// asError attempts to extract an error implementing interface T from the
// error chain.
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

package database

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// DBError represents a database operation error with context
type DBError struct {
	Operation string
	Err       error
}

// Error implements the error interface
func (e *DBError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DBError) Unwrap() error {
	return e.Err
}

// WrapDBError wraps a database error with operation context
func WrapDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{Operation: operation, Err: err}
}

// PersistenceError is returned once a gateway call has exhausted its retries
type PersistenceError struct {
	Operation string
	Attempts  int
	Err       error
}

// Error implements the error interface
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

// Unwrap returns the underlying error
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ValidationError rejects input before it reaches the store
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Reason)
}

// IsRetryable reports whether a store error may succeed on another attempt.
// Constraint, data and syntax errors from Postgres are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return false
		}
	}
	return true
}

package storage

import (
	"errors"
	"fmt"
)

// Domain errors for storage operations.
var (
	// ErrNotFound is returned when a query targeted a non-existent live document.
	ErrNotFound = errors.New("item not found")

	// ErrDuplicate is returned when a uniqueness constraint was violated.
	ErrDuplicate = errors.New("duplicate item")

	// ErrInvalidOperation is returned for structurally disallowed changes.
	ErrInvalidOperation = errors.New("invalid storage operation")

	// ErrUnexpected wraps any backend failure not classified otherwise.
	ErrUnexpected = errors.New("unexpected storage error")

	// ErrCapacityExceeded is returned when a drained result exceeds its limit.
	ErrCapacityExceeded = errors.New("result capacity exceeded")

	// ErrMissingUser is returned when a partitioned collection is accessed
	// without a user.
	ErrMissingUser = errors.New("user is required for partitioned collection")
)

// DuplicateError reports which logical index a write collided with.
type DuplicateError struct {
	// Collection is the collection the write targeted.
	Collection string
	// Index is the physical index name reported by the backend.
	Index string
	// Field is the logical field guarded by the index ("id" for the
	// primary key).
	Field string
	// Err is the backend error.
	Err error
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s in %s (index %s)", e.Field, e.Collection, e.Index)
}

// Unwrap returns the backend error.
func (e *DuplicateError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDuplicate) hold.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// IsDuplicateIndex reports whether the violated index guards the field.
func (e *DuplicateError) IsDuplicateIndex(field string) bool {
	return e.Field == field
}

// AsDuplicate extracts a DuplicateError from an error chain.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// InvalidOperation builds an ErrInvalidOperation with context.
func InvalidOperation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// Unexpected wraps a backend failure.
func Unexpected(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrUnexpected, err)
}

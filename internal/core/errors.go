package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a malformed parameter passed by a caller, such as
	// a non-positive window or a negative count.
	ErrInvalidInput = errors.New("invalid input")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
)

// InvalidInput wraps ErrInvalidInput with a formatted detail.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// UnparseableRecordError reports a single transaction whose date could not be
// read. It is collected, not propagated: one bad record must not blank a view.
type UnparseableRecordError struct {
	ID   string
	Date string
	Err  error
}

func (e *UnparseableRecordError) Error() string {
	return fmt.Sprintf("transaction %q: unparseable date %q: %v", e.ID, e.Date, e.Err)
}

func (e *UnparseableRecordError) Unwrap() error {
	return e.Err
}

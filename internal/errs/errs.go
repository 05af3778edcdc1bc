// Package errs defines the error taxonomy shared by every pipeline stage.
//
// Row-local errors (schema, referential, normalization) exclude a single row
// from the load set and are counted; the remaining errors are fatal for a
// table unit or for the whole run. Callers classify with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaViolation marks a missing or out-of-range field.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrReferentialViolation marks an order whose product is unknown.
	ErrReferentialViolation = errors.New("referential violation")

	// ErrNormalization marks a raw value that could not be coerced.
	ErrNormalization = errors.New("normalization error")

	// ErrStoreUnavailable is returned once the store retry budget is spent.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConstraintViolation is an unexpected store-side constraint failure.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrQualityThresholdExceeded trips when too many rows were rejected.
	ErrQualityThresholdExceeded = errors.New("quality threshold exceeded")

	// ErrSourceUnreadable wraps failures to open or parse an input file.
	ErrSourceUnreadable = errors.New("source unreadable")
)

// NormalizationError reports a field value that failed type coercion.
type NormalizationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %q: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is(err, ErrNormalization) match.
func (e *NormalizationError) Unwrap() error { return ErrNormalization }

// StoreError attaches the table unit that failed to a fatal store error.
type StoreError struct {
	Table string
	Err   error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Table, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Fatal reports whether err must stop the run.
func Fatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSchemaViolation),
		errors.Is(err, ErrReferentialViolation),
		errors.Is(err, ErrNormalization):
		return false
	default:
		return true
	}
}

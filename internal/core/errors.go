package core

import (
	"errors"
	"fmt"
)

// The engine rejects every bad operation before any mutation, with a typed
// error whose Reason is suitable for direct display.

// ValidationError reports malformed input: unbalanced postings, bad
// formulas, missing required fields.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ReferenceError reports an unknown or unmapped reference: missing account,
// unmapped default-account role, account outside the fiscal year.
type ReferenceError struct {
	Reason string
}

func (e *ReferenceError) Error() string { return e.Reason }

// ConflictError reports an operation blocked by current state: mutating a
// locked verification, deleting an account with activity or references.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// ConcurrencyError reports sequence-number contention that persisted
// through internal retries. Callers normally never see it.
type ConcurrencyError struct {
	Reason string
}

func (e *ConcurrencyError) Error() string { return e.Reason }

func validationErrf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func referenceErrf(format string, args ...any) error {
	return &ReferenceError{Reason: fmt.Sprintf(format, args...)}
}

func conflictErrf(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsReference reports whether err is (or wraps) a ReferenceError.
func IsReference(err error) bool {
	var re *ReferenceError
	return errors.As(err, &re)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

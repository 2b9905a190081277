package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// FormatError covers structural upload failures: missing file, wrong
// extension, workbook that excelize cannot open.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return e.Reason }

func NewFormatError(format string, args ...interface{}) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a candidate target range overlapping an existing
// period for the same customer. It carries the conflicting period so the
// caller can tell the user which one.
type ConflictError struct {
	PeriodNumber int
	StartDate    string
	EndDate      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("date range conflicts with period %d (%s to %s)",
		e.PeriodNumber, e.StartDate, e.EndDate)
}

// ValidationError covers bad caller input: missing customer selection,
// missing dates, non-numeric amounts, duplicate names.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StoreError wraps persistence failures so callers can distinguish them
// from domain validation outcomes.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return "store error: " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func WrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Err: err}
}

package models

import (
	"errors"
	"fmt"
)

// Errors returned by the monitoring pipeline. Callers match them with errors.Is.
var (
	// ErrInvalidReading a reading failed validation; nothing was written.
	ErrInvalidReading = errors.New("invalid reading")
	// ErrInvalidPatient a registration payload failed validation.
	ErrInvalidPatient = errors.New("invalid patient")
	// ErrUnknownPatient the patient id does not resolve.
	ErrUnknownPatient = errors.New("unknown patient")
	// ErrStoreUnavailable the document store failed or timed out. The core never retries.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSubscriptionLost a live stream ended without being cancelled.
	ErrSubscriptionLost = errors.New("subscription lost")
)

// FieldError describes which field made a payload invalid.
type FieldError struct {
	Field  string
	Reason string
	kind   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.kind, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return e.kind }

func readingError(field, reason string) *FieldError {
	return &FieldError{Field: field, Reason: reason, kind: ErrInvalidReading}
}

func patientError(field, reason string) *FieldError {
	return &FieldError{Field: field, Reason: reason, kind: ErrInvalidPatient}
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"KronosCast/internal/services/normalizer"
	"KronosCast/internal/services/security"
)

// Typed pipeline errors. Each exposes Kind(), which is stored as the failed record's error_kind.

type (
	InvalidSecurityError = security.InvalidSecurityError
	NormalizationError   = normalizer.NormalizationError
)

type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

func (e *ValidationError) Kind() string { return "ValidationError" }

type InsufficientHistoryError struct {
	Need int
	Got  int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient data: need at least %d days, got %d days", e.Need, e.Got)
}

func (e *InsufficientHistoryError) Kind() string { return "InsufficientHistoryError" }

// AdapterError wraps any failure returned by the predictor.
type AdapterError struct {
	Err error
}

func (e *AdapterError) Error() string { return "prediction failed: " + e.Err.Error() }

func (e *AdapterError) Unwrap() error { return e.Err }

func (e *AdapterError) Kind() string { return "AdapterError" }

// InsufficientRealizedDataError means the accuracy window has not elapsed or is underpopulated.
type InsufficientRealizedDataError struct {
	DaysPassed int
	TotalDays  int
	Available  int
}

func (e *InsufficientRealizedDataError) Error() string {
	if e.DaysPassed < e.TotalDays {
		return fmt.Sprintf("prediction window not elapsed: %d of %d trading days passed", e.DaysPassed, e.TotalDays)
	}
	return fmt.Sprintf("insufficient realized data: %d of %d points available", e.Available, e.TotalDays)
}

func (e *InsufficientRealizedDataError) Kind() string { return "InsufficientRealizedDataError" }

type kinded interface{ Kind() string }

// KindOf returns the typed kind of err, or "InternalError" for untyped errors.
func KindOf(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "InternalError"
}

// IsAbandoned reports whether the caller cancelled a prediction after its record was created.
func IsAbandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsRejection reports whether err was raised before any record was persisted.
func IsRejection(err error) bool {
	var ve *ValidationError
	var se *InvalidSecurityError
	return errors.As(err, &ve) || errors.As(err, &se)
}

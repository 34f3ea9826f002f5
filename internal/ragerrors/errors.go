// Package ragerrors provides the error taxonomy for the query pipeline: typed sentinel
// errors, classification of raw provider failures, and stable kind labels for callers.
package ragerrors

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind is a stable, caller-visible error label.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindTransient      Kind = "transient_provider_error"
	KindPermanent      Kind = "permanent_provider_error"
	KindRetryExhausted Kind = "retry_exhausted"
	KindQueryTimeout   Kind = "query_timeout"
	KindInternal       Kind = "internal_error"
)

// Pipeline stages used to label provider errors.
const (
	StageEmbedding  = "embedding"
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
	StageQuery      = "query"
	StageIngest     = "ingest"
)

// ErrValidation matches any *ValidationError.
var ErrValidation = &ValidationError{}

// ValidationError reports bad input shape or size. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}
	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ErrTransient matches any *TransientError.
var ErrTransient = &TransientError{}

// TransientError wraps a provider failure that is expected to succeed on retry
// (timeout, rate limit, network, 5xx-like).
type TransientError struct {
	Stage string
	Err   error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient provider error"
	}
	return fmt.Sprintf("%s: transient provider error: %v", e.Stage, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *TransientError) Is(target error) bool {
	_, ok := target.(*TransientError)
	return ok
}

// ErrPermanent matches any *PermanentError.
var ErrPermanent = &PermanentError{}

// PermanentError wraps a malformed or unusable provider response. It is not retried.
type PermanentError struct {
	Stage string
	Err   error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent provider error"
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *PermanentError) Is(target error) bool {
	_, ok := target.(*PermanentError)
	return ok
}

// ErrRetryExhausted matches any *RetryExhaustedError.
var ErrRetryExhausted = &RetryExhaustedError{}

// RetryExhaustedError carries the last underlying error after every attempt failed.
type RetryExhaustedError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	if e.Err == nil {
		return "retries exhausted"
	}
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *RetryExhaustedError) Is(target error) bool {
	_, ok := target.(*RetryExhaustedError)
	return ok
}

// ErrQueryTimeout matches any *QueryTimeoutError.
var ErrQueryTimeout = &QueryTimeoutError{}

// QueryTimeoutError reports that a query ran past its overall deadline.
type QueryTimeoutError struct {
	Attempts int
	Err      error
}

func (e *QueryTimeoutError) Error() string {
	msg := "query timed out"
	if e.Attempts > 0 {
		msg += " after " + strconv.Itoa(e.Attempts) + " attempt(s)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *QueryTimeoutError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *QueryTimeoutError) Is(target error) bool {
	_, ok := target.(*QueryTimeoutError)
	return ok
}

// Transient wraps err as a TransientError for stage.
func Transient(stage string, err error) error {
	return &TransientError{Stage: stage, Err: err}
}

// Permanent wraps err as a PermanentError for stage.
func Permanent(stage string, err error) error {
	return &PermanentError{Stage: stage, Err: err}
}

// IsRetryable reports whether err should restart an operation.
// Exhausted retries, validation and permanent failures are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRetryExhausted), errors.Is(err, ErrValidation),
		errors.Is(err, ErrPermanent), errors.Is(err, ErrQueryTimeout):
		return false
	}
	return errors.Is(err, ErrTransient)
}

// KindOf returns the stable label for err. Checks run from the outermost wrapper
// inward, so a RetryExhausted wrapping a transient error reports retry_exhausted.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQueryTimeout):
		return KindQueryTimeout
	case errors.Is(err, ErrRetryExhausted):
		return KindRetryExhausted
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindInternal
	}
}

package ragerrors

import (
	"context"
	"errors"
	"strings"
)

// transientSignatures are lowercase message fragments of failures worth retrying.
var transientSignatures = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"ratelimit",
	"too many requests",
	"429",
	"network",
	"connection reset",
	"connection refused",
	"econnreset",
	"econnrefused",
	"broken pipe",
	"no such host",
	"temporarily unavailable",
	"unexpected eof",
	"fetch failed",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"overloaded",
	"database is locked",
	"too many connections",
	"500",
	"502",
	"503",
	"504",
}

// IsTransientMessage reports whether msg matches a known transient failure signature.
func IsTransientMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Classify wraps a raw error from stage as Transient or Permanent. Errors that are
// already classified are returned unchanged. A cancelled context is permanent; an
// expired per-call deadline is transient.
func Classify(stage string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrPermanent) || errors.Is(err, ErrRetryExhausted) ||
		errors.Is(err, ErrQueryTimeout) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return Permanent(stage, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || IsTransientMessage(err.Error()) {
		return Transient(stage, err)
	}
	return Permanent(stage, err)
}

// IsStatusTransient reports whether an HTTP status code from a provider is worth retrying.
func IsStatusTransient(status int) bool {
	return status == 408 || status == 409 || status == 425 || status == 429 || status >= 500
}

// PublicMessage returns a caller-facing message for err without internal detail.
// Validation messages are passed through since they describe the caller's own input.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	stage := stageOf(err)
	switch KindOf(err) {
	case KindQueryTimeout:
		return "The query did not complete within the allowed time."
	case KindRetryExhausted:
		return "The " + stageLabel(stage) + " is unavailable right now; retries were exhausted. Please try again later."
	case KindTransient:
		return "The " + stageLabel(stage) + " is temporarily unavailable. Please try again."
	case KindPermanent:
		return "The " + stageLabel(stage) + " returned an unusable response."
	default:
		return "An internal error occurred while processing the request."
	}
}

func stageOf(err error) string {
	var re *RetryExhaustedError
	if errors.As(err, &re) && re.Stage != "" && re.Stage != StageQuery {
		return re.Stage
	}
	var te *TransientError
	if errors.As(err, &te) {
		return te.Stage
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

func stageLabel(stage string) string {
	switch stage {
	case StageEmbedding:
		return "embedding provider"
	case StageRetrieval:
		return "vector store"
	case StageGeneration:
		return "language model provider"
	case StageIngest:
		return "ingestion service"
	default:
		return "upstream service"
	}
}

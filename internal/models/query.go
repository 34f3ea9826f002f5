package models

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/ragerrors"
)

// QueryRequest is a single question submitted to the pipeline.
type QueryRequest struct {
	Query           string `json:"query"`
	MaxResults      int    `json:"max_results,omitempty"`
	IncludeMetadata bool   `json:"include_metadata,omitempty"`
	DocumentID      string `json:"document_id,omitempty"`
}

// QueryLimits bounds the shape of a QueryRequest.
type QueryLimits struct {
	MaxQueryLength    int
	DefaultMaxResults int
	MaxResults        int
}

// Validate trims the query and checks it against limits. A zero MaxResults is
// replaced by the default. Returns a *ragerrors.ValidationError on bad input.
func (q *QueryRequest) Validate(limits QueryLimits) error {
	q.Query = strings.TrimSpace(q.Query)
	q.DocumentID = strings.TrimSpace(q.DocumentID)
	if q.Query == "" {
		return ragerrors.NewValidationError("query", "query must not be empty")
	}
	if limits.MaxQueryLength > 0 && utf8.RuneCountInString(q.Query) > limits.MaxQueryLength {
		return ragerrors.NewValidationError("query",
			fmt.Sprintf("query must be at most %d characters", limits.MaxQueryLength))
	}
	if q.MaxResults == 0 {
		q.MaxResults = limits.DefaultMaxResults
	}
	if q.MaxResults < 1 || (limits.MaxResults > 0 && q.MaxResults > limits.MaxResults) {
		return ragerrors.NewValidationError("max_results",
			fmt.Sprintf("max_results must be between 1 and %d", limits.MaxResults))
	}
	return nil
}

package models

import "time"

// RetrievalResult is a fragment returned by a similarity search.
// Relevance is 1 - Distance and is not clamped, so it can be negative for poor matches.
type RetrievalResult struct {
	FragmentID       string                 `json:"fragment_id"`
	Text             string                 `json:"text"`
	SourceDocumentID string                 `json:"source_document_id"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Distance         float64                `json:"distance"`
	Relevance        float64                `json:"relevance"`
}

// Answer is the output of answer synthesis.
type Answer struct {
	Text       string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	TokensUsed int     `json:"tokens_used"`
	Model      string  `json:"model,omitempty"`
	// Empty is set when no sources were retrieved and the canned answer was used.
	Empty bool `json:"-"`
}

// QueryResult is the outcome of one processed query.
type QueryResult struct {
	Query            string                 `json:"query"`
	Answer           string                 `json:"answer"`
	Sources          []*RetrievalResult     `json:"sources"`
	Confidence       float64                `json:"confidence"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

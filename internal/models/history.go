package models

import "time"

// HistoryEntry is the trimmed record of a successful query.
type HistoryEntry struct {
	ID               string    `json:"id"`
	Query            string    `json:"query"`
	Answer           string    `json:"answer"`
	SourceCount      int       `json:"source_count"`
	Confidence       float64   `json:"confidence"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	TokensUsed       int       `json:"tokens_used"`
	Timestamp        time.Time `json:"timestamp"`
}

// HistoryPage is a newest-first slice of the query history.
type HistoryPage struct {
	Entries []*HistoryEntry `json:"entries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
}

// Package models defines core data structures for fragments, queries, answers, and bookkeeping.
package models

import "time"

// MetaSourceDocumentID is the reserved filter key that scopes retrieval to one document.
const MetaSourceDocumentID = "source_document_id"

// TextFragment is a bounded slice of a source document's text, the unit of retrieval.
// One fragment maps to exactly one embedding and is immutable after creation.
type TextFragment struct {
	ID               string                 `json:"id" db:"id"`
	Text             string                 `json:"text" db:"text"`
	SourceDocumentID string                 `json:"source_document_id" db:"source_document_id"`
	ChunkIndex       int                    `json:"chunk_index" db:"chunk_index"`
	TotalChunks      int                    `json:"total_chunks" db:"total_chunks"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	Embedding        []float32              `json:"-" db:"-"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	ExpiresAt        time.Time              `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the fragment is past its retention at now.
func (f *TextFragment) Expired(now time.Time) bool {
	return !f.ExpiresAt.After(now)
}

// DocumentInput is the input for ingesting a document as plain text.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	// Source names where the content came from, e.g. a file path.
	Source string `json:"source,omitempty"`
	// TTL overrides the default fragment retention when positive.
	TTL time.Duration `json:"-"`
}

// IngestResult describes a document after ingestion.
type IngestResult struct {
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	Fragments  int       `json:"fragments"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CatalogEntry is a searchable record of an ingested document.
type CatalogEntry struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Source     string    `json:"source,omitempty"`
	Fragments  int       `json:"fragments"`
	IngestedAt time.Time `json:"ingested_at"`
	Score      float64   `json:"score,omitempty"`
}

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func sampleResult() *models.QueryResult {
	return &models.QueryResult{
		Query:  "When is the launch?",
		Answer: "The launch is planned for March.",
		Sources: []*models.RetrievalResult{
			{
				FragmentID:       "notes_0",
				Text:             "The launch\nis planned   for March.",
				SourceDocumentID: "notes",
				Metadata:         map[string]interface{}{"title": "Launch notes"},
				Relevance:        0.82,
			},
			{FragmentID: "misc_0", Text: strings.Repeat("word ", 100), SourceDocumentID: "misc", Relevance: 0.4},
		},
		Confidence:       0.61,
		ProcessingTimeMs: 42,
		CreatedAt:        time.Now(),
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "JSON": OutputJSON, " json ": OutputJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("ParseFormat(yaml) should fail")
	}
}

func TestWriteAnswer_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleResult(), OutputJSON); err != nil {
		t.Fatalf("WriteAnswer(json): %v", err)
	}
	var decoded models.QueryResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Answer != "The launch is planned for March." || len(decoded.Sources) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteAnswer_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleResult(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"The launch is planned for March.",
		"confidence 0.61 | 2 sources | 42ms",
		"[1] Launch notes (relevance 0.820)",
		"The launch is planned for March.\n",
		"[2] misc",
		"...",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteBatch_text(t *testing.T) {
	res := &models.BatchResponse{
		Total: 2, Succeeded: 1, Failed: 1,
		Results: []*models.BatchItem{
			{Index: 0, Status: models.BatchStatusOK, Query: "q1", Result: sampleResult()},
			{Index: 1, Status: models.BatchStatusFailed, Query: "q2",
				Error: &models.ErrorInfo{Kind: "validation_error", Message: "query must not be empty"}},
		},
	}
	var buf bytes.Buffer
	if err := WriteBatch(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"2 queries: 1 succeeded, 1 failed", "#1 q1", "#2 q2", "failed: query must not be empty (validation_error)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "#1 q1") > strings.Index(out, "#2 q2") {
		t.Error("batch items out of order")
	}
}

func TestWriteStats_text(t *testing.T) {
	st := models.Stats{
		Metrics:       models.PerformanceMetrics{TotalQueries: 4, SuccessfulQueries: 3, FailedQueries: 1, AverageConfidence: 0.5},
		SuccessRate:   0.75,
		UptimeSeconds: 90,
		HistorySize:   3,
		HistoryCap:    1000,
		Embedding:     models.EmbeddingStats{Provider: "mock", CacheSize: 5, CacheCapacity: 1000, CacheHits: 2, CacheMisses: 5},
	}
	var buf bytes.Buffer
	if err := WriteStats(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"4 (3 ok, 1 failed)", "75.0%", "1m30s", "3/1000", "provider:           mock", "5/1000 (2 hits, 5 misses)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteHistory_and_documents(t *testing.T) {
	page := models.HistoryPage{Total: 5, Limit: 1, Entries: []*models.HistoryEntry{
		{ID: "h1", Query: "latest?", Answer: "yes", Confidence: 0.9, SourceCount: 2, Timestamp: time.Now()},
	}}
	var buf bytes.Buffer
	if err := WriteHistory(&buf, page, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "showing 1 of 5 queries") || !strings.Contains(buf.String(), "latest?") {
		t.Errorf("history output:\n%s", buf.String())
	}

	buf.Reset()
	docs := []*models.CatalogEntry{{ID: "file_ab12", Title: "", Fragments: 3, IngestedAt: time.Now()}}
	if err := WriteDocuments(&buf, docs, 1, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "(untitled)") || !strings.Contains(buf.String(), "file_ab12") {
		t.Errorf("documents output:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteDocuments(&buf, docs, 1, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded.Total != 1 {
		t.Errorf("documents json = %s (%v)", buf.String(), err)
	}
}

func TestWriteIngest(t *testing.T) {
	var buf bytes.Buffer
	res := &models.IngestResult{DocumentID: "notes", Fragments: 4, ExpiresAt: time.Now().Add(time.Hour)}
	if err := WriteIngest(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "ingested notes: 4 fragments") {
		t.Errorf("ingest output = %q", buf.String())
	}
}

// Package cli provides output formatting and an API client for the kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat returns the OutputFormat named by s.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// sourcePreviewLen bounds how much of each source fragment text output shows.
const sourcePreviewLen = 160

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes a query result.
func WriteAnswer(w io.Writer, res *models.QueryResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "\n%s\n\n", res.Answer)
	fmt.Fprintf(w, "confidence %.2f | %d sources | %dms\n", res.Confidence, len(res.Sources), res.ProcessingTimeMs)
	for i, src := range res.Sources {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "[%d] %s (relevance %.3f)\n", i+1, sourceLabel(src), src.Relevance)
		fmt.Fprintf(w, "%s\n", utils.Truncate(oneLine(src.Text), sourcePreviewLen))
	}
	return nil
}

// WriteBatch writes a batch response, one block per query in input order.
func WriteBatch(w io.Writer, res *models.BatchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "\n%d queries: %d succeeded, %d failed\n", res.Total, res.Succeeded, res.Failed)
	for _, item := range res.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d %s\n", item.Index+1, item.Query)
		switch {
		case item.Result != nil:
			fmt.Fprintf(w, "%s\n(confidence %.2f, %d sources)\n",
				item.Result.Answer, item.Result.Confidence, len(item.Result.Sources))
		case item.Error != nil:
			fmt.Fprintf(w, "failed: %s (%s)\n", item.Error.Message, item.Error.Kind)
		}
	}
	return nil
}

// WriteStats writes a stats snapshot.
func WriteStats(w io.Writer, st models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	m := st.Metrics
	fmt.Fprintf(w, "queries:            %d (%d ok, %d failed)\n", m.TotalQueries, m.SuccessfulQueries, m.FailedQueries)
	fmt.Fprintf(w, "success_rate:       %.1f%%\n", st.SuccessRate*100)
	fmt.Fprintf(w, "avg_processing_ms:  %.1f\n", m.AverageProcessingTime)
	fmt.Fprintf(w, "avg_confidence:     %.3f\n", m.AverageConfidence)
	fmt.Fprintf(w, "tokens_used:        %d\n", m.TotalTokensUsed)
	fmt.Fprintf(w, "uptime:             %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(w, "history:            %d/%d\n", st.HistorySize, st.HistoryCap)
	fmt.Fprintf(w, "fragments:          %d\n", st.Fragments)
	e := st.Embedding
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# embedding")
	fmt.Fprintf(w, "provider:           %s\n", e.Provider)
	fmt.Fprintf(w, "cache:              %d/%d (%d hits, %d misses)\n", e.CacheSize, e.CacheCapacity, e.CacheHits, e.CacheMisses)
	fmt.Fprintf(w, "provider_calls:     %d\n", e.ProviderCalls)
	return nil
}

// WriteHistory writes a history page, newest first.
func WriteHistory(w io.Writer, page models.HistoryPage, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, page)
	}
	fmt.Fprintf(w, "showing %d of %d queries\n", len(page.Entries), page.Total)
	for _, e := range page.Entries {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s  %s\n", e.Timestamp.Local().Format(time.DateTime), e.Query)
		fmt.Fprintf(w, "  %s\n", utils.Truncate(oneLine(e.Answer), sourcePreviewLen))
		fmt.Fprintf(w, "  confidence %.2f | %d sources | %dms\n", e.Confidence, e.SourceCount, e.ProcessingTimeMs)
	}
	return nil
}

// WriteDocuments writes catalog entries.
func WriteDocuments(w io.Writer, docs []*models.CatalogEntry, total int, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"documents": docs, "total": total})
	}
	fmt.Fprintf(w, "%d documents\n", total)
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s  %-40s %4d fragments  %s\n", d.IngestedAt.Local().Format(time.DateTime),
			utils.Truncate(title, 40), d.Fragments, d.ID)
	}
	return nil
}

// WriteIngest writes the result of ingesting one document.
func WriteIngest(w io.Writer, res *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "ingested %s: %d fragments, expires %s\n",
		res.DocumentID, res.Fragments, res.ExpiresAt.Local().Format(time.DateTime))
	return nil
}

// WriteIngestAll writes the results of one ingest run.
func WriteIngestAll(w io.Writer, results []*models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []*models.IngestResult{}
		}
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "nothing ingested")
		return nil
	}
	for _, res := range results {
		if err := WriteIngest(w, res, format); err != nil {
			return err
		}
	}
	return nil
}

func sourceLabel(src *models.RetrievalResult) string {
	if title, ok := src.Metadata["title"].(string); ok && title != "" {
		return title
	}
	return src.SourceDocumentID
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Package catalog keeps a searchable record of ingested documents in a Bleve index.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kotae/internal/models"
)

// DefaultLimit is the number of entries returned when no limit is given.
const DefaultLimit = 20

const (
	fieldID         = "id"
	fieldTitle      = "title"
	fieldTerms      = "title_terms"
	fieldSource     = "source"
	fieldFragments  = "fragments"
	fieldIngestedAt = "ingested_at"
)

// Catalog indexes document entries by id.
type Catalog struct {
	index bleve.Index
}

// New creates or opens a catalog index at path. An empty path keeps the index in memory.
// If you change the index mapping, remove the index directory so it is rebuilt.
func New(path string) (*Catalog, error) {
	im := newMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory catalog: %w", err)
		}
		return &Catalog{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open catalog index: %w", openErr)
		}
		return &Catalog{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog index: %w", err)
	}
	return &Catalog{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase and tokenize, no stemming, so file names match word for word.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldTitle, text)

	terms := bleve.NewTextFieldMapping()
	terms.Analyzer = standard.Name
	terms.Store = false
	docMapping.AddFieldMappingsAt(fieldTerms, terms)

	source := bleve.NewTextFieldMapping()
	source.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldSource, source)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt(fieldID, exact)

	ingested := bleve.NewTextFieldMapping()
	ingested.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt(fieldIngestedAt, ingested)

	docMapping.AddFieldMappingsAt(fieldFragments, bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("entry", docMapping)
	im.DefaultType = "entry"
	im.DefaultMapping = docMapping
	return im
}

// Upsert indexes entry, replacing any entry with the same id.
func (c *Catalog) Upsert(ctx context.Context, entry *models.CatalogEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("catalog entry requires an id")
	}
	doc := map[string]interface{}{
		fieldID:         entry.ID,
		fieldTitle:      entry.Title,
		fieldTerms:      searchableTitle(entry.Title),
		fieldSource:     entry.Source,
		fieldFragments:  float64(entry.Fragments),
		fieldIngestedAt: entry.IngestedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := c.index.Index(entry.ID, doc); err != nil {
		return fmt.Errorf("failed to index catalog entry: %w", err)
	}
	return nil
}

var titleSeparators = strings.NewReplacer("_", " ", ".", " ", "-", " ")

// searchableTitle splits file-name style titles so "team_offsite_notes.md" matches
// "offsite notes"; the standard analyzer keeps "a_b" and "a.b" as single tokens.
func searchableTitle(title string) string {
	return titleSeparators.Replace(title)
}

// Get returns the entry for id, or nil when absent.
func (c *Catalog) Get(ctx context.Context, id string) (*models.CatalogEntry, error) {
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Size = 1
	req.Fields = []string{"*"}
	res, err := c.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup failed: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	return entryFromFields(res.Hits[0].ID, 0, res.Hits[0].Fields), nil
}

// Search matches q against titles and sources. An empty q lists every entry,
// most recently ingested first. A limit of 0 or less means DefaultLimit.
func (c *Catalog) Search(ctx context.Context, q string, limit int) ([]*models.CatalogEntry, int, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var query blevequery.Query
	q = strings.TrimSpace(q)
	if q == "" {
		query = bleve.NewMatchAllQuery()
	} else {
		title := bleve.NewMatchQuery(q)
		title.SetField(fieldTitle)
		title.SetBoost(2)
		terms := bleve.NewMatchQuery(q)
		terms.SetField(fieldTerms)
		terms.SetBoost(2)
		source := bleve.NewMatchQuery(q)
		source.SetField(fieldSource)
		query = bleve.NewDisjunctionQuery(title, terms, source)
	}

	req := bleve.NewSearchRequest(query)
	req.Size = limit
	req.Fields = []string{"*"}
	if q == "" {
		req.SortBy([]string{"-" + fieldIngestedAt, "_id"})
	}
	res, err := c.index.Search(req)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog search failed: %w", err)
	}

	out := make([]*models.CatalogEntry, len(res.Hits))
	for i, hit := range res.Hits {
		score := hit.Score
		if q == "" {
			score = 0
		}
		out[i] = entryFromFields(hit.ID, score, hit.Fields)
	}
	return out, int(res.Total), nil
}

func entryFromFields(id string, score float64, fields map[string]interface{}) *models.CatalogEntry {
	e := &models.CatalogEntry{ID: id, Score: score}
	if v, ok := fields[fieldTitle].(string); ok {
		e.Title = v
	}
	if v, ok := fields[fieldSource].(string); ok {
		e.Source = v
	}
	if v, ok := fields[fieldFragments].(float64); ok {
		e.Fragments = int(v)
	}
	if v, ok := fields[fieldIngestedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.IngestedAt = t
		}
	}
	return e
}

// Delete removes the entry for id. Deleting an unknown id is not an error.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.index.Delete(id); err != nil {
		return fmt.Errorf("failed to delete catalog entry: %w", err)
	}
	return nil
}

// Count returns the number of entries.
func (c *Catalog) Count() (uint64, error) {
	return c.index.DocCount()
}

// Close closes the index.
func (c *Catalog) Close() error {
	return c.index.Close()
}

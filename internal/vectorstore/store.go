// Package vectorstore stores fragment embeddings and answers nearest-neighbour queries.
// Every backend excludes expired fragments from search, supports document scoping,
// and is safe for concurrent use by queries and the retention sweep.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// Filter is an equality filter over fragment metadata. The key
// models.MetaSourceDocumentID restricts results to one document.
type Filter map[string]interface{}

// DocumentFilter returns a filter scoping retrieval to docID, or nil when docID is empty.
func DocumentFilter(docID string) Filter {
	if docID == "" {
		return nil
	}
	return Filter{models.MetaSourceDocumentID: docID}
}

// Store is a vector store of text fragments.
type Store interface {
	// Add inserts fragments, replacing any with the same ID.
	Add(ctx context.Context, fragments []*models.TextFragment) error
	// Search returns up to k live fragments matching filter, nearest first.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]*models.RetrievalResult, error)
	// DeleteByIDs removes fragments by ID and returns how many were removed.
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	// DeleteByDocument removes every fragment of a document.
	DeleteByDocument(ctx context.Context, docID string) (int, error)
	// ReplaceDocument swaps a document's fragments for the given ones in one step and
	// returns how many old fragments were removed. On error the old fragments remain.
	ReplaceDocument(ctx context.Context, docID string, fragments []*models.TextFragment) (int, error)
	// DeleteExpired removes fragments whose expiry has passed.
	DeleteExpired(ctx context.Context) (int, error)
	// Count returns the number of stored fragments, expired ones included.
	Count(ctx context.Context) (int, error)
	Dimensions() int
	Close() error
}

// Reserved metadata keys added to every stored fragment.
const (
	metaChunkIndex  = "chunk_index"
	metaTotalChunks = "total_chunks"
)

// Option configures a store.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets a logger for store events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = utils.OrNop(o.logger)
	return o
}

// validateFragments checks every fragment before any is written.
func validateFragments(fragments []*models.TextFragment, dimensions int) error {
	for i, f := range fragments {
		if f == nil {
			return ragerrors.NewValidationError("fragments", fmt.Sprintf("fragment %d is nil", i))
		}
		if f.ID == "" {
			return ragerrors.NewValidationError("id", fmt.Sprintf("fragment %d has no id", i))
		}
		if f.SourceDocumentID == "" {
			return ragerrors.NewValidationError("source_document_id", fmt.Sprintf("fragment %s has no source document", f.ID))
		}
		if len(f.Embedding) == 0 {
			return ragerrors.NewValidationError("embedding", fmt.Sprintf("fragment %s has no embedding", f.ID))
		}
		if len(f.Embedding) != dimensions {
			return ragerrors.NewValidationError("embedding",
				fmt.Sprintf("fragment %s has %d dimensions, store expects %d", f.ID, len(f.Embedding), dimensions))
		}
		if !f.ExpiresAt.After(f.CreatedAt) {
			return ragerrors.NewValidationError("expires_at", fmt.Sprintf("fragment %s expires before it is created", f.ID))
		}
	}
	return nil
}

func validateQuery(vector []float32, k, dimensions int) error {
	if k < 1 {
		return ragerrors.NewValidationError("k", "k must be at least 1")
	}
	if len(vector) != dimensions {
		return ragerrors.Permanent(ragerrors.StageRetrieval,
			fmt.Errorf("query vector has %d dimensions, store expects %d", len(vector), dimensions))
	}
	return nil
}

// storedMetadata is the normalized metadata persisted for f, including reserved keys.
func storedMetadata(f *models.TextFragment) map[string]interface{} {
	meta := NormalizeMetadata(f.Metadata)
	meta[models.MetaSourceDocumentID] = f.SourceDocumentID
	meta[metaChunkIndex] = float64(f.ChunkIndex)
	meta[metaTotalChunks] = float64(f.TotalChunks)
	return meta
}

// matches reports whether metadata satisfies every equality in filter.
func matches(meta map[string]interface{}, filter Filter) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || got != NormalizeValue(want) {
			return false
		}
	}
	return true
}

// cosineDistance is 1 - cosine similarity, in [0, 2].
func cosineDistance(a, b []float32) float64 {
	return 1 - utils.CosineSimilarity(a, b)
}

func newResult(id, text, docID string, meta map[string]interface{}, distance float64) *models.RetrievalResult {
	return &models.RetrievalResult{
		FragmentID:       id,
		Text:             text,
		SourceDocumentID: docID,
		Metadata:         meta,
		Distance:         distance,
		Relevance:        1 - distance,
	}
}

// topK sorts results nearest first, breaking ties by fragment ID, and keeps k.
func topK(results []*models.RetrievalResult, k int) []*models.RetrievalResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].FragmentID < results[j].FragmentID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ragerrors"
)

// MemoryStore keeps fragments in a map and searches by brute-force cosine distance.
type MemoryStore struct {
	dimensions int
	opts       options

	mu        sync.RWMutex
	fragments map[string]*memoryFragment
}

type memoryFragment struct {
	fragment *models.TextFragment
	metadata map[string]interface{}
}

// NewMemoryStore creates an empty in-memory store for vectors of the given dimension.
func NewMemoryStore(dimensions int, opts ...Option) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &MemoryStore{
		dimensions: dimensions,
		opts:       buildOptions(opts),
		fragments:  make(map[string]*memoryFragment),
	}, nil
}

// Add stores copies of the fragments. Nothing is stored if any fragment is invalid.
func (m *MemoryStore) Add(ctx context.Context, fragments []*models.TextFragment) error {
	if err := validateFragments(fragments, m.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(fragments)
	return nil
}

// put stores copies of fragments. The caller holds the write lock.
func (m *MemoryStore) put(fragments []*models.TextFragment) {
	for _, f := range fragments {
		cp := *f
		cp.Embedding = append([]float32(nil), f.Embedding...)
		cp.Metadata = nil
		m.fragments[f.ID] = &memoryFragment{fragment: &cp, metadata: storedMetadata(f)}
	}
}

// ReplaceDocument swaps docID's fragments under a single write lock, so readers see
// either the old set or the new one.
func (m *MemoryStore) ReplaceDocument(ctx context.Context, docID string, fragments []*models.TextFragment) (int, error) {
	if err := validateFragments(fragments, m.dimensions); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.deleteDocument(docID)
	m.put(fragments)
	return n, nil
}

// Search returns the k nearest live fragments matching filter.
func (m *MemoryStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]*models.RetrievalResult, error) {
	if err := validateQuery(vector, k, m.dimensions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ragerrors.Classify(ragerrors.StageRetrieval, err)
	}
	now := m.opts.now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*models.RetrievalResult, 0, len(m.fragments))
	for _, mf := range m.fragments {
		f := mf.fragment
		if f.Expired(now) || !matches(mf.metadata, filter) {
			continue
		}
		results = append(results, newResult(f.ID, f.Text, f.SourceDocumentID,
			copyMetadata(mf.metadata), cosineDistance(vector, f.Embedding)))
	}
	return topK(results, k), nil
}

// DeleteByIDs removes the given fragments.
func (m *MemoryStore) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.fragments[id]; ok {
			delete(m.fragments, id)
			n++
		}
	}
	return n, nil
}

// DeleteByDocument removes every fragment of docID.
func (m *MemoryStore) DeleteByDocument(ctx context.Context, docID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteDocument(docID), nil
}

func (m *MemoryStore) deleteDocument(docID string) int {
	n := 0
	for id, mf := range m.fragments {
		if mf.fragment.SourceDocumentID == docID {
			delete(m.fragments, id)
			n++
		}
	}
	return n
}

// DeleteExpired removes fragments whose expiry is at or before now.
func (m *MemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	now := m.opts.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, mf := range m.fragments {
		if mf.fragment.Expired(now) {
			delete(m.fragments, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored fragments.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fragments), nil
}

// Dimensions returns the vector dimension.
func (m *MemoryStore) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}

func copyMetadata(meta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

package vectorstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

func BenchmarkMemoryStoreSearch(b *testing.B) {
	const dims = 384
	store, _ := NewMemoryStore(dims)
	ctx := context.Background()
	now := time.Now()
	frags := make([]*models.TextFragment, 1000)
	for i := range frags {
		vec := make([]float32, dims)
		vec[0] = float32(i) / 1000
		vec[1+i%(dims-1)] = 1
		frags[i] = &models.TextFragment{
			ID:               fmt.Sprintf("doc%d_0", i),
			Text:             "fragment",
			SourceDocumentID: fmt.Sprintf("doc%d", i%50),
			Embedding:        vec,
			CreatedAt:        now,
			ExpiresAt:        now.Add(time.Hour),
		}
	}
	_ = store.Add(ctx, frags)
	query := make([]float32, dims)
	query[0] = 1.0

	b.Run("unfiltered", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = store.Search(ctx, query, 10, nil)
		}
	})
	b.Run("document", func(b *testing.B) {
		filter := DocumentFilter("doc7")
		for i := 0; i < b.N; i++ {
			_, _ = store.Search(ctx, query, 10, filter)
		}
	})
}

package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/hyperjump/kotae/pkg/utils"
)

// MockProvider is a deterministic, offline provider. Each word is hashed into a
// bucket of the vector, so texts that share words point in similar directions and
// the same text always gets the same embedding.
type MockProvider struct {
	dimensions int
}

// NewMockProvider returns a provider that produces deterministic embeddings of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockProvider{dimensions: dimensions}
}

// Embed returns a unit-length bag-of-words embedding of text.
func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, p.dimensions)
	for _, word := range SplitWords(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if word == "" {
			continue
		}
		h := HashString(word)
		emb[h%p.dimensions] += 1
		// A second, signed bucket spreads collisions.
		emb[(h/7)%p.dimensions] += float32(math.Copysign(0.5, math.Sin(float64(h))))
	}
	if isZero(emb) {
		// Text without words still gets a stable direction.
		h := HashString(text)
		for i := range emb {
			emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Dimensions returns the embedding dimension.
func (p *MockProvider) Dimensions() int {
	return p.dimensions
}

// Name returns the provider name.
func (p *MockProvider) Name() string { return ProviderMock }

// Close is a no-op for MockProvider.
func (p *MockProvider) Close() error {
	return nil
}

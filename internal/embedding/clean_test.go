package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "  hello \n\n\t world  ", "hello world"},
		{"strips emoji and controls", "ship it 🚀\x00 now", "ship it now"},
		{"keeps punctuation", "What's (x + y)? 42%!", "What's (x + y)? 42%!"},
		{"keeps non-latin letters", "東京 café", "東京 café"},
		{"only junk", "🚀🚀 \x01", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"fits", "short text.", 50, "short text."},
		{"sentence boundary", "First sentence. Second sentence is long.", 25, "First sentence."},
		{"word boundary", "alpha beta gamma delta", 13, "alpha beta"},
		{"hard cut", "abcdefghijklmnop", 5, "abcde"},
		{"ignores decimal point", "pi is 3.14159 roughly yes", 12, "pi is"},
		{"disabled", "anything at all", 0, "anything at all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			if tt.max > 0 {
				assert.LessOrEqual(t, len([]rune(got)), tt.max)
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, CacheKey("abc"), CacheKey("abc"))
	assert.NotEqual(t, CacheKey("abc"), CacheKey("abd"))
	assert.Len(t, CacheKey(strings.Repeat("x", 10000)), 64)
}

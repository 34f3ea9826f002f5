package indexer

import (
	"strings"
	"testing"
)

func BenchmarkChunkerSplit(b *testing.B) {
	text := strings.Repeat("Retrieval splits documents into overlapping fragments. Each one is embedded once. ", 500)
	c := NewChunker(1000, 200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Split(text)
	}
}

// Package indexer splits documents into fragments and ingests them into the vector store.
package indexer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

// Default chunk sizes, in characters.
const (
	DefaultMaxChunkSize = 1000
	DefaultOverlapSize  = 200
)

// separators are tried in priority order when looking for a split point.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	spaceAroundLF   = regexp.MustCompile(` ?\n ?`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
)

// Chunker splits text into overlapping, size-bounded chunks. It holds no state
// between calls, so one Chunker can be shared.
type Chunker struct {
	maxChunkSize int
	overlapSize  int
}

// NewChunker creates a chunker. Sizes are in characters. Non-positive values fall back
// to the defaults; an overlap of half the chunk size or more is reduced to a quarter.
func NewChunker(maxChunkSize, overlapSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if overlapSize < 0 {
		overlapSize = 0
	}
	if overlapSize >= maxChunkSize/2 {
		overlapSize = maxChunkSize / 4
	}
	return &Chunker{maxChunkSize: maxChunkSize, overlapSize: overlapSize}
}

// MaxChunkSize returns the chunk size limit in characters.
func (c *Chunker) MaxChunkSize() int { return c.maxChunkSize }

// OverlapSize returns the overlap carried between consecutive chunks.
func (c *Chunker) OverlapSize() int { return c.overlapSize }

// Split normalizes whitespace and splits text into chunks of at most MaxChunkSize
// characters. Each chunk after the first starts with the trailing OverlapSize characters
// of the previous one. Empty input yields an empty slice.
func (c *Chunker) Split(text string) []string {
	cleaned := NormalizeWhitespace(text)
	if cleaned == "" {
		return []string{}
	}
	runes := []rune(cleaned)
	if len(runes) <= c.maxChunkSize {
		return []string{cleaned}
	}

	chunks := make([]string, 0, len(runes)/(c.maxChunkSize-c.overlapSize)+1)
	start, prevEnd := 0, 0
	for {
		if len(runes)-start <= c.maxChunkSize {
			// Flush the tail only when it carries text beyond the overlap.
			if strings.TrimSpace(string(runes[prevEnd:])) != "" {
				if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
					chunks = append(chunks, tail)
				}
			}
			return chunks
		}
		window := runes[start : start+c.maxChunkSize]
		end := c.splitPoint(window)
		if chunk := strings.TrimSpace(string(window[:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		prevEnd = start + end
		start = prevEnd - c.overlapSize
	}
}

// splitPoint returns the end of the chunk within window: just before the last
// qualifying separator, keeping sentence punctuation. Falls back to len(window).
func (c *Chunker) splitPoint(window []rune) int {
	for _, sep := range separators {
		sr := []rune(sep)
		keep := len([]rune(strings.TrimRight(sep, " \n")))
		for i := len(window) - len(sr); i > 0; i-- {
			if !hasRunesAt(window, sr, i) {
				continue
			}
			end := i + keep
			if end > c.overlapSize {
				return end
			}
			break
		}
	}
	return len(window)
}

func hasRunesAt(s, sub []rune, at int) bool {
	if at+len(sub) > len(s) {
		return false
	}
	for j := range sub {
		if s[at+j] != sub[j] {
			return false
		}
	}
	return true
}

// NormalizeWhitespace converts line endings to LF, collapses runs of horizontal
// whitespace, trims spaces around line breaks, and limits blank lines to one.
func NormalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = spaceAroundLF.ReplaceAllString(text, "\n")
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Fragments splits text and wraps each chunk as a TextFragment of docID.
// Fragments expire ttl after createdAt; a non-positive ttl uses the default retention.
func (c *Chunker) Fragments(docID, text string, createdAt time.Time, ttl time.Duration) []*models.TextFragment {
	if ttl <= 0 {
		ttl = config.DefaultFragmentTTL
	}
	chunks := c.Split(text)
	fragments := make([]*models.TextFragment, len(chunks))
	for i, chunk := range chunks {
		fragments[i] = &models.TextFragment{
			ID:               fmt.Sprintf("%s_%d_%s", docID, i, uuid.New().String()[:8]),
			Text:             chunk,
			SourceDocumentID: docID,
			ChunkIndex:       i,
			TotalChunks:      len(chunks),
			CreatedAt:        createdAt,
			ExpiresAt:        createdAt.Add(ttl),
		}
	}
	return fragments
}

package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// allowedPunct is the punctuation kept by Clean in addition to letters, digits and marks.
const allowedPunct = ".,;:!?'\"()[]{}<>-_/\\@#$%&*+=~^|`"

// Clean collapses whitespace, drops characters outside a conservative allow-list
// (letters, digits, combining marks and common punctuation) and trims the result.
func Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), strings.ContainsRune(allowedPunct, r):
		default:
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Truncate limits text to maxChars characters. It prefers cutting after the last
// sentence end that fits, then at the last whole word, and hard-cuts otherwise.
// A non-positive maxChars disables truncation.
func Truncate(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	window := runes[:maxChars]
	for i := len(window) - 1; i > 0; i-- {
		if !isSentenceEnd(window[i]) {
			continue
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			return strings.TrimSpace(string(window[:i+1]))
		}
	}
	if i := lastSpace(window); i > 0 {
		return strings.TrimSpace(string(window[:i]))
	}
	return string(window)
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// CacheKey returns the content hash used to key cached embeddings.
func CacheKey(cleaned string) string {
	sum := sha256.Sum256([]byte(cleaned))
	return hex.EncodeToString(sum[:])
}

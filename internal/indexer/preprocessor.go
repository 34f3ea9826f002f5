package indexer

import (
	"strings"
	"unicode"
)

// Preprocess repairs extracted text for chunking: invalid UTF-8 is dropped, control
// characters other than line breaks and tabs are removed, and horizontal whitespace
// is collapsed. Line structure is kept so the chunker can split on paragraphs.
func Preprocess(text string) string {
	text = strings.ToValidUTF8(text, "")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return NormalizeWhitespace(b.String())
}

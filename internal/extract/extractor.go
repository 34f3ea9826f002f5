// Package extract provides text extraction from document formats accepted for ingestion.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/kotae/internal/ragerrors"
)

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
	".html": extractHTML,
	".htm":  extractHTML,
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
	".csv":  extractPlain,
	".json": extractPlain,
}

// SupportedExtensions returns every extension Extract understands, sorted, with leading dots.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extractors))
	for ext := range extractors {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether ext (with or without the leading dot) can be extracted.
func Supported(ext string) bool {
	_, ok := extractors[normalizeExt(ext)]
	return ok
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	ext := filepath.Ext(path)
	if !Supported(ext) {
		return "", unsupported(ext)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on ext, e.g. ".pdf".
// An unsupported extension is a validation error.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := extractors[normalizeExt(ext)]
	if !ok {
		return "", unsupported(ext)
	}
	text, err := fn(content)
	if err != nil {
		return "", ragerrors.NewValidationError("file", fmt.Sprintf("could not read %s document: %v", normalizeExt(ext), err))
	}
	return text, nil
}

func unsupported(ext string) error {
	if ext == "" {
		ext = "(none)"
	}
	return ragerrors.NewValidationError("file", fmt.Sprintf("unsupported file type %s; supported: %s",
		ext, strings.Join(SupportedExtensions(), ", ")))
}

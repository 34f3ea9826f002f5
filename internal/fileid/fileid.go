// Package fileid derives stable document ids from file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Prefix marks document ids derived from a file path.
const Prefix = "file_"

// FromAbs returns the document id for an absolute path. The path is cleaned first,
// so "/a/b/" and "/a/./b" map to the same id.
func FromAbs(absolutePath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return Prefix + hex.EncodeToString(sum[:16])
}

// ForPath resolves path against the working directory and returns its document id.
func ForPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return FromAbs(abs), nil
}

// IsFileID reports whether id was produced by FromAbs.
func IsFileID(id string) bool {
	return strings.HasPrefix(id, Prefix) && len(id) == len(Prefix)+32
}

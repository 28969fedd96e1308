// Package sha256 fingerprints combined crawl markdown so a refresh can tell
// whether a competitor's site content changed.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// ContentHasher implements domain.Hasher. Line endings and trailing
// whitespace are normalized before hashing, so a page re-served with CRLF
// line breaks or padded lines keeps its fingerprint.
type ContentHasher struct{}

// NewContentHasher returns a ContentHasher.
func NewContentHasher() *ContentHasher {
	return &ContentHasher{}
}

// Hash returns the hex SHA-256 digest of the normalized content.
func (ContentHasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(normalize(data))
	return hex.EncodeToString(sum[:]), nil
}

func normalize(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimRight(line, " \t")
	}
	return bytes.TrimRight(bytes.Join(lines, []byte("\n")), "\n")
}

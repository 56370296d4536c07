// Package digest provides the SHA-256 content-addressing primitive used for
// per-chunk integrity checks and whole-file deduplication.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// Bytes returns the lowercase hex SHA-256 digest of content.
func Bytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Reader consumes r and returns its digest and byte count.
func Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File returns the digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum, _, err := Reader(f)
	return sum, err
}

// Normalize lowercases a client-supplied hex digest for comparison.
func Normalize(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// Package sha256 names listing snapshots by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements blog.Hasher using SHA-256.
type Hasher struct {
	length int
}

// New returns a hasher producing full hex digests.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher whose digests are cut to n hex characters.
// Non-positive n keeps the full digest.
func NewTruncated(n int) *Hasher {
	return &Hasher{length: n}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(digest) {
		digest = digest[:h.length]
	}
	return digest, nil
}

// Package sha256 derives cache names from the SHA-256 digest of a source URL.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// CacheNameLength is the digest prefix used for cached image names.
const CacheNameLength = 16

// Hasher implements archiver.Hasher. When length is set, digests keep only
// that many leading hex characters.
type Hasher struct {
	length int
}

// New returns a hasher producing full 64 character digests.
func New() *Hasher {
	return &Hasher{}
}

// NewPrefix returns a hasher whose digests are cut to n hex characters.
func NewPrefix(n int) *Hasher {
	return &Hasher{length: n}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("hash: empty input")
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(digest) {
		digest = digest[:h.length]
	}
	return digest, nil
}

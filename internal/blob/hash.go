package blob

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/dyluth/gateway/internal/config"
	"github.com/zeebo/blake3"
)

// hashSize is the hex length of every supported digest (256 bits).
const hashSize = 64

// newHasher returns a streaming hasher for the named algorithm. Both
// algorithms produce 256-bit digests, so references look the same on the
// wire whichever one a deployment picks.
func newHasher(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "", config.HashSHA256:
		return sha256.New, nil
	case config.HashBLAKE3:
		return func() hash.Hash { return blake3.New() }, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// ValidHash reports whether s is a lowercase hex digest of the expected
// length. Only valid hashes are ever turned into paths.
func ValidHash(s string) bool {
	if len(s) != hashSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

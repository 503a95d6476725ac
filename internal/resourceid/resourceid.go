// Package resourceid derives and validates the on-disk key for a stored
// response: the SHA-1 digest of its canonical URL.
//
// Grounded on original_source/src/cache/resource_id.cpp (from_url,
// from_hex, sanitize_hex).
package resourceid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a ResourceId (SHA-1 digest).
const Size = sha1.Size

// ResourceId is the 20-byte SHA-1 digest of a canonical URL.
type ResourceId [Size]byte

// FromURL computes the ResourceId of a canonical URL.
func FromURL(canonicalURL string) ResourceId {
	return sha1.Sum([]byte(canonicalURL))
}

// String returns the 40-char lowercase hex encoding.
func (r ResourceId) String() string {
	return hex.EncodeToString(r[:])
}

// ShardPath splits the hex id into the two path components used for
// on-disk sharding: the first 2 hex chars and the remaining 38.
func (r ResourceId) ShardPath() (head, rest string) {
	h := r.String()
	return h[:2], h[2:]
}

// FromHex parses a 40-char lowercase hex string, rejecting anything else.
func FromHex(s string) (ResourceId, error) {
	var r ResourceId
	if len(s) != 2*Size {
		return r, fmt.Errorf("resourceid: bad length %d", len(s))
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return r, fmt.Errorf("resourceid: not lowercase hex: %q", s)
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return r, fmt.Errorf("resourceid: %w", err)
	}
	copy(r[:], b)
	return r, nil
}

// Package chainhash implements the per-block chained-hash commitment used
// to sign streaming HTTP bodies one block at a time.
//
// Grounded on original_source/src/cache/chain_hasher.h (ChainHash,
// ChainHasher): CHASH[0] = SHA-512(DHASH[0]), CHASH[i] =
// SHA-512(CHASH[i-1] || DHASH[i]); the signing string for block i is the
// literal concatenation injection_id + NUL + decimal(offset) + NUL +
// raw 64-byte digest.
package chainhash

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
)

// DigestSize is the length in bytes of a SHA-512 digest.
const DigestSize = sha512.Size

// Digest is a SHA-512 chained-hash or data-hash value.
type Digest [DigestSize]byte

// ZeroDigest is the all-zero digest used to pad the first sigs record's
// "previous chained digest" field.
var ZeroDigest Digest

// DataHash returns DHASH[i] = SHA-512(data).
func DataHash(data []byte) Digest {
	return sha512.Sum512(data)
}

// Block is one chained-hash commitment: the byte offset of the block it
// covers and the resulting chained digest CHASH[i].
type Block struct {
	Offset uint64
	Digest Digest
}

// SigningString builds the literal string signed (and verified) for a
// block: "<injection-id>\0<offset>\0<raw-digest-bytes>".
func SigningString(injectionID string, offset uint64, digest Digest) []byte {
	return []byte(fmt.Sprintf("%s\x00%d\x00%s", injectionID, offset, digest[:]))
}

// Sign signs the chain-hash commitment for one block.
func (b Block) Sign(priv ed25519.PrivateKey, injectionID string) []byte {
	return ed25519.Sign(priv, SigningString(injectionID, b.Offset, b.Digest))
}

// Verify checks a block's signature against a public key and injection id.
func (b Block) Verify(pub ed25519.PublicKey, injectionID string, sig []byte) bool {
	return ed25519.Verify(pub, SigningString(injectionID, b.Offset, b.Digest), sig)
}

// Hasher accumulates the running (offset, prev_chained_digest) state needed
// to compute successive blocks of the chain. Not safe for concurrent use;
// callers serialize it the way the reference implementation serializes a
// single writer per resource.
type Hasher struct {
	offset  uint64
	prevDig *Digest
}

// NewHasher returns a Hasher starting at offset 0 with no previous digest.
func NewHasher() *Hasher {
	return &Hasher{}
}

// SetPrevChainedDigest seeds the hasher with a known CHASH[i-1], used when
// resuming a range request partway through a resource.
func (h *Hasher) SetPrevChainedDigest(d Digest) {
	cp := d
	h.prevDig = &cp
}

// SetOffset seeds the next block's starting offset.
func (h *Hasher) SetOffset(offset uint64) {
	h.offset = offset
}

// PrevChainedDigest returns the last computed chained digest, if any.
func (h *Hasher) PrevChainedDigest() (Digest, bool) {
	if h.prevDig == nil {
		return Digest{}, false
	}
	return *h.prevDig, true
}

// CalculateBlock folds one block's data digest into the chain and advances
// the offset by dataSize, returning the block's (offset, CHASH) pair.
func (h *Hasher) CalculateBlock(dataSize uint64, dataDigest Digest) Block {
	hasher := sha512.New()
	if h.prevDig != nil {
		hasher.Write(h.prevDig[:])
	}
	hasher.Write(dataDigest[:])

	var chained Digest
	copy(chained[:], hasher.Sum(nil))

	oldOffset := h.offset
	h.offset += dataSize
	h.prevDig = &chained

	return Block{Offset: oldOffset, Digest: chained}
}

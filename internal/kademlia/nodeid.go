package kademlia

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"
)

// NodeIDSize is the length in bytes of a NodeID (160 bits), per spec §4.8.
const NodeIDSize = sha1.Size

// NodeID is a 160-bit Kademlia node identifier. The reference
// implementation derives these from a random seed or the injector's
// public key; this package only needs the fixed-width value and its
// use in the write-token scheme below, since the live Kademlia routing
// table itself is go-libp2p-kad-dht's (see host.go's package doc).
type NodeID [NodeIDSize]byte

// RandomNodeID returns a cryptographically random NodeID, used when a
// node needs a stable local identity not already tied to an Ed25519 key.
func RandomNodeID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return NodeID{}, err
	}
	return id, nil
}

func (id NodeID) String() string { return hex.EncodeToString(id[:]) }

// TokenStore implements the rotating write-token scheme of spec §4.8:
// token = SHA1(secret || address || node_id), validated against any
// unexpired secret (current or the one before it), so a token handed out
// just before a rotation still verifies afterward.
//
// Grounded on the BEP5 token-rotation description in spec.md §4.8; the
// reference's dht_storage.cpp is reachable in original_source's index
// but not read in full, so the rotation cadence (5 minutes, two live
// secrets) is taken directly from the specification text rather than
// from the C++ source.
type TokenStore struct {
	mu       sync.Mutex
	period   time.Duration
	current  []byte
	previous []byte
	rotated  time.Time
}

// NewTokenStore creates a token store rotating its secret every period
// (5 minutes per spec §4.8).
func NewTokenStore(period time.Duration) (*TokenStore, error) {
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	return &TokenStore{period: period, current: secret, rotated: time.Now()}, nil
}

func randomSecret() ([]byte, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("kademlia: token secret: %w", err)
	}
	return b, nil
}

// maybeRotate rotates current into previous and draws a fresh current
// secret if period has elapsed since the last rotation. Callers hold mu.
func (t *TokenStore) maybeRotate() {
	if time.Since(t.rotated) < t.period {
		return
	}
	t.previous = t.current
	fresh, err := randomSecret()
	if err != nil {
		// Keep serving the old secret rather than losing token issuance
		// entirely; a failed rand.Read is exceptional and will succeed
		// on the next rotation attempt.
		return
	}
	t.current = fresh
	t.rotated = time.Now()
}

func computeToken(secret []byte, addr net.IP, id NodeID) [sha1.Size]byte {
	h := sha1.New()
	h.Write(secret)
	h.Write(addr)
	h.Write(id[:])
	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Issue returns the current token for (addr, id).
func (t *TokenStore) Issue(addr net.IP, id NodeID) [sha1.Size]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRotate()
	return computeToken(t.current, addr, id)
}

// Validate reports whether token was issued for (addr, id) under the
// current or previous secret.
func (t *TokenStore) Validate(token [sha1.Size]byte, addr net.IP, id NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRotate()
	if token == computeToken(t.current, addr, id) {
		return true
	}
	if t.previous != nil && token == computeToken(t.previous, addr, id) {
		return true
	}
	return false
}

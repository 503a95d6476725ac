package multipeer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/host"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/equalitie/ouinet-sub000/internal/dhtlookup"
	"github.com/equalitie/ouinet-sub000/internal/httpstore"
	"github.com/equalitie/ouinet-sub000/internal/kademlia"
	"github.com/equalitie/ouinet-sub000/internal/ouierr"
)

// PeerSet holds the candidate, good and failed peers discovered for one
// resource's swarm, implementing spec §4.6's three-bucket state machine:
// every peer starts pending ("candidate"), moves to good on a successful
// hash-list or block fetch, and to failed on any error — failed peers are
// never retried within one PeerSet's lifetime.
type PeerSet struct {
	host host.Host
	uri  string
	pub  ed25519.PublicKey

	mu        sync.Mutex
	candidate []*Peer
	good      []*Peer
	failed    []*Peer
}

// Discover looks up peers for swarmName through lookups (an
// internal/dhtlookup cache, itself backed by a kademlia.Node's routing
// discovery), drops our own peer ID and any candidate whose every address
// is martian, and returns a PeerSet with the rest seeded as candidates.
func Discover(ctx context.Context, h host.Host, lookups *dhtlookup.Cache, swarmName, uri string, pub ed25519.PublicKey) (*PeerSet, error) {
	res, err := lookups.Get(ctx, swarmName)
	if err != nil {
		return nil, fmt.Errorf("multipeer: %w", err)
	}

	ps := &PeerSet{host: h, uri: uri, pub: pub}
	for _, ai := range res.Peers {
		if ai.ID == h.ID() {
			continue
		}
		if len(ai.Addrs) > 0 && allMartianAddrs(ai.Addrs) {
			continue
		}
		ps.candidate = append(ps.candidate, NewPeer(h, ai, uri, pub))
	}
	if len(ps.candidate) == 0 {
		return nil, fmt.Errorf("multipeer: %w", ouierr.ErrNoPeers)
	}
	return ps, nil
}

// allMartianAddrs reports whether every address in addrs is martian (a
// candidate is only dropped when it has no usable public address at all).
func allMartianAddrs(addrs []ma.Multiaddr) bool {
	for _, a := range addrs {
		if !kademlia.IsMartianAddr(a) {
			return false
		}
	}
	return true
}

func (s *PeerSet) initFirstGood(ctx context.Context) (*Peer, []httpstore.SigEntry, error) {
	s.mu.Lock()
	candidates := append([]*Peer(nil), s.candidate...)
	s.mu.Unlock()

	var lastErr error
	for _, p := range candidates {
		if err := p.Init(ctx); err != nil {
			s.markFailed(p)
			lastErr = err
			continue
		}
		s.markGood(p)
		return p, p.sigsSnapshot(), nil
	}
	if lastErr == nil {
		lastErr = ouierr.ErrNoPeers
	}
	return nil, nil, fmt.Errorf("multipeer: no peer answered with a valid hash list: %w", lastErr)
}

// fetchBlock tries every good peer, then every remaining candidate,
// initializing candidates lazily on first use, until one returns bytes
// that verify against sig's recorded digest.
func (s *PeerSet) fetchBlock(ctx context.Context, sig httpstore.SigEntry, last uint64) ([]byte, error) {
	s.mu.Lock()
	tryOrder := append(append([]*Peer(nil), s.good...), s.candidate...)
	s.mu.Unlock()

	var lastErr error
	for _, p := range tryOrder {
		if p.State() == stateFailed {
			continue
		}
		if p.State() == statePending {
			if err := p.Init(ctx); err != nil {
				s.markFailed(p)
				lastErr = err
				continue
			}
			s.markGood(p)
		}
		data, err := p.ReadBlock(ctx, sig, last)
		if err != nil {
			lastErr = err
			s.markFailed(p)
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = ouierr.ErrNoPeers
	}
	return nil, fmt.Errorf("multipeer: %w", lastErr)
}

func (s *PeerSet) markGood(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromBuckets(p)
	s.good = append(s.good, p)
}

func (s *PeerSet) markFailed(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromBuckets(p)
	s.failed = append(s.failed, p)
}

func (s *PeerSet) removeFromBuckets(p *Peer) {
	s.candidate = removePeer(s.candidate, p)
	s.good = removePeer(s.good, p)
}

func removePeer(list []*Peer, p *Peer) []*Peer {
	out := list[:0]
	for _, x := range list {
		if x != p {
			out = append(out, x)
		}
	}
	return out
}

// Counts returns the current (candidate, good, failed) bucket sizes, for
// diagnostics and metrics.
func (s *PeerSet) Counts() (candidate, good, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candidate), len(s.good), len(s.failed)
}

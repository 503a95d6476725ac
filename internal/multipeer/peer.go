package multipeer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/equalitie/ouinet-sub000/internal/chainhash"
	"github.com/equalitie/ouinet-sub000/internal/httpstore"
	"github.com/equalitie/ouinet-sub000/internal/ouierr"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// initWatchdog bounds a peer's first hash-list fetch, per spec §4.6.
const initWatchdog = 10 * time.Second

// blockWatchdog bounds a single already-initialized peer's block fetch.
const blockWatchdog = 30 * time.Second

type peerState int

const (
	statePending peerState = iota
	stateGood
	stateFailed
)

// Peer is one candidate source for a resource: a libp2p endpoint offering
// a signed hash list and per-block reads over it. Its zero value is an
// uninitialized ("pending") candidate; Init promotes it to good or failed.
type Peer struct {
	Addr peer.AddrInfo
	host host.Host
	uri  string
	pub  ed25519.PublicKey

	mu          sync.Mutex
	state       peerState
	lastErr     error
	injectionID string
	bodySize    uint64
	sigs        []httpstore.SigEntry
	head        *signedhttp.Head
}

// NewPeer builds an uninitialized candidate for addr.
func NewPeer(h host.Host, addr peer.AddrInfo, uri string, pub ed25519.PublicKey) *Peer {
	return &Peer{Addr: addr, host: h, uri: uri, pub: pub}
}

func (p *Peer) State() peerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) fail(err error) {
	p.mu.Lock()
	p.state = stateFailed
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Peer) sigsSnapshot() []httpstore.SigEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]httpstore.SigEntry, len(p.sigs))
	copy(out, p.sigs)
	return out
}

// Init fetches and validates the peer's hash list (head Sig0 plus every
// per-block signature, each independently verifiable against its own
// recorded offset, data hash and chained-previous digest — no earlier
// block's bytes are needed to check a later one). On success the peer is
// promoted to good and its hash list becomes readable via sigsSnapshot.
func (p *Peer) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, initWatchdog)
	defer cancel()

	s, err := p.host.NewStream(ctx, p.Addr.ID, HashListProtocolID)
	if err != nil {
		err = fmt.Errorf("multipeer: dial %s: %w", p.Addr.ID, err)
		p.fail(err)
		return err
	}
	defer s.Close()

	if err := sendMessage(s, hashListRequest{URI: p.uri}); err != nil {
		p.fail(err)
		return err
	}
	var resp hashListResponse
	if err := recvMessage(s, &resp); err != nil {
		p.fail(err)
		return err
	}
	if resp.Err != "" {
		err := fmt.Errorf("multipeer: peer %s: %s", p.Addr.ID, resp.Err)
		p.fail(err)
		return err
	}

	head := &signedhttp.Head{StatusCode: resp.StatusCode, Header: http.Header(resp.Header)}
	if err := signedhttp.VerifyHead(head, p.pub); err != nil {
		err = fmt.Errorf("multipeer: peer %s: %w", p.Addr.ID, err)
		p.fail(err)
		return err
	}
	if err := verifySigChain(resp.Sigs, resp.InjectionID, p.pub); err != nil {
		err = fmt.Errorf("multipeer: peer %s: %w", p.Addr.ID, err)
		p.fail(err)
		return err
	}

	p.mu.Lock()
	p.state = stateGood
	p.head = head
	p.injectionID = resp.InjectionID
	p.bodySize = resp.BodySize
	p.sigs = resp.Sigs
	p.mu.Unlock()
	return nil
}

// ReadBlock fetches the bytes covering [sig.Offset, last] from this peer
// and verifies them against sig's recorded data hash before returning
// them. A hash mismatch fails the peer, the same as a transport error.
func (p *Peer) ReadBlock(ctx context.Context, sig httpstore.SigEntry, last uint64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, blockWatchdog)
	defer cancel()

	s, err := p.host.NewStream(ctx, p.Addr.ID, BlockProtocolID)
	if err != nil {
		p.fail(err)
		return nil, err
	}
	defer s.Close()

	if err := sendMessage(s, blockRequest{URI: p.uri, First: sig.Offset, Last: last}); err != nil {
		p.fail(err)
		return nil, err
	}
	var resp blockResponse
	if err := recvMessage(s, &resp); err != nil {
		p.fail(err)
		return nil, err
	}
	if resp.Err != "" {
		err := fmt.Errorf("multipeer: peer %s: %s", p.Addr.ID, resp.Err)
		p.fail(err)
		return nil, err
	}

	if chainhash.DataHash(resp.Data) != sig.DataHash {
		err := fmt.Errorf("multipeer: peer %s: %w", p.Addr.ID, ouierr.ErrInconsistentHash)
		p.fail(err)
		return nil, err
	}
	return resp.Data, nil
}

// verifySigChain checks every entry's signature independently: the
// signing string is injectionID + offset + chained digest, and the
// chained digest folds only that entry's own recorded previous-chained
// digest and data hash, so no entry's validity depends on its
// neighbors' bytes having been fetched.
func verifySigChain(sigs []httpstore.SigEntry, injectionID string, pub ed25519.PublicKey) error {
	for _, e := range sigs {
		hasher := chainhash.NewHasher()
		hasher.SetOffset(e.Offset)
		if e.HasPrevChained {
			hasher.SetPrevChainedDigest(e.PrevChainedDigest)
		}
		block := hasher.CalculateBlock(0, e.DataHash)
		if !block.Verify(pub, injectionID, e.Signature) {
			return fmt.Errorf("%w: block at offset %d", ouierr.ErrMalformedSignature, e.Offset)
		}
	}
	return nil
}

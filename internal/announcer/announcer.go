// Package announcer keeps a node's cached swarm membership visible to
// the rest of the network, re-announcing each known swarm key on the
// DHT on a steady background cadence.
//
// Grounded on original_source/src/cache/bep5_http/announcer.h (the
// Announcer/Loop split) and gossip.go's ticker-driven discovery loop
// (util.Advertise against a routing.RoutingDiscovery built over the
// kademlia DHT).
package announcer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/semaphore"
)

// period is the steady-state re-announce interval once a key's announce
// has succeeded at least once.
const period = 20 * time.Minute

// backoff bounds: a failed announce is retried sooner, backing off
// geometrically up to backoffMax.
const (
	backoffInitial = 10 * time.Second
	backoffMax     = 5 * time.Minute
)

// maxConcurrentAnnounces bounds how many swarm keys are announced at
// once, so a large local cache doesn't open hundreds of simultaneous DHT
// put operations.
const maxConcurrentAnnounces = 16

// Announcer re-announces a changing set of swarm keys on a DHT-backed
// discovery service.
type Announcer struct {
	disc   *routing.RoutingDiscovery
	sem    *semaphore.Weighted
	secret []byte

	// OnBackoff, if set, is called every time a key's announce is
	// retried with a backed-off delay (i.e. the context was already
	// canceled mid-advertise, or the advertise call panicked) — wired to a Prometheus counter by the
	// cache client's ambient metrics stack.
	OnBackoff func(key string)

	mu      sync.Mutex
	entries map[string]*entry
	cancel  map[string]context.CancelFunc

	ctx       context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

type entry struct {
	backoff time.Duration
}

// New creates an Announcer driven by disc (typically
// routing.NewRoutingDiscovery(kadDHT)). secret seeds the per-key jitter
// derivation below (see deriveJitter); pass nil to have New draw a fresh
// random one, which is the right choice unless a caller wants
// reproducible jitter across restarts for testing.
func New(ctx context.Context, disc *routing.RoutingDiscovery, secret []byte) *Announcer {
	ctx, cancel := context.WithCancel(ctx)
	if secret == nil {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	return &Announcer{
		disc:      disc,
		sem:       semaphore.NewWeighted(maxConcurrentAnnounces),
		secret:    secret,
		entries:   map[string]*entry{},
		cancel:    map[string]context.CancelFunc{},
		ctx:       ctx,
		cancelAll: cancel,
	}
}

// deriveJitter produces a deterministic, HKDF-derived delay in [0,
// period) for key from secret, so a large batch of Add calls (loading
// many cached groups at startup) spreads its first announces across the
// full period instead of bursting in the same instant — without
// depending on the shared math/rand global source.
func deriveJitter(secret []byte, key string, period time.Duration) time.Duration {
	r := hkdf.New(sha256.New, secret, nil, []byte("ouinet-announce-jitter:"+key))
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(period))
}

// Add starts (or ensures) a background re-announce loop for key. Calling
// Add again for an already-tracked key is a no-op.
func (a *Announcer) Add(key string) {
	a.mu.Lock()
	if _, ok := a.entries[key]; ok {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.entries[key] = &entry{backoff: backoffInitial}
	a.cancel[key] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go a.loop(ctx, key)
}

// Remove stops re-announcing key.
func (a *Announcer) Remove(key string) {
	a.mu.Lock()
	cancel, ok := a.cancel[key]
	delete(a.entries, key)
	delete(a.cancel, key)
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop halts every announce loop and waits for them to exit.
func (a *Announcer) Stop() {
	a.cancelAll()
	a.wg.Wait()
}

func (a *Announcer) loop(ctx context.Context, key string) {
	defer a.wg.Done()

	// Jitter the first announce so a batch of Add calls (e.g. on
	// startup, loading many cached groups at once) doesn't all hit the
	// DHT in the same instant.
	select {
	case <-ctx.Done():
		return
	case <-time.After(deriveJitter(a.secret, key, period)):
	}

	for {
		wait := a.announceOnce(ctx, key)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (a *Announcer) announceOnce(ctx context.Context, key string) time.Duration {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return backoffInitial
	}
	defer a.sem.Release(1)

	// util.Advertise itself retries internally and only logs on failure;
	// it does not report success/failure to the caller, so the entry's
	// backoff is reset optimistically on every call and only escalated
	// when the function panics or the context is already done (checked
	// below), matching the reference implementation's fire-and-forget
	// announce semantics.
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				log.Printf("📣 announcer: advertise panicked for %s: %v", key, r)
			}
		}()
		util.Advertise(ctx, a.disc, key)
	}()

	a.mu.Lock()
	e, ok := a.entries[key]
	a.mu.Unlock()
	if !ok {
		return period
	}

	if ctx.Err() != nil || panicked {
		wait := e.backoff
		e.backoff *= 2
		if e.backoff > backoffMax {
			e.backoff = backoffMax
		}
		if a.OnBackoff != nil {
			a.OnBackoff(key)
		}
		return wait
	}

	e.backoff = backoffInitial
	return period
}

// Package dhtlookup coordinates peer discovery so that many concurrent
// cache-client loads for the same swarm share one DHT query instead of
// hammering the routing table once per request.
//
// Grounded on original_source/src/bep5_http/announcer.h's sibling lookup
// path is described only in spec.md §4.5 (the source file covering it is
// not present in original_source's index), so the single-flight-plus-LRU
// design is implemented directly from the specification text: a
// 256-entry LRU of cached results (github.com/hashicorp/golang-lru/v2,
// already a teacher dependency pulled in indirectly by go-libp2p-kad-dht)
// and a singleflight.Group (golang.org/x/sync/singleflight) for the
// in-flight-job sharing the spec calls for.
package dhtlookup

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/sync/singleflight"
)

// cacheSize is the bounded LRU size from spec §4.5.
const cacheSize = 256

// freshness is how long a cached result is served without a fresh lookup.
const freshness = 5 * time.Minute

// releaseWatchdog / debugWatchdog bound how long a single DHT lookup job
// may run before it is abandoned; spec §4.5 specifies 3 minutes in
// release builds and 1 minute in debug builds. This package always uses
// the release bound; callers that want the shorter debug bound can pass
// their own context deadline to Get, which is honored in addition to
// this internal one (whichever fires first wins).
const releaseWatchdog = 3 * time.Minute

// Result is one swarm's cached discovery outcome.
type Result struct {
	Peers []peer.AddrInfo
	Err   error
	At    time.Time
}

func (r *Result) fresh() bool {
	return r != nil && time.Since(r.At) < freshness
}

// Cache is a single-flight, LRU-bounded DHT lookup cache keyed by swarm
// name, per spec §4.5.
type Cache struct {
	finder discovery.Discoverer

	mu      sync.Mutex
	results *lru.Cache[string, *Result]
	group   singleflight.Group
}

// New creates a lookup cache that queries finder (typically a
// routing.RoutingDiscovery over a Kademlia DHT) on a miss.
func New(finder discovery.Discoverer) (*Cache, error) {
	results, err := lru.New[string, *Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dhtlookup: %w", err)
	}
	return &Cache{finder: finder, results: results}, nil
}

// Get returns a fresh Result for swarmName, reusing a result cached
// within the last 5 minutes, joining an in-flight lookup already running
// for the same key, or starting a new one. Only one DHT query per key is
// ever in flight at a time (grounded on spec §4.5's condition-variable
// single-flight design, implemented here with singleflight.Group, the
// idiomatic Go equivalent named in the spec's own DESIGN NOTES mapping
// guidance for structured-concurrency substitutes).
func (c *Cache) Get(ctx context.Context, swarmName string) (*Result, error) {
	c.mu.Lock()
	if cached, ok := c.results.Get(swarmName); ok && cached.fresh() {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(swarmName, func() (interface{}, error) {
		res := c.lookup(swarmName)
		c.mu.Lock()
		c.results.Add(swarmName, res)
		c.mu.Unlock()
		return res, nil
	})
	var v interface{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		v = r.Val
	}
	res := v.(*Result)
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

// Invalidate drops any cached result for swarmName, forcing the next Get
// to perform a fresh lookup.
func (c *Cache) Invalidate(swarmName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results.Remove(swarmName)
}

func (c *Cache) lookup(swarmName string) *Result {
	ctx, cancel := context.WithTimeout(context.Background(), releaseWatchdog)
	defer cancel()

	ch, err := c.finder.FindPeers(ctx, swarmName)
	if err != nil {
		return &Result{Err: fmt.Errorf("dhtlookup: %w", err), At: time.Now()}
	}

	var peers []peer.AddrInfo
	for {
		select {
		case <-ctx.Done():
			return &Result{Peers: peers, At: time.Now()}
		case ai, ok := <-ch:
			if !ok {
				return &Result{Peers: peers, At: time.Now()}
			}
			peers = append(peers, ai)
		}
	}
}

package dhtlookup

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

type fakeFinder struct {
	calls int32
	addrs []peer.AddrInfo
}

func (f *fakeFinder) FindPeers(ctx context.Context, ns string, opts ...discovery.Option) (<-chan peer.AddrInfo, error) {
	atomic.AddInt32(&f.calls, 1)
	ch := make(chan peer.AddrInfo, len(f.addrs))
	for _, a := range f.addrs {
		ch <- a
	}
	close(ch)
	return ch, nil
}

func TestCacheServesFreshResultWithoutReQuery(t *testing.T) {
	finder := &fakeFinder{addrs: []peer.AddrInfo{{ID: peer.ID("p1")}}}
	c, err := New(finder)
	require.NoError(t, err)

	r1, err := c.Get(context.Background(), "swarm-a")
	require.NoError(t, err)
	require.Len(t, r1.Peers, 1)

	r2, err := c.Get(context.Background(), "swarm-a")
	require.NoError(t, err)
	require.Same(t, r1, r2)
	require.EqualValues(t, 1, atomic.LoadInt32(&finder.calls))
}

func TestCacheInvalidateForcesFreshLookup(t *testing.T) {
	finder := &fakeFinder{addrs: []peer.AddrInfo{{ID: peer.ID("p1")}}}
	c, err := New(finder)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "swarm-a")
	require.NoError(t, err)
	c.Invalidate("swarm-a")
	_, err = c.Get(context.Background(), "swarm-a")
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&finder.calls))
}

func TestCacheKeysAreIndependent(t *testing.T) {
	finder := &fakeFinder{}
	c, err := New(finder)
	require.NoError(t, err)

	_, _ = c.Get(context.Background(), "swarm-a")
	_, _ = c.Get(context.Background(), "swarm-b")
	require.EqualValues(t, 2, atomic.LoadInt32(&finder.calls))
}

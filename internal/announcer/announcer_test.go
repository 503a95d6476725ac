package announcer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddRemoveTracksEntries(t *testing.T) {
	// A canceled parent context makes every announce loop exit before it
	// reaches the (nil) discovery service.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(ctx, nil, []byte("test-secret"))
	defer a.Stop()

	a.Add("swarm-a")
	a.Add("swarm-a")
	a.mu.Lock()
	require.Len(t, a.entries, 1)
	require.Contains(t, a.cancel, "swarm-a")
	a.mu.Unlock()

	a.Remove("swarm-a")
	a.mu.Lock()
	require.Empty(t, a.entries)
	require.Empty(t, a.cancel)
	a.mu.Unlock()
}

func TestBackoffEscalatesAndResets(t *testing.T) {
	e := &entry{backoff: backoffInitial}
	require.Equal(t, backoffInitial, e.backoff)

	e.backoff *= 2
	require.Equal(t, 2*backoffInitial, e.backoff)

	e.backoff = backoffMax * 2
	if e.backoff > backoffMax {
		e.backoff = backoffMax
	}
	require.Equal(t, backoffMax, e.backoff)

	e.backoff = backoffInitial
	require.Equal(t, backoffInitial, e.backoff)
}

func TestPeriodAndBackoffBounds(t *testing.T) {
	require.True(t, backoffInitial < backoffMax)
	require.True(t, backoffMax < period)
}

var _ = time.Second

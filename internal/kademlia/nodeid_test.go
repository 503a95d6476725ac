package kademlia

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenStoreValidatesFreshToken(t *testing.T) {
	ts, err := NewTokenStore(time.Hour)
	require.NoError(t, err)

	id, err := RandomNodeID()
	require.NoError(t, err)
	addr := net.ParseIP("203.0.113.5")

	tok := ts.Issue(addr, id)
	require.True(t, ts.Validate(tok, addr, id))
}

func TestTokenStoreRejectsWrongAddress(t *testing.T) {
	ts, err := NewTokenStore(time.Hour)
	require.NoError(t, err)

	id, err := RandomNodeID()
	require.NoError(t, err)

	tok := ts.Issue(net.ParseIP("203.0.113.5"), id)
	require.False(t, ts.Validate(tok, net.ParseIP("203.0.113.6"), id))
}

func TestTokenStoreAcceptsPreviousSecretAfterRotation(t *testing.T) {
	ts, err := NewTokenStore(20 * time.Millisecond)
	require.NoError(t, err)

	id, err := RandomNodeID()
	require.NoError(t, err)
	addr := net.ParseIP("198.51.100.7")

	tok := ts.Issue(addr, id)
	time.Sleep(30 * time.Millisecond)
	// Triggers rotation: tok was issued under the old "current", which is
	// now "previous" — it must still validate.
	require.True(t, ts.Validate(tok, addr, id))

	time.Sleep(30 * time.Millisecond)
	// A second rotation pushes the original secret out of the window.
	require.False(t, ts.Validate(tok, addr, id))
}

func TestIsMartian(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":   true,
		"10.0.0.5":    true,
		"192.168.1.1": true,
		"169.254.1.1": true,
		"8.8.8.8":     false,
		"203.0.113.9": false,
	}
	for ipStr, want := range cases {
		got := isMartian(net.ParseIP(ipStr))
		require.Equalf(t, want, got, "isMartian(%s)", ipStr)
	}
}

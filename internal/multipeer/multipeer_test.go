package multipeer

import (
	"bytes"
	"crypto/ed25519"
	"net/http"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/equalitie/ouinet-sub000/internal/httpstore"
	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

const testInjectionID = "11111111-2222-3333-4444-555555555555"

func testEntry(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, body string, blockSize int) *httpstore.Entry {
	t.Helper()
	reader, err := signedhttp.Sign(200, http.Header{}, bytes.NewBufferString(body), signedhttp.SignOptions{
		PrivateKey:  priv,
		URI:         "https://example.com/a",
		InjectionID: testInjectionID,
		Timestamp:   1700000000,
		BlockSize:   blockSize,
	})
	require.NoError(t, err)

	var parts []signedhttp.Part
	for {
		p, err := reader.ReadPart()
		require.NoError(t, err)
		parts = append(parts, p)
		if p.Kind == signedhttp.PartEnd {
			break
		}
	}

	store := httpstore.NewStore(t.TempDir())
	id := resourceid.FromURL("https://example.com/a")
	require.NoError(t, store.Store(id, parts))
	entry, err := store.Whole(id)
	require.NoError(t, err)
	return entry
}

func TestVerifySigChainAcceptsGenuineHashList(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	entry := testEntry(t, pub, priv, "Hello, multi-peer world!", 8)
	require.Greater(t, len(entry.Sigs), 1)

	require.NoError(t, verifySigChain(entry.Sigs, testInjectionID, pub))
}

func TestVerifySigChainRejectsTamperedDigest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	entry := testEntry(t, pub, priv, "Hello, multi-peer world!", 8)
	require.NoError(t, verifySigChain(entry.Sigs, testInjectionID, pub))

	tampered := append([]httpstore.SigEntry(nil), entry.Sigs...)
	tampered[0].DataHash[0] ^= 0xFF
	require.Error(t, verifySigChain(tampered, testInjectionID, pub))
}

func TestVerifySigChainRejectsWrongKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	entry := testEntry(t, pub, priv, "short body", 4096)
	require.Error(t, verifySigChain(entry.Sigs, testInjectionID, otherPub))
}

func TestAllMartianAddrsDetectsPrivateOnlySet(t *testing.T) {
	priv, err := ma.NewMultiaddr("/ip4/10.0.0.5/tcp/4001")
	require.NoError(t, err)
	pub, err := ma.NewMultiaddr("/ip4/8.8.8.8/tcp/4001")
	require.NoError(t, err)

	require.True(t, allMartianAddrs([]ma.Multiaddr{priv}))
	require.False(t, allMartianAddrs([]ma.Multiaddr{priv, pub}))
}

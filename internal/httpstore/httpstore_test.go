package httpstore

import (
	"bytes"
	"crypto/ed25519"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

func testSeed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func signedParts(t *testing.T, body string, blockSize int) []signedhttp.Part {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(testSeed())
	reader, err := signedhttp.Sign(200, http.Header{}, bytes.NewBufferString(body), signedhttp.SignOptions{
		PrivateKey:  priv,
		URI:         "https://example.com/a",
		InjectionID: "11111111-2222-3333-4444-555555555555",
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
	return parts
}

func TestStoreWriteAndReadWhole(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	parts := signedParts(t, "Hello, World!", 8)
	id := resourceid.FromURL("https://example.com/a")

	require.NoError(t, store.Store(id, parts))

	entry, err := store.Whole(id)
	require.NoError(t, err)
	require.Equal(t, "Hello, World!", string(entry.Body))
	require.Len(t, entry.Sigs, 2)
	require.Equal(t, uint64(0), entry.Sigs[0].Offset)
	require.Equal(t, uint64(8), entry.Sigs[1].Offset)
	require.False(t, entry.Sigs[0].HasPrevChained)
	require.True(t, entry.Sigs[1].HasPrevChained)

	priv := ed25519.NewKeyFromSeed(testSeed())
	pub := priv.Public().(ed25519.PublicKey)
	result, err := signedhttp.Verify(&replayReader{parts: entry.Parts()}, signedhttp.VerifyOptions{PubKey: pub})
	require.NoError(t, err)
	require.Equal(t, "Hello, World!", string(result.Body))
}

func TestStoreWriteEmptyBody(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	parts := signedParts(t, "", 8)
	id := resourceid.FromURL("https://example.com/empty")
	require.NoError(t, store.Store(id, parts))

	entry, err := store.Whole(id)
	require.NoError(t, err)
	require.Empty(t, entry.Body)
	require.Len(t, entry.Sigs, 1)

	priv := ed25519.NewKeyFromSeed(testSeed())
	pub := priv.Public().(ed25519.PublicKey)
	result, err := signedhttp.Verify(&replayReader{parts: entry.Parts()}, signedhttp.VerifyOptions{PubKey: pub})
	require.NoError(t, err)
	require.Empty(t, result.Body)
}

func TestStoreForEachRemovesRejected(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	id := resourceid.FromURL("https://example.com/a")
	require.NoError(t, store.Store(id, signedParts(t, "Hello, World!", 8)))

	var seen []resourceid.ResourceId
	err := store.ForEach(func(rid resourceid.ResourceId, head *signedhttp.Head) bool {
		seen = append(seen, rid)
		return false
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)

	_, err = store.Whole(id)
	require.Error(t, err)
}

func TestResolveBodyPathRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := resolveBodyPath(root, "../../etc/passwd")
	require.Error(t, err)

	_, err = resolveBodyPath(root, "/etc/passwd")
	require.Error(t, err)

	ok, err := resolveBodyPath(root, filepath.Join("ab", "blob"))
	require.NoError(t, err)
	require.Contains(t, ok, root)
}

// replayReader adapts a []signedhttp.Part back into a PartReader for
// re-verification in tests, mirroring the unexported sliceReader used
// internally by the signedhttp package.
type replayReader struct {
	parts []signedhttp.Part
	pos   int
}

func (r *replayReader) ReadPart() (signedhttp.Part, error) {
	if r.pos >= len(r.parts) {
		return signedhttp.Part{Kind: signedhttp.PartEnd}, nil
	}
	p := r.parts[r.pos]
	r.pos++
	return p, nil
}

package signedhttp

import (
	"bytes"
	"crypto/ed25519"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func TestSignVerifyRoundtrip(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(testSeed())

	body := "Hello, World!"
	opts := SignOptions{
		PrivateKey:  priv,
		URI:         "https://example.com/a",
		InjectionID: "11111111-2222-3333-4444-555555555555",
		Timestamp:   1700000000,
		BlockSize:   8,
	}

	reader, err := Sign(200, http.Header{}, bytes.NewBufferString(body), opts)
	require.NoError(t, err)

	var parts []Part
	for {
		p, err := reader.ReadPart()
		require.NoError(t, err)
		parts = append(parts, p)
		if p.Kind == PartEnd {
			break
		}
	}

	var chunkBodies [][]byte
	var chunkHeaders []*ChunkHeader
	for _, p := range parts {
		if p.Kind == PartChunkBody {
			chunkBodies = append(chunkBodies, p.ChunkBody)
		}
		if p.Kind == PartChunkHeader {
			chunkHeaders = append(chunkHeaders, p.ChunkHeader)
		}
	}
	require.Len(t, chunkBodies, 2)
	require.Equal(t, 8, len(chunkBodies[0]))
	require.Equal(t, 5, len(chunkBodies[1]))
	require.Len(t, chunkHeaders, 3)
	require.Equal(t, 0, chunkHeaders[2].Size)
	require.Empty(t, chunkHeaders[0].Exts)

	trailer := parts[len(parts)-2]
	require.Equal(t, PartTrailer, trailer.Kind)
	require.Equal(t, "13", trailer.Trailer.Header.Get(HeaderDataSize))
	require.Equal(t, "SHA-256=3/1gIbsr1bCvZ2KQgJ7DpTGR3YHH9wpLKGiKNiGCmG8=", trailer.Trailer.Header.Get(HeaderDigest))

	pub := priv.Public().(ed25519.PublicKey)
	result, err := Verify(&sliceReader{parts: parts}, VerifyOptions{PubKey: pub})
	require.NoError(t, err)
	require.Equal(t, body, string(result.Body))
	require.Equal(t, uint64(13), result.DataSize)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(testSeed())
	pub := priv.Public().(ed25519.PublicKey)

	opts := SignOptions{
		PrivateKey:  priv,
		URI:         "https://example.com/a",
		InjectionID: "11111111-2222-3333-4444-555555555555",
		Timestamp:   1700000000,
		BlockSize:   8,
	}
	reader, err := Sign(200, http.Header{}, bytes.NewBufferString("Hello, World!"), opts)
	require.NoError(t, err)

	var parts []Part
	for {
		p, err := reader.ReadPart()
		require.NoError(t, err)
		parts = append(parts, p)
		if p.Kind == PartEnd {
			break
		}
	}

	for i := range parts {
		if parts[i].Kind == PartChunkBody && len(parts[i].ChunkBody) > 5 {
			tampered := append([]byte(nil), parts[i].ChunkBody...)
			tampered[5] ^= 0x80
			parts[i].ChunkBody = tampered
		}
	}

	_, err = Verify(&sliceReader{parts: parts}, VerifyOptions{PubKey: pub})
	require.Error(t, err)
}

func TestSignVerifyEmptyBody(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(testSeed())
	pub := priv.Public().(ed25519.PublicKey)

	opts := SignOptions{
		PrivateKey:  priv,
		URI:         "https://example.com/empty",
		InjectionID: "11111111-2222-3333-4444-555555555555",
		Timestamp:   1700000000,
		BlockSize:   8,
	}
	reader, err := Sign(200, http.Header{}, bytes.NewBuffer(nil), opts)
	require.NoError(t, err)

	var parts []Part
	var chunkHeaderCount, chunkBodyCount int
	for {
		p, err := reader.ReadPart()
		require.NoError(t, err)
		parts = append(parts, p)
		if p.Kind == PartChunkHeader {
			chunkHeaderCount++
		}
		if p.Kind == PartChunkBody {
			chunkBodyCount++
		}
		if p.Kind == PartEnd {
			break
		}
	}
	require.Equal(t, 1, chunkHeaderCount)
	require.Equal(t, 0, chunkBodyCount)

	result, err := Verify(&sliceReader{parts: parts}, VerifyOptions{PubKey: pub})
	require.NoError(t, err)
	require.Empty(t, result.Body)
}

func TestKeepSignedDropsUnsignedHeaders(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(testSeed())
	pub := priv.Public().(ed25519.PublicKey)

	head := &Head{StatusCode: 200, Header: http.Header{}}
	head.Header.Set(HeaderURI, "https://example.com/a")
	head.Header.Set(HeaderVersion, "6")
	head.Header.Set(HeaderInjection, InjectionInfo{ID: "11111111-2222-3333-4444-555555555555", Timestamp: 1700000000}.String())
	head.Header.Set(HeaderBSigs, BSigs{PubKey: pub, Algorithm: "hs2019", BlockSize: 8}.String())
	head.Header.Set("Connection", "keep-alive")

	sig, err := Sign0(head, priv, pub, 1700000000)
	require.NoError(t, err)
	head.Header.Set(HeaderSig0, sig.String())

	out := KeepSigned(head)
	require.Empty(t, out.Header.Get("Connection"))
	require.Equal(t, "https://example.com/a", out.Header.Get(HeaderURI))
	require.NotEmpty(t, out.Header.Get(HeaderSig0))
}

func TestNewInjectionRoundtrip(t *testing.T) {
	inj := NewInjection()
	require.NotEmpty(t, inj.ID)
	require.NotZero(t, inj.Timestamp)

	parsed, err := ParseInjection(inj.String())
	require.NoError(t, err)
	require.Equal(t, inj, parsed)

	other := NewInjection()
	require.NotEqual(t, inj.ID, other.ID)
}

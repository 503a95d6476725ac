package signedhttp

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/equalitie/ouinet-sub000/internal/chainhash"
)

// sig0Headers lists, in signing order, the fields X-Ouinet-Sig0 covers:
// the frame-less head only.
var sig0Headers = []string{
	"(response-status)",
	"(created)",
	HeaderVersion,
	HeaderURI,
	HeaderInjection,
	HeaderBSigs,
}

// sig1Headers extends sig0Headers with the two trailer fields added at
// the end of the stream, per §4.1.1.
var sig1Headers = append(append([]string{}, sig0Headers...), HeaderDataSize, HeaderDigest)

// SignOptions configures the signing transformer.
type SignOptions struct {
	PrivateKey  ed25519.PrivateKey
	URI         string
	InjectionID string
	Timestamp   int64
	BlockSize   int
}

// Sign reads statusCode/header/body in full and returns the complete
// signed Part stream as a PartReader.
//
// This implementation computes the whole signed stream eagerly rather
// than lazily pulling from an upstream reader block-by-block: the
// reference implementation is a true coroutine-suspended stream
// transformer, but since every resource this cache handles is capped at a
// bounded size (16 MiB per block, and stored resources are read whole for
// hashing anyway) buffering the output here trades a small, bounded
// amount of memory for a substantially simpler state machine. Downstream
// consumers (the HTTP store writer, the multi-peer reader's local
// verification) only ever need the fully verified/signed sequence, never
// true backpressure against an unbounded upstream.
func Sign(statusCode int, header http.Header, body io.Reader, opts SignOptions) (PartReader, error) {
	if opts.BlockSize <= 0 {
		return nil, fmt.Errorf("signedhttp: block size must be positive")
	}
	pub := opts.PrivateKey.Public().(ed25519.PublicKey)

	head := &Head{StatusCode: statusCode, Header: header.Clone()}
	head.Header.Set(HeaderVersion, strconv.Itoa(CurrentProtocolVersion))
	head.Header.Set(HeaderURI, opts.URI)
	head.Header.Set(HeaderInjection, InjectionInfo{ID: opts.InjectionID, Timestamp: opts.Timestamp}.String())
	head.Header.Set(HeaderBSigs, BSigs{PubKey: pub, Algorithm: "hs2019", BlockSize: opts.BlockSize}.String())
	head.Header.Set("Transfer-Encoding", "chunked")
	head.Header.Set("Trailer", HeaderDataSize+", "+HeaderDigest+", "+HeaderSig1)

	sig0, err := Sign0(head, opts.PrivateKey, pub, opts.Timestamp)
	if err != nil {
		return nil, err
	}
	head.Header.Set(HeaderSig0, sig0.String())

	var parts []Part
	parts = append(parts, Part{Kind: PartHead, Head: head.Clone()})

	hasher := chainhash.NewHasher()
	bodyDigest := sha256.New()
	var total uint64

	buf := make([]byte, opts.BlockSize)
	var pendingSig, pendingHash []byte

	first := true
	for {
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			bodyDigest.Write(data)
			total += uint64(n)

			dhash := chainhash.DataHash(data)
			block := hasher.CalculateBlock(uint64(n), dhash)
			sig := block.Sign(opts.PrivateKey, opts.InjectionID)

			exts := ""
			if !first {
				exts = FormatChunkExts(pendingSig, pendingHash)
			}
			parts = append(parts, Part{Kind: PartChunkHeader, ChunkHeader: &ChunkHeader{Size: n, Exts: exts}})
			parts = append(parts, Part{Kind: PartChunkBody, ChunkBody: data})

			pendingSig = sig
			ch := block.Digest
			pendingHash = ch[:]
			first = false
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
		if n < opts.BlockSize {
			break
		}
	}

	if first {
		// Empty body: block 0 covers zero bytes and its own extension is
		// carried directly on the sole, terminal chunk header.
		dhash := chainhash.DataHash(nil)
		block := hasher.CalculateBlock(0, dhash)
		sig := block.Sign(opts.PrivateKey, opts.InjectionID)
		ch := block.Digest
		parts = append(parts, Part{Kind: PartChunkHeader, ChunkHeader: &ChunkHeader{
			Size: 0,
			Exts: FormatChunkExts(sig, ch[:]),
		}})
	} else {
		parts = append(parts, Part{Kind: PartChunkHeader, ChunkHeader: &ChunkHeader{
			Size: 0,
			Exts: FormatChunkExts(pendingSig, pendingHash),
		}})
	}

	trailerHeader := http.Header{}
	trailerHeader.Set(HeaderDataSize, strconv.FormatUint(total, 10))
	trailerHeader.Set(HeaderDigest, "SHA-256="+base64.StdEncoding.EncodeToString(bodyDigest.Sum(nil)))

	sig1, err := Sign1(head, trailerHeader, opts.PrivateKey, pub, opts.Timestamp)
	if err != nil {
		return nil, err
	}
	trailerHeader.Set(HeaderSig1, sig1.String())

	parts = append(parts, Part{Kind: PartTrailer, Trailer: &Trailer{Header: trailerHeader}})
	parts = append(parts, Part{Kind: PartEnd})

	return &sliceReader{parts: parts}, nil
}

// Sign0 computes the initial head-only signature (X-Ouinet-Sig0).
func Sign0(head *Head, priv ed25519.PrivateKey, pub ed25519.PublicKey, created int64) (Signature, error) {
	return SignHeaders(head, nil, priv, pub, created, sig0Headers)
}

// Sign1 computes the final head+trailer signature (X-Ouinet-Sig1).
func Sign1(head *Head, trailer http.Header, priv ed25519.PrivateKey, pub ed25519.PublicKey, created int64) (Signature, error) {
	return SignHeaders(head, trailer, priv, pub, created, sig1Headers)
}

// SignHeaders signs an explicit header list against the given head and
// optional trailer fields.
func SignHeaders(head *Head, trailer http.Header, priv ed25519.PrivateKey, pub ed25519.PublicKey, created int64, headers []string) (Signature, error) {
	return SignSignature(priv, pub, created, headers, head.StatusCode, nil, "", head.Header, trailer)
}

package signedhttp

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/equalitie/ouinet-sub000/internal/chainhash"
	"github.com/equalitie/ouinet-sub000/internal/ouierr"
)

// VerifyOptions configures the verifying transformer.
type VerifyOptions struct {
	PubKey ed25519.PublicKey
	// RangeResumption indicates the upstream is a partial response whose
	// first chunk header carries a required ouihash seeding CHASH[i-1].
	RangeResumption bool
}

// VerifiedResult is the outcome of a successful Verify call: the
// validated head, the body bytes, and the Part stream ready to be
// replayed (e.g. into an HTTP store writer or back out to an agent).
type VerifiedResult struct {
	Head      *Head
	Body      []byte
	DataSize  uint64
	Parts     PartReader
	Injection InjectionInfo
	BSigs     BSigs
}

// Verify consumes an upstream part stream and verifies it end to end, per
// §4.1.3. Like Sign, this buffers the whole stream before returning
// (see Sign's doc comment for the rationale) rather than exposing a lazy
// pull interface; callers that need the established parts as a stream
// (e.g. to re-serve them) use the returned VerifiedResult.Parts.
func Verify(upstream PartReader, opts VerifyOptions) (*VerifiedResult, error) {
	headPart, err := readKind(upstream, PartHead)
	if err != nil {
		return nil, err
	}
	head := headPart.Head

	bsigsVal := head.Header.Get(HeaderBSigs)
	if bsigsVal == "" {
		return nil, fmt.Errorf("signedhttp: %w: missing BSigs", ouierr.ErrBadMessage)
	}
	bsigs, err := ParseBSigs(bsigsVal)
	if err != nil {
		return nil, fmt.Errorf("signedhttp: %w: %v", ouierr.ErrBadMessage, err)
	}

	injVal := head.Header.Get(HeaderInjection)
	if injVal == "" {
		return nil, fmt.Errorf("signedhttp: %w: missing injection header", ouierr.ErrBadMessage)
	}
	injection, err := ParseInjection(injVal)
	if err != nil {
		return nil, fmt.Errorf("signedhttp: %w: %v", ouierr.ErrBadMessage, err)
	}

	if err := verifyHeadSignatures(head, opts.PubKey); err != nil {
		return nil, err
	}

	outParts := []Part{{Kind: PartHead, Head: head.Clone()}}

	hasher := chainhash.NewHasher()

	var pendingData []byte
	havePending := false
	var pendingHeader *ChunkHeader

	bodyDigest := sha256.New()
	var total uint64

	firstHeader := true

	for {
		hp, err := upstream.ReadPart()
		if err != nil {
			return nil, err
		}
		if hp.Kind != PartChunkHeader {
			return nil, fmt.Errorf("signedhttp: %w", ouierr.ErrExpectedChunkHdr)
		}
		hdr := hp.ChunkHeader

		sigBytes, hashBytes, err := ChunkExts(hdr.Exts)
		if err != nil {
			return nil, fmt.Errorf("signedhttp: %w: %v", ouierr.ErrMalformedSignature, err)
		}

		if havePending {
			// This header's extension verifies the previously buffered
			// block.
			if len(sigBytes) == 0 || len(hashBytes) == 0 {
				return nil, fmt.Errorf("signedhttp: %w: missing ouisig/ouihash", ouierr.ErrExpectedChunkHdr)
			}
			if len(pendingData) > bsigs.BlockSize {
				return nil, fmt.Errorf("signedhttp: %w", ouierr.ErrBlockTooBig)
			}
			dhash := chainhash.DataHash(pendingData)
			block := hasher.CalculateBlock(uint64(len(pendingData)), dhash)

			computed := block.Digest
			if !hashesEqual(computed[:], hashBytes) {
				return nil, fmt.Errorf("signedhttp: %w", ouierr.ErrInconsistentHash)
			}
			if !block.Verify(opts.PubKey, injection.ID, sigBytes) {
				return nil, fmt.Errorf("signedhttp: %w", ouierr.ErrMalformedSignature)
			}

			outParts = append(outParts, Part{Kind: PartChunkHeader, ChunkHeader: pendingHeader})
			outParts = append(outParts, Part{Kind: PartChunkBody, ChunkBody: pendingData})
			bodyDigest.Write(pendingData)
			total += uint64(len(pendingData))

			havePending = false
			pendingData = nil
			pendingHeader = nil
		} else if firstHeader && hdr.Size == 0 {
			// Empty-body response: the sole header both opens and closes
			// the stream, carrying its own (block 0) extension directly
			// rather than describing a "previous" block, since there is
			// no data chunk before it (see Sign's symmetric case).
			if len(sigBytes) == 0 || len(hashBytes) == 0 {
				return nil, fmt.Errorf("signedhttp: %w: empty-body header missing ouisig/ouihash", ouierr.ErrExpectedFirstChunkHdr)
			}
			dhash := chainhash.DataHash(nil)
			block := hasher.CalculateBlock(0, dhash)
			computed := block.Digest
			if !hashesEqual(computed[:], hashBytes) {
				return nil, fmt.Errorf("signedhttp: %w", ouierr.ErrInconsistentHash)
			}
			if !block.Verify(opts.PubKey, injection.ID, sigBytes) {
				return nil, fmt.Errorf("signedhttp: %w", ouierr.ErrMalformedSignature)
			}
		} else if firstHeader && opts.RangeResumption {
			if len(hashBytes) == 0 {
				return nil, fmt.Errorf("signedhttp: %w: range resumption missing ouihash", ouierr.ErrExpectedFirstChunkHdr)
			}
			var seed chainhash.Digest
			copy(seed[:], hashBytes)
			hasher.SetPrevChainedDigest(seed)
		} else if firstHeader {
			if len(sigBytes) != 0 || len(hashBytes) != 0 {
				return nil, fmt.Errorf("signedhttp: %w: unexpected extension on first chunk header", ouierr.ErrExpectedFirstChunkHdr)
			}
		}
		firstHeader = false

		if hdr.Size == 0 {
			outParts = append(outParts, Part{Kind: PartChunkHeader, ChunkHeader: hdr})
			break
		}

		if hdr.Size > bsigs.BlockSize {
			return nil, fmt.Errorf("signedhttp: %w", ouierr.ErrBlockTooBig)
		}
		bp, err := upstream.ReadPart()
		if err != nil {
			return nil, err
		}
		if bp.Kind != PartChunkBody {
			return nil, fmt.Errorf("signedhttp: %w", ouierr.ErrExpectedChunkBody)
		}
		pendingData = bp.ChunkBody
		pendingHeader = hdr
		havePending = true
	}

	trailerPart, err := readKind(upstream, PartTrailer)
	if err != nil {
		return nil, err
	}
	trailer := trailerPart.Trailer

	dataSizeVal := trailer.Header.Get(HeaderDataSize)
	dataSize, err := strconv.ParseUint(dataSizeVal, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("signedhttp: %w: bad X-Ouinet-Data-Size", ouierr.ErrBadMessage)
	}
	if dataSize != total {
		return nil, fmt.Errorf("signedhttp: body length mismatch: got %d want %d", total, dataSize)
	}

	digestVal := trailer.Header.Get(HeaderDigest)
	if !strings.HasPrefix(digestVal, "SHA-256=") {
		return nil, fmt.Errorf("signedhttp: %w: unsupported Digest algorithm", ouierr.ErrBadMessage)
	}
	wantDigest, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(digestVal, "SHA-256="))
	if err != nil {
		return nil, fmt.Errorf("signedhttp: %w: bad Digest base64", ouierr.ErrBadMessage)
	}
	if !hashesEqual(bodyDigest.Sum(nil), wantDigest) {
		return nil, fmt.Errorf("signedhttp: body digest mismatch")
	}

	sig1Val := trailer.Header.Get(HeaderSig1)
	if sig1Val == "" {
		return nil, fmt.Errorf("signedhttp: %w: missing X-Ouinet-Sig1", ouierr.ErrBadMessage)
	}
	sig1, err := ParseSignature(sig1Val)
	if err != nil {
		return nil, fmt.Errorf("signedhttp: %w: %v", ouierr.ErrMalformedSignature, err)
	}
	if !hashesEqual(sig1.PubKey, opts.PubKey) {
		return nil, fmt.Errorf("signedhttp: Sig1 keyId does not match configured public key")
	}
	ok, err := VerifySignature(sig1, head.StatusCode, nil, "", head.Header, trailer.Header)
	if err != nil || !ok {
		return nil, fmt.Errorf("signedhttp: %w: Sig1 verification failed", ouierr.ErrMalformedSignature)
	}

	outParts = append(outParts, Part{Kind: PartTrailer, Trailer: trailer})
	outParts = append(outParts, Part{Kind: PartEnd})

	return &VerifiedResult{
		Head:      head,
		Body:      CollectBody(outParts),
		DataSize:  total,
		Parts:     &sliceReader{parts: outParts},
		Injection: injection,
		BSigs:     bsigs,
	}, nil
}

// VerifyHead verifies only a response head's Sig0, without a body — used
// by a multi-peer reader to authenticate a peer's hash-list response
// before trusting any of the per-block signatures that come with it.
func VerifyHead(head *Head, pub ed25519.PublicKey) error {
	return verifyHeadSignatures(head, pub)
}

// verifyHeadSignatures verifies the head's X-Ouinet-Sig0, whose keyId
// must match pub. Other X-Ouinet-Sig* fields in the head are not checked,
// and a Sig0 under a different key is an error.
func verifyHeadSignatures(head *Head, pub ed25519.PublicKey) error {
	sig0Val := head.Header.Get(HeaderSig0)
	if sig0Val == "" {
		return fmt.Errorf("signedhttp: %w: missing X-Ouinet-Sig0", ouierr.ErrBadMessage)
	}
	sig0, err := ParseSignature(sig0Val)
	if err != nil {
		return fmt.Errorf("signedhttp: %w: %v", ouierr.ErrMalformedSignature, err)
	}
	if !hashesEqual(sig0.PubKey, pub) {
		return fmt.Errorf("signedhttp: Sig0 keyId does not match configured public key")
	}
	ok, err := VerifySignature(sig0, head.StatusCode, nil, "", head.Header, nil)
	if err != nil {
		return fmt.Errorf("signedhttp: %w: %v", ouierr.ErrMalformedSignature, err)
	}
	if !ok {
		return fmt.Errorf("signedhttp: %w: Sig0 verification failed", ouierr.ErrMalformedSignature)
	}
	return nil
}

func readKind(r PartReader, kind PartKind) (Part, error) {
	p, err := r.ReadPart()
	if err != nil {
		return Part{}, err
	}
	if p.Kind != kind {
		switch kind {
		case PartHead:
			return Part{}, fmt.Errorf("signedhttp: %w", ouierr.ErrExpectedHead)
		case PartTrailer:
			return Part{}, fmt.Errorf("signedhttp: %w", ouierr.ErrExpectedTrailerOrEnd)
		}
		return Part{}, fmt.Errorf("signedhttp: unexpected part kind %d", p.Kind)
	}
	return p, nil
}

func hashesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

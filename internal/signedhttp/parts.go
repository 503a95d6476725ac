// Package signedhttp implements the chained-hash signed streaming HTTP
// format: the sign (injector-side) and verify (client-side) transformers,
// the HTTP signature primitive, and the keep-signed header filter.
//
// Grounded on original_source/src/cache/http_sign.cpp (SigningReader::Impl,
// VerifyingReader::Impl, HttpSignature, KeepSignedReader) and
// original_source/src/cache/chain_hasher.h.
package signedhttp

import "net/http"

// PartKind tags the variant held by a Part, mirroring the reference
// implementation's http_response::Part boost::variant (see DESIGN NOTES
// in the specification: "boost::variant over response parts becomes a
// tagged union with exhaustive matching").
type PartKind int

const (
	PartHead PartKind = iota
	PartChunkHeader
	PartChunkBody
	PartTrailer
	PartEnd
)

// Head is an HTTP response head: status line plus header fields, in the
// order they were set (Header is a standard net/http.Header map, so
// unordered; ordering is only meaningful to the extent SigningString
// depends on a caller-supplied headers= order, not Head field order).
type Head struct {
	StatusCode int
	Header     http.Header
}

// Clone returns a deep copy.
func (h *Head) Clone() *Head {
	if h == nil {
		return nil
	}
	return &Head{StatusCode: h.StatusCode, Header: h.Header.Clone()}
}

// ChunkHeader is one chunk-size-plus-extensions marker in the framed body.
// Size is the length of the ChunkBody part that follows (0 for the
// terminal chunk, which has no following ChunkBody).
type ChunkHeader struct {
	Size int
	Exts string // raw extension string, e.g. `;ouisig="...";ouihash="..."`
}

// Trailer carries the fields added after the body: X-Ouinet-Data-Size,
// Digest and X-Ouinet-Sig1.
type Trailer struct {
	Header http.Header
}

// Part is one element of a response part stream.
type Part struct {
	Kind        PartKind
	Head        *Head
	ChunkHeader *ChunkHeader
	ChunkBody   []byte
	Trailer     *Trailer
}

// PartReader produces a Head, then zero or more (ChunkHeader, ChunkBody)
// pairs (the last ChunkHeader having Size 0 and no following ChunkBody),
// then a Trailer, then one final call returning a PartEnd Part (or io.EOF
// style callers may instead just stop calling after Trailer — this
// implementation always emits an explicit PartEnd for symmetry with the
// reference's End variant).
type PartReader interface {
	ReadPart() (Part, error)
}

// sliceReader is a PartReader backed by a pre-computed slice, used by both
// the signer and the verifier: both transformers compute their entire
// output eagerly (see doc comment on Sign and Verify for why) and then
// replay it part by part.
type sliceReader struct {
	parts []Part
	pos   int
}

func (r *sliceReader) ReadPart() (Part, error) {
	if r.pos >= len(r.parts) {
		return Part{Kind: PartEnd}, nil
	}
	p := r.parts[r.pos]
	r.pos++
	return p, nil
}

// CollectBody reads every ChunkBody part in order and concatenates them.
func CollectBody(parts []Part) []byte {
	var out []byte
	for _, p := range parts {
		if p.Kind == PartChunkBody {
			out = append(out, p.ChunkBody...)
		}
	}
	return out
}

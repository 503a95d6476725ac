package httpstore

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/equalitie/ouinet-sub000/internal/chainhash"
	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// readHead parses the on-disk head file (an HTTP/1.1 status line plus
// header fields) back into a signedhttp.Head.
func readHead(path string) (*signedhttp.Head, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	resp, err := http.ReadResponse(bufio.NewReader(f), nil)
	if err != nil {
		return nil, fmt.Errorf("httpstore: bad head file %s: %w", path, err)
	}
	return &signedhttp.Head{StatusCode: resp.StatusCode, Header: resp.Header}, nil
}

// Entry is one resource held by the store, as loaded by Whole/ForEach.
type Entry struct {
	ID   resourceid.ResourceId
	Head *signedhttp.Head
	Body []byte
	Sigs []SigEntry
}

// Whole loads a complete resource: head, full body, and the parsed sigs
// file, reassembled into a signedhttp Part stream suitable for re-serving
// or re-verifying.
func (s *Store) Whole(id resourceid.ResourceId) (*Entry, error) {
	dir := s.resourceDir(id)
	head, err := readHead(filepath.Join(dir, headFileName))
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(filepath.Join(dir, bodyFileName))
	if err != nil {
		if bp, perr := os.ReadFile(filepath.Join(dir, bodyPathFileName)); perr == nil {
			resolved, rerr := resolveBodyPath(s.Root, string(bytes.TrimSpace(bp)))
			if rerr != nil {
				return nil, rerr
			}
			body, err = os.ReadFile(resolved)
		}
		if err != nil {
			return nil, err
		}
	}
	sigsFile, err := os.Open(filepath.Join(dir, sigsFileName))
	if err != nil {
		return nil, err
	}
	defer sigsFile.Close()
	sigs, err := ReadSigEntries(sigsFile)
	if err != nil {
		return nil, err
	}
	return &Entry{ID: id, Head: head, Body: body, Sigs: sigs}, nil
}

// chashOf recomputes a sigs record's chained digest CHASH[i] from its
// stored DHASH[i] and PrevChainedDigest (CHASH[i-1]), the two fields the
// on-disk §4.2 format actually records — the wire chunk extension and
// hash-list signature both commit to this derived value, not to the
// stored DataHash directly.
func chashOf(e SigEntry) chainhash.Digest {
	hasher := chainhash.NewHasher()
	hasher.SetOffset(e.Offset)
	if e.HasPrevChained {
		hasher.SetPrevChainedDigest(e.PrevChainedDigest)
	}
	return hasher.CalculateBlock(0, e.DataHash).Digest
}

// Parts reassembles an Entry into the signedhttp Part stream it was
// originally signed as, re-deriving each chunk header's extension from
// the stored sigs records.
func (e *Entry) Parts() []signedhttp.Part {
	out := []signedhttp.Part{{Kind: signedhttp.PartHead, Head: e.Head.Clone()}}

	if len(e.Sigs) == 1 && len(e.Body) == 0 {
		// Empty-body resource: the sole sigs record is a block covering
		// zero bytes, carried on a single terminal header that names its
		// own extension directly (as signedhttp.Sign emits it).
		only := e.Sigs[0]
		chash := chashOf(only)
		out = append(out, signedhttp.Part{Kind: signedhttp.PartChunkHeader, ChunkHeader: &signedhttp.ChunkHeader{
			Size: 0,
			Exts: signedhttp.FormatChunkExts(only.Signature, chash[:]),
		}})
	} else {
		pos := uint64(0)
		for i, entry := range e.Sigs {
			var size int
			if i+1 < len(e.Sigs) {
				size = int(e.Sigs[i+1].Offset - entry.Offset)
			} else {
				size = len(e.Body) - int(entry.Offset)
			}
			exts := ""
			if i > 0 {
				prevEntry := e.Sigs[i-1]
				prevChash := chashOf(prevEntry)
				exts = signedhttp.FormatChunkExts(prevEntry.Signature, prevChash[:])
			}
			out = append(out, signedhttp.Part{Kind: signedhttp.PartChunkHeader, ChunkHeader: &signedhttp.ChunkHeader{Size: size, Exts: exts}})
			if size > 0 {
				out = append(out, signedhttp.Part{Kind: signedhttp.PartChunkBody, ChunkBody: e.Body[pos : pos+uint64(size)]})
				pos += uint64(size)
			}
		}
		if len(e.Sigs) > 0 {
			last := e.Sigs[len(e.Sigs)-1]
			lastChash := chashOf(last)
			out = append(out, signedhttp.Part{Kind: signedhttp.PartChunkHeader, ChunkHeader: &signedhttp.ChunkHeader{
				Size: 0,
				Exts: signedhttp.FormatChunkExts(last.Signature, lastChash[:]),
			}})
		}
	}

	out = append(out, signedhttp.Part{Kind: signedhttp.PartTrailer, Trailer: &signedhttp.Trailer{Header: e.Head.Header.Clone()}})
	out = append(out, signedhttp.Part{Kind: signedhttp.PartEnd})
	return out
}

// Range returns the subslice of the body covering [first, last] (inclusive,
// 0-indexed), along with the sigs entries needed to verify it: the record
// covering first (for its prev chained digest) through the record covering
// last.
func (e *Entry) Range(first, last uint64) ([]byte, []SigEntry, error) {
	if last >= uint64(len(e.Body)) || first > last {
		return nil, nil, fmt.Errorf("httpstore: %w", io.ErrUnexpectedEOF)
	}
	var entries []SigEntry
	for i, entry := range e.Sigs {
		end := uint64(len(e.Body))
		if i+1 < len(e.Sigs) {
			end = e.Sigs[i+1].Offset
		}
		if entry.Offset <= last && end > first {
			entries = append(entries, entry)
		}
	}
	return e.Body[first : last+1], entries, nil
}

// RangeParts reassembles a verifiable partial-content Part stream
// covering the block(s) that overlap [first, last], rounding outward to
// whole block boundaries (a range request for bytes mid-block still
// needs that block's full bytes to check its signed data hash, so the
// served range is widened rather than truncated). Returns the stream
// along with the actual byte range served, for the caller to set
// Content-Range.
//
// The first chunk header here carries only a ouihash extension seeding
// the chain's previous digest (no ouisig, since there is no prior block
// in this partial stream to verify) — the counterpart to
// signedhttp.VerifyOptions.RangeResumption on the reading side.
func (e *Entry) RangeParts(first, last uint64) (parts []signedhttp.Part, servedFirst, servedLast uint64, err error) {
	_, overlapping, rerr := e.Range(first, last)
	if rerr != nil {
		return nil, 0, 0, rerr
	}
	if len(overlapping) == 0 {
		return nil, 0, 0, fmt.Errorf("httpstore: %w", io.ErrUnexpectedEOF)
	}

	servedFirst = overlapping[0].Offset
	servedLast = uint64(len(e.Body)) - 1
	for i, s := range e.Sigs {
		if s.Offset == overlapping[len(overlapping)-1].Offset && i+1 < len(e.Sigs) {
			servedLast = e.Sigs[i+1].Offset - 1
			break
		}
	}
	body := e.Body[servedFirst : servedLast+1]

	out := []signedhttp.Part{{Kind: signedhttp.PartHead, Head: e.Head.Clone()}}
	for i, entry := range overlapping {
		var size int
		if i+1 < len(overlapping) {
			size = int(overlapping[i+1].Offset - entry.Offset)
		} else {
			size = int(servedLast - entry.Offset + 1)
		}
		var exts string
		if i == 0 {
			// entry.PrevChainedDigest is already CHASH[first-1]: the
			// chained state as of just before this block, which is
			// exactly what a range-resuming reader needs to seed.
			exts = signedhttp.FormatChunkExts(nil, entry.PrevChainedDigest[:])
		} else {
			prev := overlapping[i-1]
			prevChash := chashOf(prev)
			exts = signedhttp.FormatChunkExts(prev.Signature, prevChash[:])
		}
		out = append(out, signedhttp.Part{Kind: signedhttp.PartChunkHeader, ChunkHeader: &signedhttp.ChunkHeader{Size: size, Exts: exts}})
		start := entry.Offset - servedFirst
		out = append(out, signedhttp.Part{Kind: signedhttp.PartChunkBody, ChunkBody: body[start : start+uint64(size)]})
	}
	lastEntry := overlapping[len(overlapping)-1]
	lastChash := chashOf(lastEntry)
	out = append(out, signedhttp.Part{Kind: signedhttp.PartChunkHeader, ChunkHeader: &signedhttp.ChunkHeader{
		Size: 0,
		Exts: signedhttp.FormatChunkExts(lastEntry.Signature, lastChash[:]),
	}})
	out = append(out, signedhttp.Part{Kind: signedhttp.PartTrailer, Trailer: &signedhttp.Trailer{Header: e.Head.Header.Clone()}})
	out = append(out, signedhttp.Part{Kind: signedhttp.PartEnd})
	return out, servedFirst, servedLast, nil
}

// HashList returns the per-block data digests (DHASH) for a resource
// without its body, sufficient for a multi-peer reader to verify blocks fetched from
// other peers against a locally-trusted signature chain.
func (e *Entry) HashList() []chainhash.Digest {
	out := make([]chainhash.Digest, len(e.Sigs))
	for i, s := range e.Sigs {
		out[i] = s.DataHash
	}
	return out
}

// hashListMagic identifies the wire format WriteHashList writes, per
// original_source/src/cache/hash_list.cpp.
const hashListMagic = "OUINET_HASH_LIST_V1"

// WriteHashList answers a PROPFIND request per spec §4.2/§4.7: the
// signed head with its original status code preserved under
// X-Ouinet-Original-Status and its own status forced to 200, followed by
// a plain (non-chunked) body of MAGIC "\n" then, for every signed block,
// its data hash immediately followed by its chained-hash signature —
// letting a caller (in particular internal/multipeer's hash-list fetch)
// obtain every block's verification material in one round trip.
func (e *Entry) WriteHashList(w io.Writer) error {
	head := e.Head.Clone()
	orig := head.StatusCode
	head.Header.Set("X-Ouinet-Original-Status", strconv.Itoa(orig))
	head.StatusCode = http.StatusOK
	head.Header.Del("Transfer-Encoding")
	head.Header.Del("Trailer")

	blockSize := chainhash.DigestSize + ed25519.SignatureSize
	head.Header.Set("Content-Length", strconv.Itoa(len(hashListMagic)+1+len(e.Sigs)*blockSize))

	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", head.StatusCode, httpStatusText(head.StatusCode)); err != nil {
		return err
	}
	if err := head.Header.Write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\r\n"+hashListMagic+"\n"); err != nil {
		return err
	}
	for _, s := range e.Sigs {
		if _, err := w.Write(s.DataHash[:]); err != nil {
			return err
		}
		if _, err := w.Write(s.Signature); err != nil {
			return err
		}
	}
	return nil
}

// resolveBodyPath validates a body-path indirection file's content against
// path traversal: the stored relative path must stay within root and must
// not contain any "." or ".." component, mirroring
// canonical_from_content_relpath's rejection of any escape attempt.
func resolveBodyPath(root, relPath string) (string, error) {
	if relPath == "" || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("httpstore: invalid body-path: empty or absolute")
	}
	clean := filepath.Clean(relPath)
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == "." || part == ".." || part == "" {
			return "", fmt.Errorf("httpstore: invalid body-path component %q", part)
		}
	}
	full := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("httpstore: body-path escapes store root")
	}
	return full, nil
}

// Keeper decides, while walking the store, whether a resource should be
// kept (true) or removed (false) — used for GC sweeps.
type Keeper func(id resourceid.ResourceId, head *signedhttp.Head) bool

// ForEach walks every resource in the store in sharded directory order,
// invoking keep for each. Entries keep rejects are removed; entries that
// fail to load at all (corrupt head file, mid-write directory) are
// removed too, mirroring the reference implementation's on-open-error
// removal semantics.
func (s *Store) ForEach(keep Keeper) error {
	headEntries, err := os.ReadDir(s.Root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, he := range headEntries {
		if !he.IsDir() || !ValidShardName(0, he.Name()) {
			continue
		}
		shardDir := filepath.Join(s.Root, he.Name())
		restEntries, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, re := range restEntries {
			if !re.IsDir() || !ValidShardName(1, re.Name()) {
				continue
			}
			id, err := ResourceIdFromShard(he.Name(), re.Name())
			if err != nil {
				continue
			}
			head, err := readHead(filepath.Join(shardDir, re.Name(), headFileName))
			if err != nil {
				_ = s.Remove(id)
				continue
			}
			if !keep(id, head) {
				_ = s.Remove(id)
			}
		}
	}
	return nil
}

// BackedStore composes a writable trusted store with a read-only fallback
// store, serving reads from the trusted store first and falling back to
// the backing store when absent — the same union pattern used by
// dhtgroups.Backed for resource groups.
type BackedStore struct {
	Trusted *Store
	Backing *Store
}

func (b *BackedStore) Whole(id resourceid.ResourceId) (*Entry, error) {
	entry, err := b.Trusted.Whole(id)
	if err == nil {
		return entry, nil
	}
	return b.Backing.Whole(id)
}

// Size returns the total bytes occupied by every file under the store's
// root directory.
func (s *Store) Size() (int64, error) {
	var total int64
	err := filepath.Walk(s.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return total, nil
	}
	return total, err
}

// Size sums the trusted and backing stores' sizes, per spec §4.2.
func (b *BackedStore) Size() (int64, error) {
	trusted, err := b.Trusted.Size()
	if err != nil {
		return 0, err
	}
	backing, err := b.Backing.Size()
	if err != nil {
		return 0, err
	}
	return trusted + backing, nil
}

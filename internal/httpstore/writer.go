package httpstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/equalitie/ouinet-sub000/internal/chainhash"
	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// Store persists and serves signed HTTP responses under a data-v3
// directory, sharded by resource id.
//
// Grounded on original_source/src/cache/http_store.cpp (FullHttpStore,
// SplittedWriter, http_store_load_hash_list, canonical_from_content_relpath).
type Store struct {
	Root string // e.g. .../data-v3
}

// NewStore opens (without yet creating) a store rooted at root/data-v3.
func NewStore(root string) *Store {
	return &Store{Root: filepath.Join(root, DataDirName)}
}

func (s *Store) resourceDir(id resourceid.ResourceId) string {
	head, rest := id.ShardPath()
	return filepath.Join(s.Root, head, rest)
}

// Store writes a verified response's parts to disk: head, body and sigs
// files written into a temp directory, then atomically renamed into the
// resource's sharded path. Any existing entry for id is replaced.
//
// The written head is passed through signedhttp.KeepSigned first, so only
// fields named by a signature's headers= list (or the signature headers
// themselves) ever reach disk — an unsigned, potentially hop-specific
// field cannot be replayed to a later reader as if it were authenticated.
func (s *Store) Store(id resourceid.ResourceId, parts []signedhttp.Part) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return err
	}
	tmp, err := newTempDir(s.Root)
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(tmp)
		}
	}()

	var rawHead *signedhttp.Head
	bodyFile, err := os.Create(filepath.Join(tmp, bodyFileName))
	if err != nil {
		return err
	}
	defer bodyFile.Close()

	sigsFile, err := os.Create(filepath.Join(tmp, sigsFileName))
	if err != nil {
		return err
	}
	defer sigsFile.Close()
	sigsW := bufio.NewWriter(sigsFile)

	hasher := chainhash.NewHasher()
	var offset uint64

	// A chunk header's extension describes the block carried by the
	// ChunkBody immediately preceding it, not the one following it (as
	// signedhttp.Sign emits them), so each body's starting offset and
	// pre-block chained digest are queued until the header that names
	// them arrives.
	type pendingBlock struct {
		offset     uint64
		prevDigest chainhash.Digest
		hadPrev    bool
		dataHash   chainhash.Digest
	}
	var queue []pendingBlock
	sigCount := 0

	for _, p := range parts {
		switch p.Kind {
		case signedhttp.PartHead:
			rawHead = p.Head.Clone()
		case signedhttp.PartTrailer:
			// Trailer fields (Data-Size, Digest, Sig1) arrive on a separate
			// Trailer part (see signedhttp.Sign), not on the head's own
			// Header — fold them in here so KeepSigned sees Sig1's
			// headers= list and so a later Entry.Parts()/RangeParts replay
			// (which reconstructs the trailer from the stored head) has
			// them to replay.
			for k, vs := range p.Trailer.Header {
				for _, v := range vs {
					rawHead.Header.Set(k, v)
				}
			}
		case signedhttp.PartChunkHeader:
			sig, digest, err := signedhttp.ChunkExts(p.ChunkHeader.Exts)
			if err != nil {
				return err
			}
			if len(sig) > 0 && len(digest) > 0 {
				var pb pendingBlock
				if len(queue) > 0 {
					pb, queue = queue[0], queue[1:]
				} else if sigCount == 0 {
					// Empty-body response: the sole header describes its
					// own zero-length block directly rather than a
					// preceding one (as signedhttp.Sign emits it), so there is
					// no queued ChunkBody to pop a data hash from.
					pb = pendingBlock{dataHash: chainhash.DataHash(nil)}
				}
				entry := SigEntry{
					Offset:            pb.offset,
					Signature:         sig,
					DataHash:          pb.dataHash,
					PrevChainedDigest: pb.prevDigest,
					HasPrevChained:    pb.hadPrev,
				}
				if err := WriteSigEntry(sigsW, entry); err != nil {
					return err
				}
				sigCount++
			}
		case signedhttp.PartChunkBody:
			var prev chainhash.Digest
			hadPrev := false
			if d, ok := hasher.PrevChainedDigest(); ok {
				prev = d
				hadPrev = true
			}
			n, err := bodyFile.Write(p.ChunkBody)
			if err != nil {
				return err
			}
			dhash := chainhash.DataHash(p.ChunkBody)
			queue = append(queue, pendingBlock{offset: offset, prevDigest: prev, hadPrev: hadPrev, dataHash: dhash})
			offset += uint64(n)
			block := hasher.CalculateBlock(uint64(n), dhash)
			hasher.SetPrevChainedDigest(block.Digest)
		}
	}

	if rawHead == nil {
		return fmt.Errorf("httpstore: no head part in store request")
	}
	head := signedhttp.KeepSigned(rawHead)
	if err := writeHead(filepath.Join(tmp, headFileName), head); err != nil {
		return err
	}
	if err := sigsW.Flush(); err != nil {
		return err
	}
	if err := bodyFile.Sync(); err != nil {
		return err
	}
	if err := sigsFile.Sync(); err != nil {
		return err
	}

	dest := s.resourceDir(id)
	_ = os.RemoveAll(dest)
	if err := commitTempDir(tmp, dest); err != nil {
		return err
	}
	ok = true
	return nil
}

// writeHead serialises a Head as an HTTP/1.1 status line followed by
// CRLF-terminated header fields, matching the on-disk head file format
// read back by readHead.
func writeHead(path string, head *signedhttp.Head) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", head.StatusCode, httpStatusText(head.StatusCode))
	for k, vs := range head.Header {
		for _, v := range vs {
			fmt.Fprintf(w, "%s: %s\r\n", k, v)
		}
	}
	w.WriteString("\r\n")
	return w.Flush()
}

func httpStatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 206:
		return "Partial Content"
	case 404:
		return "Not Found"
	default:
		return "Status"
	}
}

// Remove deletes a stored resource, if present.
func (s *Store) Remove(id resourceid.ResourceId) error {
	err := os.RemoveAll(s.resourceDir(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Package httpstore persists signed HTTP responses as a sharded directory
// hierarchy (head/body/sigs files) and serves them back whole, by range,
// or as a hash list.
//
// Grounded on original_source/src/cache/http_store.cpp (SplittedWriter,
// http_store_load_hash_list, FullHttpStore, BackedHttpStore,
// canonical_from_content_relpath) and original_source/src/cache/resource.h
// (SigEntry).
package httpstore

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/equalitie/ouinet-sub000/internal/chainhash"
)

// sigEntryLineFormat matches original_source's SigEntry::str():
// "%016x %s %s %s\n" with offset as 16 lowercase hex digits and the three
// base64 fields each 88 characters (base64 of a 64-byte SHA-512 digest /
// a 64-byte Ed25519 signature). The record length is computed from these
// field widths rather than hard-coded, so it stays correct if any of the
// base64 encodings' padding assumptions ever change.
const (
	offsetHexWidth = 16
	b64DigestWidth = 88 // base64(64 bytes), with padding
)

// SigEntryLen is the fixed length in bytes of one sigs record, including
// its trailing newline.
var SigEntryLen = offsetHexWidth + 1 + b64DigestWidth + 1 + b64DigestWidth + 1 + b64DigestWidth + 1

// SigEntry is one record of the sigs file: the byte offset of a block,
// its Ed25519 signature, its data hash, and the chained digest of the
// block before it (the zero digest, padded, for block 0).
type SigEntry struct {
	Offset            uint64
	Signature         []byte
	DataHash          chainhash.Digest
	PrevChainedDigest chainhash.Digest
	HasPrevChained    bool
}

// String renders the fixed-width record line.
func (e SigEntry) String() string {
	prev := e.PrevChainedDigest
	prevB64 := base64.StdEncoding.EncodeToString(prev[:])
	if !e.HasPrevChained {
		prevB64 = base64.StdEncoding.EncodeToString(chainhash.ZeroDigest[:])
	}
	return fmt.Sprintf("%016x %s %s %s\n",
		e.Offset,
		base64.StdEncoding.EncodeToString(e.Signature),
		base64.StdEncoding.EncodeToString(e.DataHash[:]),
		prevB64,
	)
}

// ParseSigEntry parses one fixed-width sigs record line (without its
// trailing newline).
func ParseSigEntry(line string) (SigEntry, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return SigEntry{}, fmt.Errorf("httpstore: malformed sigs line: %q", line)
	}

	var offset uint64
	if _, err := fmt.Sscanf(fields[0], "%016x", &offset); err != nil {
		return SigEntry{}, fmt.Errorf("httpstore: bad sigs offset: %w", err)
	}

	sig, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return SigEntry{}, fmt.Errorf("httpstore: bad sigs signature: %w", err)
	}

	dhashB, err := base64.StdEncoding.DecodeString(fields[2])
	if err != nil || len(dhashB) != chainhash.DigestSize {
		return SigEntry{}, fmt.Errorf("httpstore: bad sigs data hash")
	}
	var dhash chainhash.Digest
	copy(dhash[:], dhashB)

	prevB, err := base64.StdEncoding.DecodeString(fields[3])
	if err != nil || len(prevB) != chainhash.DigestSize {
		return SigEntry{}, fmt.Errorf("httpstore: bad sigs prev chained digest")
	}
	var prev chainhash.Digest
	copy(prev[:], prevB)
	isZero := prev == chainhash.ZeroDigest

	return SigEntry{
		Offset:            offset,
		Signature:         sig,
		DataHash:          dhash,
		PrevChainedDigest: prev,
		HasPrevChained:    !isZero,
	}, nil
}

// ReadSigEntries reads every fixed-width record from r.
func ReadSigEntries(r io.Reader) ([]SigEntry, error) {
	var out []SigEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, SigEntryLen*2), SigEntryLen*2)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := ParseSigEntry(line)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteSigEntry appends one record to w.
func WriteSigEntry(w io.Writer, e SigEntry) error {
	_, err := io.WriteString(w, e.String())
	return err
}

// Package multipeer implements the multi-peer downloader: given a swarm
// of candidate peers for a resource, it asks them for the hash list one
// after another, keeps the first valid answer as the signature reference,
// and then
// fetches and verifies each block independently, failing over to another
// peer whenever one misbehaves or drops.
//
// Grounded on original_source/src/cache/multi_peer_reader.h
// (MultiPeerReader, Peer) and spec.md §4.6. The reference's uTP-based
// ranged HTTP requests between peers are carried here over libp2p
// streams instead (see host.go's package doc in internal/kademlia for why
// the raw BEP5/uTP transport itself is out of scope), with two narrow
// request/response protocols taking the place of an HTTP/1.1 Range GET:
// one for the hash list, one for a single block's bytes. encoding/gob
// frames the messages — this is purely internal Go-to-Go RPC with no
// wire format mandated by the specification (unlike the canonical
// chunked-HTTP format in internal/signedhttp and internal/httpstore), and
// none of the example repos' dependencies offer a lighter struct framing
// for this than the standard library already does.
package multipeer

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/equalitie/ouinet-sub000/internal/httpstore"
)

// Protocol IDs for the two peer-to-peer request kinds. Separate IDs
// (rather than one stream carrying a type tag) keep each side's gob
// decoder bound to a single concrete type, libp2p's normal pattern for
// multiplexing distinct request shapes (compare util.Advertise /
// routing.NewRoutingDiscovery's own protocol-ID-per-concern style).
const (
	HashListProtocolID protocol.ID = "/ouinet/cache-peer/hashlist/1.0.0"
	BlockProtocolID     protocol.ID = "/ouinet/cache-peer/block/1.0.0"
)

type hashListRequest struct {
	URI string
}

type hashListResponse struct {
	StatusCode  int
	Header      map[string][]string
	InjectionID string
	BodySize    uint64
	Sigs        []httpstore.SigEntry
	Err         string
}

type blockRequest struct {
	URI         string
	First, Last uint64
}

type blockResponse struct {
	Data []byte
	Err  string
}

// sendMessage gob-encodes v, snappy-compresses the result (hash-list
// responses in particular carry many 284-byte-equivalent sig records
// that compress well), and writes it behind a 4-byte length prefix —
// mirroring the teacher's own use of block compression for payload
// storage (see gossip.go's handling before this package's host.go
// generalized that code), now applied to inter-peer wire payloads
// instead of locally-stored blocks.
func sendMessage(w io.Writer, v interface{}) error {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(v); err != nil {
		return fmt.Errorf("multipeer: encode: %w", err)
	}
	compressed := snappy.Encode(nil, raw.Bytes())

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("multipeer: write length: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("multipeer: write payload: %w", err)
	}
	return nil
}

func recvMessage(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("multipeer: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return fmt.Errorf("multipeer: read payload: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("multipeer: decompress: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return fmt.Errorf("multipeer: decode: %w", err)
	}
	return nil
}

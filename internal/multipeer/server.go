package multipeer

import (
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"

	"github.com/equalitie/ouinet-sub000/internal/httpstore"
	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// RegisterServer installs the stream handlers answering another peer's
// hash-list and block requests out of store — the server side of
// Peer/PeerSet above. Every cache node runs this so it can serve
// resources it already holds to peers racing the same swarm, mirroring
// the reference implementation's symmetric client/server role for every
// node in the network.
func RegisterServer(h host.Host, store *httpstore.BackedStore) {
	h.SetStreamHandler(HashListProtocolID, func(s network.Stream) {
		defer s.Close()
		serveHashList(s, store)
	})
	h.SetStreamHandler(BlockProtocolID, func(s network.Stream) {
		defer s.Close()
		serveBlock(s, store)
	})
}

func serveHashList(s network.Stream, store *httpstore.BackedStore) {
	var req hashListRequest
	if err := recvMessage(s, &req); err != nil {
		return
	}
	id := resourceid.FromURL(req.URI)
	entry, err := store.Whole(id)
	if err != nil {
		_ = sendMessage(s, hashListResponse{Err: err.Error()})
		return
	}

	var injectionID string
	if inj, err := signedhttp.ParseInjection(entry.Head.Header.Get(signedhttp.HeaderInjection)); err == nil {
		injectionID = inj.ID
	}

	_ = sendMessage(s, hashListResponse{
		StatusCode:  entry.Head.StatusCode,
		Header:      map[string][]string(entry.Head.Header),
		InjectionID: injectionID,
		BodySize:    uint64(len(entry.Body)),
		Sigs:        entry.Sigs,
	})
}

func serveBlock(s network.Stream, store *httpstore.BackedStore) {
	var req blockRequest
	if err := recvMessage(s, &req); err != nil {
		return
	}
	id := resourceid.FromURL(req.URI)
	entry, err := store.Whole(id)
	if err != nil {
		_ = sendMessage(s, blockResponse{Err: err.Error()})
		return
	}
	data, _, err := entry.Range(req.First, req.Last)
	if err != nil {
		_ = sendMessage(s, blockResponse{Err: err.Error()})
		return
	}
	_ = sendMessage(s, blockResponse{Data: data})
}

// Package kademlia wires a libp2p host and a Kademlia DHT instance into
// the handful of operations the cache core consumes per specification
// §6.4: announce(infohash), get_peers(infohash), local_endpoints(),
// wan_endpoints(). The BEP5 DHT transport itself is out of scope (spec
// §1); this package substitutes go-libp2p-kad-dht for that transport
// rather than reimplementing a raw UDP Kademlia responder.
//
// Grounded on gossip.go's host construction (EnableRelay,
// EnableNATService, EnableHolePunching, dht.New, routing.RoutingDiscovery,
// util.Advertise) — the one piece of the teacher's bridge that already
// built a Kademlia-backed libp2p node, now generalized from a one-shot
// capture tool into a long-lived cache daemon's transport layer.
package kademlia

import (
	"context"
	"fmt"
	"net"

	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// Node bundles a libp2p host with its Kademlia DHT and the routing
// discovery service layered on top of it, the three things every other
// component in this repository needs to reach peers.
type Node struct {
	Host      host.Host
	DHT       *dht.IpfsDHT
	Discovery *routing.RoutingDiscovery
	log       *zap.Logger
}

// New constructs a libp2p host configured for NAT traversal the way
// gossip.go did, starts a Kademlia DHT in automatic server/client mode
// over it, and bootstraps against seeds (if any).
//
// logger receives structured events from this subsystem specifically
// (seed-connect failures, bootstrap completion): go-libp2p-kad-dht's own
// internals already log through zap (via go-log/v2's zap-backed core),
// so this is the one package in the repository that reaches for zap
// directly rather than the teacher's plain log.Printf, keeping the two
// logging idioms at the same layer they already sit at upstream. Pass
// nil to use a no-op logger.
func New(ctx context.Context, listenAddrs []ma.Multiaddr, seeds []peer.AddrInfo, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []libp2p.Option{
		libp2p.EnableRelay(),
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
	}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrs(listenAddrs...))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("kademlia: libp2p host: %w", err)
	}
	logger.Info("libp2p host started", zap.String("peer_id", h.ID().String()), zap.Int("listen_addrs", len(h.Addrs())))

	kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeAuto))
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("kademlia: dht init: %w", err)
	}

	connected := 0
	for _, s := range seeds {
		if s.ID == h.ID() {
			continue
		}
		if err := h.Connect(ctx, s); err != nil {
			// A single unreachable seed must not prevent startup; the
			// DHT routing table fills in from whichever seeds answer.
			logger.Warn("seed connect failed", zap.String("peer", s.ID.String()), zap.Error(err))
			continue
		}
		connected++
	}
	logger.Info("seed dial complete", zap.Int("connected", connected), zap.Int("total", len(seeds)))

	if err := kdht.Bootstrap(ctx); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("kademlia: bootstrap: %w", err)
	}
	logger.Info("dht bootstrap complete")

	return &Node{
		Host:      h,
		DHT:       kdht,
		Discovery: routing.NewRoutingDiscovery(kdht),
		log:       logger,
	}, nil
}

// Close tears down the DHT and host.
func (n *Node) Close() error {
	if n.DHT != nil {
		_ = n.DHT.Close()
	}
	if n.Host != nil {
		err := n.Host.Close()
		if n.log != nil {
			n.log.Info("libp2p host closed", zap.Error(err))
		}
		return err
	}
	return nil
}

// LocalEndpoints returns the host's own listen addresses, the equivalent
// of the reference DHT's local_endpoints().
func (n *Node) LocalEndpoints() []ma.Multiaddr {
	return n.Host.Addrs()
}

// WanEndpoints returns the subset of the host's observed addresses that
// are not link-local/private, the equivalent of wan_endpoints().
func (n *Node) WanEndpoints() []ma.Multiaddr {
	var out []ma.Multiaddr
	for _, a := range n.Host.Addrs() {
		if ip, ok := addrIP(a); ok && !isMartian(ip) {
			out = append(out, a)
		}
	}
	return out
}

func addrIP(a ma.Multiaddr) (net.IP, bool) {
	for _, proto := range []int{ma.P_IP4, ma.P_IP6} {
		if v, err := a.ValueForProtocol(proto); err == nil {
			return net.ParseIP(v), true
		}
	}
	return nil, false
}

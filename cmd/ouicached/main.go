// ouicached runs one node of the distributed signed-HTTP cache: it joins
// the Kademlia DHT, serves an agent's serve-local requests over a local
// HTTP listener, and exposes Prometheus metrics.
//
// Flags and top-level wiring follow main_new.go/gossip.go's pattern:
// flag.Var-based repeatable multiaddrs, context cancellation on
// SIGINT/SIGTERM, log.Printf-based startup narration.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/equalitie/ouinet-sub000/internal/announcer"
	"github.com/equalitie/ouinet-sub000/internal/cacheclient"
	"github.com/equalitie/ouinet-sub000/internal/dhtgroups"
	"github.com/equalitie/ouinet-sub000/internal/dhtlookup"
	"github.com/equalitie/ouinet-sub000/internal/httpstore"
	"github.com/equalitie/ouinet-sub000/internal/kademlia"
)

// shutdownGrace bounds how long the HTTP listeners are given to drain
// in-flight requests once a shutdown signal arrives.
const shutdownGrace = 5 * time.Second

// multiAddrs is a repeatable flag.Value for multiaddrs, the same pattern
// as the teacher's own multiAddrs type in types.go.
type multiAddrs []string

func (m *multiAddrs) String() string { return "" }
func (m *multiAddrs) Set(s string) error {
	*m = append(*m, s)
	return nil
}

func (m multiAddrs) parse() ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(m))
	for _, s := range m {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("bad multiaddr %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (m multiAddrs) seeds() ([]peer.AddrInfo, error) {
	addrs, err := m.parse()
	if err != nil {
		return nil, err
	}
	out := make([]peer.AddrInfo, 0, len(addrs))
	for _, a := range addrs {
		info, err := peer.AddrInfoFromP2pAddr(a)
		if err != nil {
			return nil, fmt.Errorf("bad bootstrap addr: %w", err)
		}
		out = append(out, *info)
	}
	return out, nil
}

func main() {
	var (
		cacheRoot     string
		staticRoot    string
		listenAddrs   multiAddrs
		bootstrap     multiAddrs
		httpAddr      string
		metricsAddr   string
		injectorPub   string
		enableGossip  bool
	)

	flag.StringVar(&cacheRoot, "cache-root", "./ouinet-cache", "directory holding data-v3/ and dht_groups/")
	flag.StringVar(&staticRoot, "static-cache-root", "", "optional read-only static cache root (untrusted groups + backing store)")
	flag.Var(&listenAddrs, "listen", "libp2p listen multiaddr (repeatable)")
	flag.Var(&bootstrap, "bootnode", "libp2p multiaddr of a bootstrap peer (repeatable)")
	flag.StringVar(&httpAddr, "http-addr", "127.0.0.1:8077", "address the agent-facing serve-local HTTP listener binds to")
	flag.StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9077", "address the Prometheus /metrics listener binds to")
	flag.StringVar(&injectorPub, "injector-pubkey", "", "hex-encoded Ed25519 public key of the trusted injector")
	flag.BoolVar(&enableGossip, "group-gossip", true, "fan group membership edges out over GossipSub")
	flag.Parse()

	if injectorPub == "" {
		log.Fatalf("❌ -injector-pubkey is required")
	}
	pubBytes, err := hex.DecodeString(injectorPub)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		log.Fatalf("❌ bad -injector-pubkey: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("🛑 received shutdown signal, stopping...")
		cancel()
	}()

	if err := run(ctx, cacheRoot, staticRoot, listenAddrs, bootstrap, httpAddr, metricsAddr, ed25519.PublicKey(pubBytes), enableGossip); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, cacheRoot, staticRoot string, listenAddrs, bootstrap multiAddrs, httpAddr, metricsAddr string, injectorPub ed25519.PublicKey, enableGossip bool) error {
	addrs, err := listenAddrs.parse()
	if err != nil {
		return err
	}
	seeds, err := bootstrap.seeds()
	if err != nil {
		return err
	}

	dhtLogger, err := zap.NewProduction()
	if err != nil {
		dhtLogger = zap.NewNop()
	}
	defer dhtLogger.Sync()

	node, err := kademlia.New(ctx, addrs, seeds, dhtLogger)
	if err != nil {
		return fmt.Errorf("kademlia: %w", err)
	}
	defer node.Close()
	log.Printf("🔗 libp2p host id: %s", node.Host.ID())
	for _, a := range node.Host.Addrs() {
		log.Printf("🔗 listening on: %s/p2p/%s", a, node.Host.ID())
	}

	lookups, err := dhtlookup.New(node.Discovery)
	if err != nil {
		return fmt.Errorf("dhtlookup: %w", err)
	}

	ann := announcer.New(ctx, node.Discovery, nil)
	defer ann.Stop()

	groups, err := buildGroups(cacheRoot, staticRoot)
	if err != nil {
		return fmt.Errorf("dhtgroups: %w", err)
	}

	store := buildStore(cacheRoot, staticRoot)

	reg := prometheus.NewRegistry()
	metrics := cacheclient.NewMetrics(reg)

	client := cacheclient.New(store, groups, ann, lookups, node.Host, injectorPub, metrics)

	if enableGossip {
		ps, err := pubsub.NewGossipSub(ctx, node.Host)
		if err != nil {
			log.Printf("📣 gossipsub init failed, group-events fanout disabled: %v", err)
		} else if topic, err := cacheclient.NewGroupEventsTopic(ps); err != nil {
			log.Printf("📣 group-events topic join failed: %v", err)
		} else {
			client.GroupTopic = topic
		}
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("cacheclient start: %w", err)
	}
	defer client.Stop()

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		log.Printf("📈 metrics listening on %s", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ metrics server: %v", err)
		}
	}()

	agentSrv := &http.Server{Addr: httpAddr, Handler: newAgentHandler(client)}
	go func() {
		log.Printf("🌐 agent-facing listener on %s", httpAddr)
		if err := agentSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ agent server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("🧹 shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = agentSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

func buildGroups(cacheRoot, staticRoot string) (dhtgroups.Writable, error) {
	local, err := dhtgroups.LoadTrusted(filepath.Join(cacheRoot, "dht_groups"))
	if err != nil {
		return nil, err
	}
	if staticRoot == "" {
		return local, nil
	}
	fallback, err := dhtgroups.LoadUntrusted(filepath.Join(staticRoot, "dht_groups"))
	if err != nil {
		return nil, err
	}
	return &dhtgroups.Backed{Local: local, Fallback: fallback}, nil
}

func buildStore(cacheRoot, staticRoot string) *httpstore.BackedStore {
	trusted := httpstore.NewStore(cacheRoot)
	if staticRoot == "" {
		// A BackedStore always has a non-nil Backing so Whole() can fall
		// through unconditionally; pointing it at an empty subtree under
		// the trusted root is a harmless miss-always fallback when no
		// static cache is configured.
		return &httpstore.BackedStore{Trusted: trusted, Backing: httpstore.NewStore(filepath.Join(cacheRoot, "no-static-cache"))}
	}
	return &httpstore.BackedStore{Trusted: trusted, Backing: httpstore.NewStore(staticRoot)}
}

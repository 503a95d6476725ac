// Package cacheclient is the top-level orchestrator a local agent talks
// to: it ties the HTTP store, resource groups, the announcer and the
// multi-peer downloader together into Load/Store/ServeLocal/GC
// operations.
//
// Grounded on spec.md §4.7 and the teacher's main_new.go top-level
// wiring style: construct components, launch background goroutines, use
// a context.Context plus signal.Notify for graceful shutdown (the latter
// lives in cmd/ouicached, which owns process lifetime; this package only
// owns the goroutines it starts).
package cacheclient

import (
	"context"
	"crypto/ed25519"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/equalitie/ouinet-sub000/internal/announcer"
	"github.com/equalitie/ouinet-sub000/internal/dhtgroups"
	"github.com/equalitie/ouinet-sub000/internal/dhtlookup"
	"github.com/equalitie/ouinet-sub000/internal/httpstore"
	"github.com/equalitie/ouinet-sub000/internal/multipeer"
	"github.com/equalitie/ouinet-sub000/internal/resourceid"
)

// gcPeriod is the interval between garbage-collection sweeps of the
// local store, per spec §4.7.
const gcPeriod = 7 * time.Minute

// defaultMaxCachedAge bounds how long an injected entry is kept before GC drops
// it, measured from its X-Ouinet-Injection timestamp.
const defaultMaxCachedAge = 7 * 24 * time.Hour

// Metrics are the Prometheus instruments the client reports, named per
// spec's metrics-reporting ambient stack.
type Metrics struct {
	CacheEntries     prometheus.Gauge
	StoreBytes       prometheus.Gauge
	AnnounceFailures prometheus.Counter
}

// NewMetrics constructs and registers the client's metrics on reg (pass
// prometheus.DefaultRegisterer for the global registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ouinet_cache_entries",
			Help: "Number of resources currently held in the local cache store.",
		}),
		StoreBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ouinet_store_bytes",
			Help: "Total bytes occupied by the local cache store on disk.",
		}),
		AnnounceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ouinet_announce_failures_total",
			Help: "Number of swarm announce attempts that ended in backoff.",
		}),
	}
	reg.MustRegister(m.CacheEntries, m.StoreBytes, m.AnnounceFailures)
	return m
}

// Client is the orchestrator bound to one local cache instance.
type Client struct {
	HTTPStore   *httpstore.BackedStore
	Groups      dhtgroups.Writable
	Announcer   *announcer.Announcer
	Lookups     *dhtlookup.Cache
	Host        host.Host
	InjectorPub ed25519.PublicKey
	MaxCachedAge time.Duration
	Metrics     *Metrics
	// GroupTopic, if set (see NewGroupEventsTopic), fans out group
	// gained-first-item/lost-last-item edges over GossipSub. Optional.
	GroupTopic *pubsub.Topic

	mu      sync.Mutex
	gcDone  chan struct{}
}

// New builds a Client from its already-constructed dependencies. Callers
// assemble Store/Groups/Announcer/Lookups/Host themselves (see
// cmd/ouicached for the full wiring) since each has its own lifetime and
// configuration concerns this package does not own.
func New(store *httpstore.BackedStore, groups dhtgroups.Writable, ann *announcer.Announcer, lookups *dhtlookup.Cache, h host.Host, injectorPub ed25519.PublicKey, metrics *Metrics) *Client {
	maxAge := defaultMaxCachedAge
	if metrics != nil && ann != nil {
		ann.OnBackoff = func(string) { metrics.AnnounceFailures.Inc() }
	}
	return &Client{
		HTTPStore:    store,
		Groups:       groups,
		Announcer:    ann,
		Lookups:      lookups,
		Host:         h,
		InjectorPub:  injectorPub,
		MaxCachedAge: maxAge,
		Metrics:      metrics,
	}
}

// Start performs the process's one-time startup sequence: sweep
// leftover temp directories, GC obsolete entries, start an announce loop
// for every surviving group, register this node as a multi-peer server
// for its own store, and start the periodic GC loop. Returns once
// startup work is done; background loops keep running until ctx is
// canceled.
func (c *Client) Start(ctx context.Context) error {
	if err := httpstore.SweepTempDirs(c.HTTPStore.Trusted.Root); err != nil {
		log.Printf("🧹 cacheclient: temp dir sweep: %v", err)
	}

	if err := c.gcSweep(); err != nil {
		log.Printf("🧹 cacheclient: startup GC sweep: %v", err)
	}

	for _, g := range c.Groups.Groups() {
		c.Announcer.Add(c.SwarmName(g))
	}

	multipeer.RegisterServer(c.Host, c.HTTPStore)

	c.mu.Lock()
	c.gcDone = make(chan struct{})
	c.mu.Unlock()
	go c.gcLoop(ctx)

	return nil
}

// SwarmName derives the DHT swarm identifier a resource group is
// announced and looked up under, per spec §3: it binds group to this
// node's configured injector key and the current protocol version so
// peers trusting a different injector never collide on the same swarm.
func (c *Client) SwarmName(group string) string {
	return resourceid.SwarmName(c.InjectorPub, group)
}

// Stop waits for the GC loop to exit (it exits once the context passed to
// Start is canceled), then stops the announcer.
func (c *Client) Stop() {
	c.mu.Lock()
	done := c.gcDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	c.Announcer.Stop()
}

func (c *Client) gcLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		close(c.gcDone)
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(gcPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.gcSweep(); err != nil {
				log.Printf("🧹 cacheclient: GC sweep: %v", err)
			}
		}
	}
}

package cacheclient

import (
	"context"
	"strconv"
	"time"

	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// gcSweep walks the local store dropping any entry that fails
// keepCacheEntry, unpublishing its URI from groups/announcer as it goes,
// per spec §4.7's GC loop description.
func (c *Client) gcSweep() error {
	var removed []string

	err := c.HTTPStore.Trusted.ForEach(func(id resourceid.ResourceId, head *signedhttp.Head) bool {
		keep := c.keepCacheEntry(head)
		if !keep {
			removed = append(removed, head.Header.Get(signedhttp.HeaderURI))
		}
		return keep
	})
	if err != nil {
		return err
	}

	for _, uri := range removed {
		if uri != "" {
			c.unpublishCacheEntry(uri)
		}
	}

	if c.Metrics != nil {
		c.refreshStoreMetrics()
	}
	return nil
}

// keepCacheEntry applies spec §4.7's retention policy: the current
// protocol version, a non-empty URI, and an injection age within
// MaxCachedAge.
func (c *Client) keepCacheEntry(head *signedhttp.Head) bool {
	versionStr := head.Header.Get(signedhttp.HeaderVersion)
	version, err := strconv.Atoi(versionStr)
	if err != nil || version != signedhttp.CurrentProtocolVersion {
		return false
	}
	if head.Header.Get(signedhttp.HeaderURI) == "" {
		return false
	}
	inj, err := signedhttp.ParseInjection(head.Header.Get(signedhttp.HeaderInjection))
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(inj.Timestamp, 0))
	return age <= c.MaxCachedAge
}

// unpublishCacheEntry removes uri from every group and, for any group
// that becomes empty as a result, stops announcing it.
func (c *Client) unpublishCacheEntry(uri string) {
	for _, emptied := range c.Groups.Remove(uri) {
		c.Announcer.Remove(c.SwarmName(emptied))
		c.publishGroupEvent(context.Background(), "removed", emptied)
	}
}

// LocalPurge drops every entry from the local store, unpublishing each
// one's URI first.
func (c *Client) LocalPurge() error {
	var uris []string
	err := c.HTTPStore.Trusted.ForEach(func(id resourceid.ResourceId, head *signedhttp.Head) bool {
		uris = append(uris, head.Header.Get(signedhttp.HeaderURI))
		return false // reject every entry: ForEach removes what keep() rejects
	})
	if err != nil {
		return err
	}
	for _, uri := range uris {
		if uri != "" {
			c.unpublishCacheEntry(uri)
		}
	}
	if c.Metrics != nil {
		c.refreshStoreMetrics()
	}
	return nil
}

// LocalSize returns the total bytes occupied by the local store on disk
// (trusted plus backing, per spec §4.2's BackedStore.size()).
func (c *Client) LocalSize() (int64, error) {
	return c.HTTPStore.Size()
}

func (c *Client) refreshStoreMetrics() {
	size, err := c.LocalSize()
	if err == nil {
		c.Metrics.StoreBytes.Set(float64(size))
	}

	count := 0
	_ = c.HTTPStore.Trusted.ForEach(func(id resourceid.ResourceId, head *signedhttp.Head) bool {
		count++
		return true
	})
	c.Metrics.CacheEntries.Set(float64(count))
}

package cacheclient

import (
	"context"
	"fmt"

	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// Store persists a verified signed response under canonicalURL, adds it
// to group's resource-group file (creating the group if it's new), and
// starts announcing the group on the DHT if it wasn't already, per spec
// §4.7. parts is consumed in full.
func (c *Client) Store(canonicalURL, group string, parts []signedhttp.Part) error {
	id := resourceid.FromURL(canonicalURL)
	if err := c.HTTPStore.Trusted.Store(id, parts); err != nil {
		return fmt.Errorf("cacheclient: store %s: %w", canonicalURL, err)
	}
	isNewGroup := len(c.Groups.Items(group)) == 0
	if err := c.Groups.Add(group, canonicalURL); err != nil {
		return fmt.Errorf("cacheclient: add %s to group %s: %w", canonicalURL, group, err)
	}
	c.Announcer.Add(c.SwarmName(group))
	if isNewGroup {
		c.publishGroupEvent(context.Background(), "added", group)
	}
	if c.Metrics != nil {
		c.refreshStoreMetrics()
	}
	return nil
}

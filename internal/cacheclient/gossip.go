package cacheclient

import (
	"context"
	"fmt"
	"log"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// groupEventsTopic is the GossipSub topic this node publishes group
// membership edges on: a group gaining its first item or losing its
// last, so other cache instances sharing this libp2p host (e.g. a
// second protocol version of this same daemon, or a sibling process
// co-located for testing) learn about swarm lifecycle without polling
// the announcer. Mirrors gossip.go's topic-subscribe/publish pattern,
// repurposed from preconfirmation gossip to cache-group gossip.
const groupEventsTopic = "ouinet-cache/group-events/v1"

// NewGroupEventsTopic joins the group-events gossip topic on ps. The
// returned topic should be assigned to Client.GroupTopic; passing a nil
// *pubsub.PubSub (no GossipSub router configured) is not supported —
// callers that don't want gossip fanout simply leave GroupTopic nil.
func NewGroupEventsTopic(ps *pubsub.PubSub) (*pubsub.Topic, error) {
	t, err := ps.Join(groupEventsTopic)
	if err != nil {
		return nil, fmt.Errorf("cacheclient: join group events topic: %w", err)
	}
	return t, nil
}

// publishGroupEvent fans event (“added” or “removed”) out for group.
// A nil GroupTopic makes this a no-op: gossip fanout is an optimization
// over the announcer/DHT path, never a requirement for correctness.
func (c *Client) publishGroupEvent(ctx context.Context, event, group string) {
	if c.GroupTopic == nil {
		return
	}
	msg := []byte(event + ":" + group)
	if err := c.GroupTopic.Publish(ctx, msg); err != nil {
		log.Printf("📣 cacheclient: group event publish failed for %s: %v", group, err)
	}
}

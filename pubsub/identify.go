// Package pubsub implements channel-based publish/subscribe over the mesh:
// a Publisher on one node fans data out to every subscribed node (plus any
// local consumers) and gets aggregated feedback pushed back, the same
// relay shape as the teacher's key_value replication but for a
// many-subscriber broadcast channel instead of a single replicated value.
package pubsub

import (
	"fmt"

	"github.com/atsika/meshplane"
)

const PubsubServiceId uint8 = 5

// ChannelIdentify names a publish channel: the node that owns the
// publisher plus a uuid the publisher picked for itself. Two publishers
// with the same Uuid on different nodes are different channels; a
// uuid-only Consumer (CreateConsumer) follows all of them at once.
type ChannelIdentify struct {
	Source meshplane.NodeId
	Uuid   uint64
}

func (c ChannelIdentify) String() string {
	return fmt.Sprintf("channel(%s,%d)", c.Source, c.Uuid)
}

// DataEvent is what a Consumer receives: which channel it came from and
// the payload. The receiving consumer already knows its own subscription
// uuid (Consumer.Uuid/ConsumerSingle.Uuid) without it needing to ride
// along on every delivery.
type DataEvent struct {
	Channel ChannelIdentify
	Data    []byte
}

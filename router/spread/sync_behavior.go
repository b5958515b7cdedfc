package spread

import (
	"context"
	"encoding/binary"

	"github.com/atsika/meshplane"
)

// RouterSyncServiceId is the reserved service id routing sync traffic is
// addressed to.
const RouterSyncServiceId uint8 = 1

// RouterSyncBehavior periodically exchanges this node's SharedRouter table
// with every connected neighbor so indirect routes propagate hop by hop.
type RouterSyncBehavior struct {
	router *SharedRouter

	agent   *meshplane.BehaviorAgent
	actions []meshplane.BehaviorAction

	neighbors map[meshplane.ConnId]meshplane.NodeId
}

func NewRouterSyncBehavior(router *SharedRouter) *RouterSyncBehavior {
	return &RouterSyncBehavior{
		router:    router,
		neighbors: make(map[meshplane.ConnId]meshplane.NodeId),
	}
}

func (b *RouterSyncBehavior) ServiceId() uint8 { return RouterSyncServiceId }

func (b *RouterSyncBehavior) OnStarted(agent *meshplane.BehaviorAgent) { b.agent = agent }

// CheckIncomingConnection/CheckOutgoingConnection never veto; route
// propagation has no node-identity policy of its own.
func (b *RouterSyncBehavior) CheckIncomingConnection(node meshplane.NodeId) error { return nil }
func (b *RouterSyncBehavior) CheckOutgoingConnection(node meshplane.NodeId) error { return nil }

func (b *RouterSyncBehavior) OnOutgoingConnectionError(agent *meshplane.BehaviorAgent, node meshplane.NodeId, conn meshplane.ConnId, err error) {
}

// OnAwake is a no-op: sync runs strictly on the tick cadence, there is no
// Sdk to drain out of band.
func (b *RouterSyncBehavior) OnAwake(agent *meshplane.BehaviorAgent, now int64) {}

func (b *RouterSyncBehavior) OnTick(ctx context.Context, agent *meshplane.BehaviorAgent, now int64) {
	for conn, node := range b.neighbors {
		sync := b.router.CreateSync(node)
		msg := meshplane.BuildMsg(RouterSyncServiceId, RouterSyncServiceId, meshplane.ToNode(node), 0, false, encodeRouterSync(sync)).
			WithFromNode(agent.LocalNodeId())
		b.actions = append(b.actions, meshplane.ToNetConnAction(conn, msg))
	}
}

func (b *RouterSyncBehavior) OnLocalMsg(agent *meshplane.BehaviorAgent, msg meshplane.TransportMsg) {
	if msg.Header.FromNode == nil {
		return
	}
	sync, err := decodeRouterSync(msg.Payload)
	if err != nil {
		return
	}
	conn, ok := b.connFor(*msg.Header.FromNode)
	if !ok {
		return
	}
	b.router.ApplySync(conn, *msg.Header.FromNode, Metric{Hops: 1}, sync)
}

func (b *RouterSyncBehavior) connFor(node meshplane.NodeId) (meshplane.ConnId, bool) {
	for conn, n := range b.neighbors {
		if n == node {
			return conn, true
		}
	}
	return 0, false
}

func (b *RouterSyncBehavior) OnIncomingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	b.neighbors[conn] = remoteNode
	b.router.SetDirect(conn, remoteNode, Metric{Hops: 1})
}

func (b *RouterSyncBehavior) OnOutgoingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	b.neighbors[conn] = remoteNode
	b.router.SetDirect(conn, remoteNode, Metric{Hops: 1})
}

func (b *RouterSyncBehavior) OnConnectionDisconnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	delete(b.neighbors, conn)
	b.router.DelDirect(conn)
}

func (b *RouterSyncBehavior) OnHandlerEvent(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId, event any) {
}

func (b *RouterSyncBehavior) OnStopped(agent *meshplane.BehaviorAgent) {}

func (b *RouterSyncBehavior) PopAction() (meshplane.BehaviorAction, bool) {
	if len(b.actions) == 0 {
		return meshplane.BehaviorAction{}, false
	}
	a := b.actions[0]
	b.actions = b.actions[1:]
	return a, true
}

// encodeRouterSync/decodeRouterSync render a RouterSync as a flat list of
// (node_id u32 BE, hops u8, latency u32 BE) tuples preceded by a u16 count.
func encodeRouterSync(s RouterSync) []byte {
	buf := make([]byte, 2, 2+len(s.Routes)*9)
	binary.BigEndian.PutUint16(buf, uint16(len(s.Routes)))
	for node, metric := range s.Routes {
		var entry [9]byte
		binary.BigEndian.PutUint32(entry[0:4], uint32(node))
		entry[4] = metric.Hops
		binary.BigEndian.PutUint32(entry[5:9], metric.Latency)
		buf = append(buf, entry[:]...)
	}
	return buf
}

func decodeRouterSync(b []byte) (RouterSync, error) {
	if len(b) < 2 {
		return RouterSync{}, meshplane.ErrMsgDecode
	}
	count := binary.BigEndian.Uint16(b[0:2])
	off := 2
	routes := make(map[meshplane.NodeId]Metric, count)
	for i := uint16(0); i < count; i++ {
		if len(b) < off+9 {
			return RouterSync{}, meshplane.ErrMsgDecode
		}
		node := meshplane.NodeId(binary.BigEndian.Uint32(b[off : off+4]))
		hops := b[off+4]
		latency := binary.BigEndian.Uint32(b[off+5 : off+9])
		routes[node] = Metric{Hops: hops, Latency: latency}
		off += 9
	}
	return RouterSync{Routes: routes}, nil
}

package nodealias

import (
	"context"

	"github.com/atsika/meshplane"
)

const maxAnnounceHops = 6

type pendingFind struct {
	alias        NodeAliasId
	timeoutAfter int64
}

// NodeAliasBehavior lets this node publish aliases for itself (flooded to
// every neighbor, rebroadcast one hop further on receipt up to
// maxAnnounceHops) and resolve other nodes' aliases either from the local
// cache those floods built or, on a cache miss, by asking direct
// neighbors directly. The direct-neighbor-only Find is a deliberate
// simplification: it trades multi-hop Find for simplicity, relying on
// Announce's flood to have already populated the cache for most queries.
type NodeAliasBehavior struct {
	local map[NodeAliasId]struct{}
	cache map[NodeAliasId]meshplane.NodeId

	neighbors map[meshplane.ConnId]meshplane.NodeId
	pending   map[uint64]pendingFind

	sdk *NodeAliasSdk

	agent   *meshplane.BehaviorAgent
	actions []meshplane.BehaviorAction
}

func NewNodeAliasBehavior() *NodeAliasBehavior {
	return &NodeAliasBehavior{
		local:     make(map[NodeAliasId]struct{}),
		cache:     make(map[NodeAliasId]meshplane.NodeId),
		neighbors: make(map[meshplane.ConnId]meshplane.NodeId),
		pending:   make(map[uint64]pendingFind),
		sdk:       NewNodeAliasSdk(),
	}
}

func (b *NodeAliasBehavior) Sdk() *NodeAliasSdk { return b.sdk }

func (b *NodeAliasBehavior) ServiceId() uint8 { return NodeAliasServiceId }

func (b *NodeAliasBehavior) OnStarted(agent *meshplane.BehaviorAgent) {
	b.agent = agent
	b.sdk.SetAwaker(agent.Awaker())
}

// CheckIncomingConnection/CheckOutgoingConnection never veto; alias
// resolution has no node-identity policy of its own.
func (b *NodeAliasBehavior) CheckIncomingConnection(node meshplane.NodeId) error { return nil }
func (b *NodeAliasBehavior) CheckOutgoingConnection(node meshplane.NodeId) error { return nil }

func (b *NodeAliasBehavior) OnOutgoingConnectionError(agent *meshplane.BehaviorAgent, node meshplane.NodeId, conn meshplane.ConnId, err error) {
}

// OnAwake services a Register/Unregister/Find call as soon as it's queued,
// instead of waiting for the next tick.
func (b *NodeAliasBehavior) OnAwake(agent *meshplane.BehaviorAgent, now int64) {
	b.drainSdk(agent, now)
}

func (b *NodeAliasBehavior) drainSdk(agent *meshplane.BehaviorAgent, now int64) {
	for _, a := range b.sdk.drainActions() {
		switch a.kind {
		case actRegister:
			b.local[a.alias] = struct{}{}
			b.cache[a.alias] = agent.LocalNodeId()
		case actUnregister:
			delete(b.local, a.alias)
		case actFind:
			b.startFind(agent, a, now)
		}
	}
}

func (b *NodeAliasBehavior) OnTick(ctx context.Context, agent *meshplane.BehaviorAgent, now int64) {
	b.drainSdk(agent, now)

	for alias := range b.local {
		b.broadcast(AnnounceMsg{Alias: alias, Owner: agent.LocalNodeId(), Hops: 0}, 0)
	}

	var expired []uint64
	for reqId, p := range b.pending {
		if now >= p.timeoutAfter {
			expired = append(expired, reqId)
		}
	}
	for _, reqId := range expired {
		delete(b.pending, reqId)
		b.sdk.resolve(reqId, NodeAliasResult{}, ErrTimeout)
	}
}

func (b *NodeAliasBehavior) startFind(agent *meshplane.BehaviorAgent, a sdkAction, now int64) {
	if owner, ok := b.cache[a.alias]; ok {
		b.sdk.resolve(a.reqId, NodeAliasResult{Owner: owner, Found: true}, nil)
		return
	}
	b.pending[a.reqId] = pendingFind{alias: a.alias, timeoutAfter: now + a.timeoutMs}
	payload := wrap(kindFind, FindMsg{ReqId: a.reqId, Alias: a.alias}.Encode())
	for conn := range b.neighbors {
		msg := meshplane.BuildMsg(NodeAliasServiceId, NodeAliasServiceId, meshplane.Direct(), 0, false, payload).
			WithFromNode(agent.LocalNodeId())
		b.actions = append(b.actions, meshplane.ToNetConnAction(conn, msg))
	}
}

func (b *NodeAliasBehavior) broadcast(m AnnounceMsg, skipConn meshplane.ConnId) {
	if m.Hops > maxAnnounceHops {
		return
	}
	payload := wrap(kindAnnounce, m.Encode())
	for conn := range b.neighbors {
		if conn == skipConn {
			continue
		}
		msg := meshplane.BuildMsg(NodeAliasServiceId, NodeAliasServiceId, meshplane.Direct(), 0, false, payload).
			WithFromNode(b.agent.LocalNodeId())
		b.actions = append(b.actions, meshplane.ToNetConnAction(conn, msg))
	}
}

func (b *NodeAliasBehavior) OnLocalMsg(agent *meshplane.BehaviorAgent, msg meshplane.TransportMsg) {
	if msg.Header.FromNode == nil || len(msg.Payload) == 0 {
		return
	}
	from := *msg.Header.FromNode
	conn, ok := b.connFor(from)
	if !ok {
		return
	}
	kind, payload := msgKind(msg.Payload[0]), msg.Payload[1:]
	switch kind {
	case kindAnnounce:
		a, err := DecodeAnnounceMsg(payload)
		if err != nil {
			return
		}
		if existing, ok := b.cache[a.Alias]; ok && existing == a.Owner {
			return
		}
		b.cache[a.Alias] = a.Owner
		b.broadcast(AnnounceMsg{Alias: a.Alias, Owner: a.Owner, Hops: a.Hops + 1}, conn)
	case kindFind:
		f, err := DecodeFindMsg(payload)
		if err != nil {
			return
		}
		owner, found := b.cache[f.Alias]
		ack := wrap(kindFindAck, FindAckMsg{ReqId: f.ReqId, Owner: owner, Found: found}.Encode())
		reply := meshplane.BuildMsg(NodeAliasServiceId, NodeAliasServiceId, meshplane.ToNode(from), 0, false, ack).
			WithFromNode(agent.LocalNodeId())
		b.actions = append(b.actions, meshplane.ToNetAction(reply))
	case kindFindAck:
		a, err := DecodeFindAckMsg(payload)
		if err != nil {
			return
		}
		if _, ok := b.pending[a.ReqId]; !ok {
			return
		}
		if a.Found {
			delete(b.pending, a.ReqId)
			b.sdk.resolve(a.ReqId, NodeAliasResult{Owner: a.Owner, Found: true}, nil)
		}
	}
}

func (b *NodeAliasBehavior) connFor(node meshplane.NodeId) (meshplane.ConnId, bool) {
	for conn, n := range b.neighbors {
		if n == node {
			return conn, true
		}
	}
	return 0, false
}

func (b *NodeAliasBehavior) OnIncomingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	b.neighbors[conn] = remoteNode
}

func (b *NodeAliasBehavior) OnOutgoingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	b.neighbors[conn] = remoteNode
}

func (b *NodeAliasBehavior) OnConnectionDisconnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	delete(b.neighbors, conn)
}

func (b *NodeAliasBehavior) OnHandlerEvent(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId, event any) {
}

func (b *NodeAliasBehavior) OnStopped(agent *meshplane.BehaviorAgent) {}

func (b *NodeAliasBehavior) PopAction() (meshplane.BehaviorAction, bool) {
	if len(b.actions) == 0 {
		return meshplane.BehaviorAction{}, false
	}
	a := b.actions[0]
	b.actions = b.actions[1:]
	return a, true
}

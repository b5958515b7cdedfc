package manual

import (
	"context"

	"github.com/atsika/meshplane"
)

// ManualBehaviorConf mirrors the node-level wiring a manual deployment
// needs: who this node is, the seeds to dial on start, and the tags used
// to decide which resulting connections are worth keeping.
type ManualBehaviorConf struct {
	NodeId      meshplane.NodeId
	NodeAddr    meshplane.NodeAddr
	Seeds       []meshplane.NodeAddr
	LocalTags   []string
	ConnectTags []string
}

// ManualBehavior dials every configured seed once on start and, if
// ConnectTags is non-empty, drops any resulting connection whose peer
// never announces one of those tags. A seed whose dial fails with a
// transient DestinationNotFound is re-attempted on every following tick
// until it connects.
type ManualBehavior struct {
	conf ManualBehaviorConf

	agent   *meshplane.BehaviorAgent
	actions []meshplane.BehaviorAction

	// pendingDials tracks the address behind a dial this behavior
	// originated directly via agent.ConnectTo, so OnOutgoingConnectionError
	// can tell which seed failed.
	pendingDials map[meshplane.ConnId]meshplane.NodeAddr
	// retrySeeds holds seeds whose last dial failed with
	// ErrDestinationNotFound, re-dialed on the next tick.
	retrySeeds map[meshplane.NodeId]meshplane.NodeAddr
}

func NewManualBehavior(conf ManualBehaviorConf) *ManualBehavior {
	return &ManualBehavior{
		conf:         conf,
		pendingDials: make(map[meshplane.ConnId]meshplane.NodeAddr),
		retrySeeds:   make(map[meshplane.NodeId]meshplane.NodeAddr),
	}
}

func (b *ManualBehavior) ServiceId() uint8 { return ManualServiceId }

func (b *ManualBehavior) OnStarted(agent *meshplane.BehaviorAgent) {
	b.agent = agent
	for _, seed := range b.conf.Seeds {
		b.dial(seed)
	}
}

// dial originates a connection directly through the agent, rather than
// queuing ConnectToAction, so the resulting ConnId can be tied back to
// the seed address for retry bookkeeping.
func (b *ManualBehavior) dial(addr meshplane.NodeAddr) {
	conn, err := b.agent.ConnectTo(addr)
	if err != nil {
		if err == meshplane.ErrDestinationNotFound {
			b.retrySeeds[addr.NodeId] = addr
		}
		return
	}
	b.pendingDials[conn] = addr
}

func (b *ManualBehavior) OnTick(ctx context.Context, agent *meshplane.BehaviorAgent, now int64) {
	for node, addr := range b.retrySeeds {
		delete(b.retrySeeds, node)
		b.dial(addr)
	}
}

func (b *ManualBehavior) OnLocalMsg(agent *meshplane.BehaviorAgent, msg meshplane.TransportMsg) {}

func (b *ManualBehavior) CheckIncomingConnection(node meshplane.NodeId) error { return nil }
func (b *ManualBehavior) CheckOutgoingConnection(node meshplane.NodeId) error { return nil }

func (b *ManualBehavior) OnIncomingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
}

func (b *ManualBehavior) OnOutgoingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	delete(b.pendingDials, conn)
	delete(b.retrySeeds, remoteNode)
}

func (b *ManualBehavior) OnConnectionDisconnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
}

// OnOutgoingConnectionError re-queues the seed behind conn for retry next
// tick when the failure looks transient (the destination simply hasn't
// come up yet); any other error drops the seed for good.
func (b *ManualBehavior) OnOutgoingConnectionError(agent *meshplane.BehaviorAgent, node meshplane.NodeId, conn meshplane.ConnId, err error) {
	addr, ok := b.pendingDials[conn]
	if !ok {
		return
	}
	delete(b.pendingDials, conn)
	if err == meshplane.ErrDestinationNotFound {
		b.retrySeeds[addr.NodeId] = addr
	}
}

func (b *ManualBehavior) OnAwake(agent *meshplane.BehaviorAgent, now int64) {}

// OnHandlerEvent receives the peer's announced tags from the connection
// handler and closes the connection if ConnectTags is set but none of
// them were announced.
func (b *ManualBehavior) OnHandlerEvent(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId, event any) {
	announce, ok := event.(TagsAnnounce)
	if !ok {
		return
	}
	if len(b.conf.ConnectTags) == 0 {
		return
	}
	if !tagsOverlap(b.conf.ConnectTags, announce.Tags) {
		b.actions = append(b.actions, meshplane.CloseConnAction(conn))
	}
}

func (b *ManualBehavior) OnStopped(agent *meshplane.BehaviorAgent) {}

func (b *ManualBehavior) PopAction() (meshplane.BehaviorAction, bool) {
	if len(b.actions) == 0 {
		return meshplane.BehaviorAction{}, false
	}
	a := b.actions[0]
	b.actions = b.actions[1:]
	return a, true
}

// NewHandlerFactory returns the ConnectionHandler factory to register
// alongside this behavior; it announces LocalTags on every new connection
// and forwards whatever the peer announces back to the behavior.
func (b *ManualBehavior) NewHandlerFactory() func() meshplane.ConnectionHandler {
	return func() meshplane.ConnectionHandler {
		return &tagHandler{localTags: b.conf.LocalTags}
	}
}

type tagHandler struct {
	localTags []string
	agent     *meshplane.ConnectionAgent
}

func (h *tagHandler) OnOpened(agent *meshplane.ConnectionAgent) {
	h.agent = agent
	msg := meshplane.BuildMsg(ManualServiceId, ManualServiceId, meshplane.Direct(), 0, false, TagsAnnounce{Tags: h.localTags}.Encode())
	_ = agent.SendNet(msg)
}

func (h *tagHandler) OnMsg(agent *meshplane.ConnectionAgent, msg meshplane.TransportMsg) {
	announce, err := DecodeTagsAnnounce(msg.Payload)
	if err != nil {
		return
	}
	agent.SendToBehavior(announce)
}

func (h *tagHandler) OnBehaviorEvent(agent *meshplane.ConnectionAgent, event any) {}

func (h *tagHandler) OnClosed(agent *meshplane.ConnectionAgent) {}

func tagsOverlap(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

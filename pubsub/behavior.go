package pubsub

import (
	"context"

	"github.com/atsika/meshplane"
)

type feedbackKey struct {
	channel ChannelIdentify
	id      uint8
}

// PubsubBehavior owns every piece of pubsub state: which remote nodes
// subscribe to which channels (or uuid-wide, via SubAny), the local
// fan-out registries consumers read from, and the per-consumer Number
// feedback state a publisher's feedback gets merged from. The Sdk only
// queues intent; this is where it's all carried out, the same split as
// keyvalue.KeyValueBehavior/KeyValueSdk.
type PubsubBehavior struct {
	sdk *PubsubSdk

	exactSubs map[ChannelIdentify]map[meshplane.NodeId]struct{}
	autoSubs  map[uint64]map[meshplane.NodeId]struct{}

	localExact *subscriberManager[ChannelIdentify, DataEvent]
	localAuto  *subscriberManager[uint64, DataEvent]

	ownedPublishers map[ChannelIdentify]struct{}
	autoInterest    map[uint64]struct{}

	neighbors map[meshplane.ConnId]meshplane.NodeId

	numberState map[feedbackKey]map[uint64]NumberInfo

	agent   *meshplane.BehaviorAgent
	actions []meshplane.BehaviorAction
}

func NewPubsubBehavior(localNode meshplane.NodeId) *PubsubBehavior {
	return &PubsubBehavior{
		sdk:             NewPubsubSdk(localNode),
		exactSubs:       make(map[ChannelIdentify]map[meshplane.NodeId]struct{}),
		autoSubs:        make(map[uint64]map[meshplane.NodeId]struct{}),
		localExact:      newSubscriberManager[ChannelIdentify, DataEvent](),
		localAuto:       newSubscriberManager[uint64, DataEvent](),
		ownedPublishers: make(map[ChannelIdentify]struct{}),
		autoInterest:    make(map[uint64]struct{}),
		neighbors:       make(map[meshplane.ConnId]meshplane.NodeId),
		numberState:     make(map[feedbackKey]map[uint64]NumberInfo),
	}
}

func (b *PubsubBehavior) Sdk() *PubsubSdk { return b.sdk }

func (b *PubsubBehavior) ServiceId() uint8 { return PubsubServiceId }

func (b *PubsubBehavior) OnStarted(agent *meshplane.BehaviorAgent) {
	b.agent = agent
	b.sdk.SetAwaker(agent.Awaker())
}

// CheckIncomingConnection/CheckOutgoingConnection never veto; pubsub
// fan-out has no node-identity policy of its own.
func (b *PubsubBehavior) CheckIncomingConnection(node meshplane.NodeId) error { return nil }
func (b *PubsubBehavior) CheckOutgoingConnection(node meshplane.NodeId) error { return nil }

func (b *PubsubBehavior) OnOutgoingConnectionError(agent *meshplane.BehaviorAgent, node meshplane.NodeId, conn meshplane.ConnId, err error) {
}

// OnAwake services a publish/subscribe/feedback call as soon as it's
// queued, instead of waiting for the next tick.
func (b *PubsubBehavior) OnAwake(agent *meshplane.BehaviorAgent, now int64) {
	b.drainSdk()
}

func (b *PubsubBehavior) drainSdk() {
	for _, a := range b.sdk.drainActions() {
		switch a.kind {
		case actCreatePublisher:
			b.ownedPublishers[a.channel] = struct{}{}
		case actDropPublisher:
			delete(b.ownedPublishers, a.channel)
			delete(b.exactSubs, a.channel)
		case actPublish:
			b.publishData(a.channel, a.data)
		case actSubscribeExact:
			b.subscribeExact(a.channel, a.target)
		case actSubscribeAuto:
			b.subscribeAuto(a.uuid, a.target)
		case actUnsubscribeExact:
			b.localExact.Unsubscribe(a.channel, a.consumerUuid)
			if a.channel.Source != b.agent.LocalNodeId() {
				b.sendToNode(a.channel.Source, wireUnsub, UnsubMsg{Channel: a.channel}.Encode())
			}
		case actUnsubscribeAuto:
			b.localAuto.Unsubscribe(a.uuid, a.consumerUuid)
		case actFeedback:
			b.handleFeedback(a.channel, a.consumerUuid, a.feedbackId, a.feedbackType)
		}
	}
}

func (b *PubsubBehavior) OnTick(ctx context.Context, agent *meshplane.BehaviorAgent, now int64) {
	b.drainSdk()

	for uuid := range b.autoInterest {
		b.floodToNeighbors(wireSubAny, SubAnyMsg{Uuid: uuid}.Encode())
	}
}

func (b *PubsubBehavior) subscribeExact(channel ChannelIdentify, target any) {
	buffer := 16
	c, ok := target.(*ConsumerSingle)
	if ok && c.bufferSize > 0 {
		buffer = c.bufferSize
	}
	uuid, ch := b.localExact.Subscribe(channel, buffer)
	if ok {
		c.bind(uuid, ch)
	}
	if channel.Source != b.agent.LocalNodeId() {
		b.sendToNode(channel.Source, wireSub, SubMsg{Channel: channel}.Encode())
	}
}

func (b *PubsubBehavior) subscribeAuto(uuid uint64, target any) {
	buffer := 16
	c, ok := target.(*Consumer)
	if ok && c.bufferSize > 0 {
		buffer = c.bufferSize
	}
	subUuid, ch := b.localAuto.Subscribe(uuid, buffer)
	if ok {
		c.bind(subUuid, ch)
	}
	b.autoInterest[uuid] = struct{}{}
	b.floodToNeighbors(wireSubAny, SubAnyMsg{Uuid: uuid}.Encode())
}

func (b *PubsubBehavior) publishData(channel ChannelIdentify, data []byte) {
	ev := DataEvent{Channel: channel, Data: data}
	b.localExact.Publish(channel, ev)
	b.localAuto.Publish(channel.Uuid, ev)

	remotes := make(map[meshplane.NodeId]struct{})
	for n := range b.exactSubs[channel] {
		remotes[n] = struct{}{}
	}
	for n := range b.autoSubs[channel.Uuid] {
		remotes[n] = struct{}{}
	}
	if len(remotes) == 0 {
		return
	}
	payload := wrap(wireData, data)
	// StreamId is 32 bits wide: only the low 32 bits of channel.Uuid reach
	// a remote subscriber.
	for n := range remotes {
		msg := meshplane.BuildMsg(PubsubServiceId, PubsubServiceId, meshplane.ToNode(n), uint32(channel.Uuid), false, payload).
			WithFromNode(channel.Source)
		b.actions = append(b.actions, meshplane.ToNetAction(msg))
	}
}

func (b *PubsubBehavior) handleFeedback(channel ChannelIdentify, consumerUuid uint64, id uint8, ft FeedbackType) {
	if channel.Source != b.agent.LocalNodeId() {
		msg := FeedbackMsg{Channel: channel, ConsumerUuid: consumerUuid, Id: id, Type: ft}
		b.sendToNode(channel.Source, wireFeedback, msg.Encode())
		return
	}
	b.applyFeedback(channel, consumerUuid, id, ft)
}

func (b *PubsubBehavior) applyFeedback(channel ChannelIdentify, consumerUuid uint64, id uint8, ft FeedbackType) {
	if ft.Kind == FeedbackPassthrough {
		b.sdk.deliverFeedback(channel, Feedback{Channel: channel, Id: id, Type: ft})
		return
	}

	key := feedbackKey{channel: channel, id: id}
	if b.numberState[key] == nil {
		b.numberState[key] = make(map[uint64]NumberInfo)
	}
	b.numberState[key][consumerUuid] = ft.Info

	var merged NumberInfo
	first := true
	for _, info := range b.numberState[key] {
		if first {
			merged = info
			first = false
			continue
		}
		merged = merged.Merge(info)
	}
	b.sdk.deliverFeedback(channel, Feedback{
		Channel: channel,
		Id:      id,
		Type:    FeedbackType{Kind: FeedbackNumber, WindowMs: ft.WindowMs, Info: merged},
	})
}

func (b *PubsubBehavior) sendToNode(node meshplane.NodeId, kind wireKind, payload []byte) {
	msg := meshplane.BuildMsg(PubsubServiceId, PubsubServiceId, meshplane.ToNode(node), 0, false, wrap(kind, payload)).
		WithFromNode(b.agent.LocalNodeId())
	b.actions = append(b.actions, meshplane.ToNetAction(msg))
}

func (b *PubsubBehavior) floodToNeighbors(kind wireKind, payload []byte) {
	for conn := range b.neighbors {
		msg := meshplane.BuildMsg(PubsubServiceId, PubsubServiceId, meshplane.Direct(), 0, false, wrap(kind, payload)).
			WithFromNode(b.agent.LocalNodeId())
		b.actions = append(b.actions, meshplane.ToNetConnAction(conn, msg))
	}
}

func (b *PubsubBehavior) OnLocalMsg(agent *meshplane.BehaviorAgent, msg meshplane.TransportMsg) {
	if msg.Header.FromNode == nil || len(msg.Payload) == 0 {
		return
	}
	from := *msg.Header.FromNode
	kind, payload := wireKind(msg.Payload[0]), msg.Payload[1:]

	switch kind {
	case wireData:
		channel := ChannelIdentify{Source: from, Uuid: uint64(msg.Header.StreamId)}
		ev := DataEvent{Channel: channel, Data: payload}
		b.localExact.Publish(channel, ev)
		b.localAuto.Publish(channel.Uuid, ev)

	case wireSub:
		m, err := DecodeSubMsg(payload)
		if err != nil {
			return
		}
		added := b.addExactSub(m.Channel, from)
		b.sendToNode(from, wireSubAck, SubAckMsg{Channel: m.Channel, Added: added}.Encode())

	case wireUnsub:
		m, err := DecodeUnsubMsg(payload)
		if err != nil {
			return
		}
		removed := b.removeExactSub(m.Channel, from)
		b.sendToNode(from, wireUnsubAck, UnsubAckMsg{Channel: m.Channel, Removed: removed}.Encode())

	case wireSubAck, wireUnsubAck:
		// fire-and-forget: the local subscription is already bound at
		// subscribe time, there is nothing left to reconcile here.

	case wireSubAny:
		m, err := DecodeSubAnyMsg(payload)
		if err != nil {
			return
		}
		for channel := range b.ownedPublishers {
			if channel.Uuid != m.Uuid {
				continue
			}
			added := b.addExactSub(channel, from)
			b.sendToNode(from, wireSubAck, SubAckMsg{Channel: channel, Added: added}.Encode())
		}

	case wireUnsubAny:
		m, err := DecodeUnsubAnyMsg(payload)
		if err != nil {
			return
		}
		for channel := range b.ownedPublishers {
			if channel.Uuid == m.Uuid {
				b.removeExactSub(channel, from)
			}
		}

	case wireFeedback:
		m, err := DecodeFeedbackMsg(payload)
		if err != nil {
			return
		}
		b.applyFeedback(m.Channel, m.ConsumerUuid, m.Id, m.Type)
	}
}

func (b *PubsubBehavior) addExactSub(channel ChannelIdentify, node meshplane.NodeId) bool {
	if b.exactSubs[channel] == nil {
		b.exactSubs[channel] = make(map[meshplane.NodeId]struct{})
	}
	_, existed := b.exactSubs[channel][node]
	b.exactSubs[channel][node] = struct{}{}
	return !existed
}

func (b *PubsubBehavior) removeExactSub(channel ChannelIdentify, node meshplane.NodeId) bool {
	group, ok := b.exactSubs[channel]
	if !ok {
		return false
	}
	if _, existed := group[node]; !existed {
		return false
	}
	delete(group, node)
	if len(group) == 0 {
		delete(b.exactSubs, channel)
	}
	return true
}

func (b *PubsubBehavior) OnIncomingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	b.neighbors[conn] = remoteNode
}

func (b *PubsubBehavior) OnOutgoingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	b.neighbors[conn] = remoteNode
}

func (b *PubsubBehavior) OnConnectionDisconnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
	delete(b.neighbors, conn)
}

func (b *PubsubBehavior) OnHandlerEvent(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId, event any) {
}

func (b *PubsubBehavior) OnStopped(agent *meshplane.BehaviorAgent) {}

func (b *PubsubBehavior) PopAction() (meshplane.BehaviorAction, bool) {
	if len(b.actions) == 0 {
		return meshplane.BehaviorAction{}, false
	}
	a := b.actions[0]
	b.actions = b.actions[1:]
	return a, true
}

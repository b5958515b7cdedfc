package keyvalue

import (
	"context"

	"github.com/atsika/meshplane"
)

// every payload carries a one-byte direction tag ahead of the encoded
// event so OnLocalMsg can tell a requester's call from an owner's reply
// without a second route.
const (
	wireRemote byte = 0
	wireLocal  byte = 1
)

func wrapRemote(e SimpleRemoteEvent) []byte { return append([]byte{wireRemote}, e.Encode()...) }
func wrapLocal(e SimpleLocalEvent) []byte   { return append([]byte{wireLocal}, e.Encode()...) }

// KeyValueBehavior composes the requester side (SimpleLocalStorage, driven
// by a KeyValueSdk) and the owner side (SimpleRemoteStorage) into one
// NetworkBehavior: whichever node a key routes to plays owner for it,
// every node can simultaneously be a requester for any key.
type KeyValueBehavior struct {
	Sdk *KeyValueSdk

	local  *SimpleLocalStorage
	remote *SimpleRemoteStorage

	agent   *meshplane.BehaviorAgent
	actions []meshplane.BehaviorAction
}

func NewKeyValueBehavior(syncEachMs int64) *KeyValueBehavior {
	return &KeyValueBehavior{
		Sdk:    NewKeyValueSdk(),
		local:  NewSimpleLocalStorage(syncEachMs),
		remote: NewSimpleRemoteStorage(),
	}
}

func (b *KeyValueBehavior) ServiceId() uint8 { return KeyValueServiceId }

func (b *KeyValueBehavior) OnStarted(agent *meshplane.BehaviorAgent) {
	b.agent = agent
	b.Sdk.SetAwaker(agent.Awaker())
}

func (b *KeyValueBehavior) OnTick(ctx context.Context, agent *meshplane.BehaviorAgent, now int64) {
	b.drainSdk(now)
	b.local.Tick(now)
	b.drainLocalStorage()
}

// CheckIncomingConnection/CheckOutgoingConnection never veto; key-value
// replication has no node-identity policy of its own.
func (b *KeyValueBehavior) CheckIncomingConnection(node meshplane.NodeId) error { return nil }
func (b *KeyValueBehavior) CheckOutgoingConnection(node meshplane.NodeId) error { return nil }

func (b *KeyValueBehavior) OnOutgoingConnectionError(agent *meshplane.BehaviorAgent, node meshplane.NodeId, conn meshplane.ConnId, err error) {
}

// OnAwake drains whatever the Sdk queued since the last tick or awake,
// servicing set/get/subscribe calls immediately instead of waiting for
// the next tick.
func (b *KeyValueBehavior) OnAwake(agent *meshplane.BehaviorAgent, now int64) {
	b.drainSdk(now)
	b.drainLocalStorage()
}

func (b *KeyValueBehavior) drainSdk(now int64) {
	for _, a := range b.Sdk.drainActions() {
		switch a.kind {
		case sdkSet:
			b.local.Set(now, a.key, a.value, a.ex)
		case sdkDel:
			b.local.Del(a.key)
		case sdkGet:
			b.local.Get(now, a.key, a.uuid, KeyValueServiceId, a.timeoutMs)
		case sdkSub:
			b.local.Subscribe(a.key, a.ex, a.uuid, KeyValueServiceId)
		case sdkUnsub:
			b.local.Unsubscribe(a.key, a.uuid, KeyValueServiceId)
		}
	}
}

func (b *KeyValueBehavior) drainLocalStorage() {
	for {
		a, ok := b.local.PopAction()
		if !ok {
			return
		}
		b.applyLocalAction(a)
	}
}

func (b *KeyValueBehavior) applyLocalAction(a LocalStorageAction) {
	switch a.Kind {
	case ActionSendNet:
		msg := meshplane.BuildMsg(KeyValueServiceId, KeyValueServiceId, a.Route, 0, false, wrapRemote(a.RemoteEvent)).
			WithFromNode(b.agent.LocalNodeId())
		b.actions = append(b.actions, meshplane.ToNetAction(msg))
	case ActionLocalOnChanged:
		b.Sdk.deliverChange(a.Uuid, a.Key, Change{Key: a.Key, Value: a.Value, Found: a.HasValue, Version: a.Version, Source: a.Source})
	case ActionLocalOnGet:
		b.Sdk.resolveGet(a.Uuid, GetResult{Value: a.Value, Version: a.Version, Source: a.Source, Found: a.HasValue}, a.Err)
	}
}

func (b *KeyValueBehavior) drainRemoteStorage() {
	for {
		a, ok := b.remote.PopAction()
		if !ok {
			return
		}
		msg := meshplane.BuildMsg(KeyValueServiceId, KeyValueServiceId, meshplane.ToNode(a.To), 0, false, wrapLocal(a.LocalEvent)).
			WithFromNode(b.agent.LocalNodeId())
		b.actions = append(b.actions, meshplane.ToNetAction(msg))
	}
}

func (b *KeyValueBehavior) OnLocalMsg(agent *meshplane.BehaviorAgent, msg meshplane.TransportMsg) {
	if msg.Header.FromNode == nil || len(msg.Payload) == 0 {
		return
	}
	from := *msg.Header.FromNode
	tag, payload := msg.Payload[0], msg.Payload[1:]

	switch tag {
	case wireRemote:
		event, err := DecodeSimpleRemoteEvent(payload)
		if err != nil {
			return
		}
		b.remote.OnEvent(from, event)
		b.drainRemoteStorage()
	case wireLocal:
		event, err := DecodeSimpleLocalEvent(payload)
		if err != nil {
			return
		}
		for _, out := range b.local.OnEvent(from, event) {
			b.applyLocalAction(out)
		}
	}
}

func (b *KeyValueBehavior) OnIncomingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
}

func (b *KeyValueBehavior) OnOutgoingConnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
}

func (b *KeyValueBehavior) OnConnectionDisconnected(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId) {
}

func (b *KeyValueBehavior) OnHandlerEvent(agent *meshplane.BehaviorAgent, conn meshplane.ConnId, remoteNode meshplane.NodeId, event any) {
}

func (b *KeyValueBehavior) OnStopped(agent *meshplane.BehaviorAgent) {}

func (b *KeyValueBehavior) PopAction() (meshplane.BehaviorAction, bool) {
	if len(b.actions) == 0 {
		return meshplane.BehaviorAction{}, false
	}
	a := b.actions[0]
	b.actions = b.actions[1:]
	return a, true
}

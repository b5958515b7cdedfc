package keyvalue

import "github.com/atsika/meshplane"

// remoteSlot is the value a node actually owns on behalf of a key, plus
// the set of nodes currently subscribed to changes on it.
type remoteSlot struct {
	value    ValueType
	hasValue bool
	version  KeyVersion
	source   KeySource
	subs     map[meshplane.NodeId]struct{}
	pushSeed ReqId
}

// RemoteAction mirrors LocalStorageAction but for the owner side: every
// reply (ack or push) addressed back to a specific requester node.
type RemoteAction struct {
	LocalEvent SimpleLocalEvent
	To         meshplane.NodeId
}

// SimpleRemoteStorage is the owner side of the simple key-value protocol:
// it holds the actual values for whatever keys route to this node and
// answers Set/Get/Del/Sub/Unsub requests, pushing OnKeySet/OnKeyDel to
// every subscriber whenever a value changes.
type SimpleRemoteStorage struct {
	slots   map[KeyId]*remoteSlot
	actions []RemoteAction
}

func NewSimpleRemoteStorage() *SimpleRemoteStorage {
	return &SimpleRemoteStorage{slots: make(map[KeyId]*remoteSlot)}
}

func (r *SimpleRemoteStorage) push(to meshplane.NodeId, event SimpleLocalEvent) {
	r.actions = append(r.actions, RemoteAction{LocalEvent: event, To: to})
}

func (r *SimpleRemoteStorage) PopAction() (RemoteAction, bool) {
	if len(r.actions) == 0 {
		return RemoteAction{}, false
	}
	a := r.actions[0]
	r.actions = r.actions[1:]
	return a, true
}

func (r *SimpleRemoteStorage) slotFor(key KeyId) *remoteSlot {
	slot, ok := r.slots[key]
	if !ok {
		slot = &remoteSlot{subs: make(map[meshplane.NodeId]struct{})}
		r.slots[key] = slot
	}
	return slot
}

// OnEvent applies a request arriving from some requester node and queues
// whatever acks/notifications it produced for PopAction.
func (r *SimpleRemoteStorage) OnEvent(from meshplane.NodeId, event SimpleRemoteEvent) {
	switch event.Kind {
	case RemoteSet:
		slot := r.slotFor(event.Key)
		slot.value, slot.hasValue, slot.version, slot.source = event.Value, true, event.Version, from
		r.push(from, SetAckEvent(event.ReqId, event.Key, event.Version, true))
		r.notifySubs(event.Key, slot)
	case RemoteGet:
		slot, ok := r.slots[event.Key]
		if !ok || !slot.hasValue {
			r.push(from, GetAckEvent(event.ReqId, event.Key, nil, 0, 0, false))
			return
		}
		r.push(from, GetAckEvent(event.ReqId, event.Key, slot.value, slot.version, slot.source, true))
	case RemoteDel:
		slot, ok := r.slots[event.Key]
		if !ok {
			r.push(from, DelAckEvent(event.ReqId, event.Key, 0, false))
			return
		}
		slot.value, slot.hasValue = nil, false
		r.push(from, DelAckEvent(event.ReqId, event.Key, slot.version, true))
		r.notifySubs(event.Key, slot)
	case RemoteSub:
		slot := r.slotFor(event.Key)
		slot.subs[from] = struct{}{}
		r.push(from, SubAckEvent(event.ReqId, event.Key))
		if slot.hasValue {
			r.push(from, OnKeySetEvent(genPushReqId(slot), event.Key, slot.value, slot.version, slot.source))
		}
	case RemoteUnsub:
		if slot, ok := r.slots[event.Key]; ok {
			delete(slot.subs, from)
		}
		r.push(from, UnsubAckEvent(event.ReqId, event.Key, true))
	case RemoteOnKeySetAck, RemoteOnKeyDelAck:
		// change pushes aren't resent on a timer, so there is nothing to
		// clear; the ack only matters to a remote storage that retries.
	}
}

func (r *SimpleRemoteStorage) notifySubs(key KeyId, slot *remoteSlot) {
	for node := range slot.subs {
		if slot.hasValue {
			r.push(node, OnKeySetEvent(genPushReqId(slot), key, slot.value, slot.version, slot.source))
		} else {
			r.push(node, OnKeyDelEvent(genPushReqId(slot), key, slot.version, slot.source))
		}
	}
}

// genPushReqId hands out a per-slot monotonic id for unsolicited pushes,
// distinct from the requester-generated req ids on Set/Get/Del/Sub/Unsub.
func genPushReqId(slot *remoteSlot) ReqId {
	id := slot.pushSeed
	slot.pushSeed++
	return id
}

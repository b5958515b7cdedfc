package keyvalue

import "github.com/atsika/meshplane"

// KeyValueGetError is returned by a pending Get when it cannot be
// satisfied.
type KeyValueGetError int

const (
	GetErrNetwork KeyValueGetError = iota
	GetErrTimeout
	GetErrInternal
)

func (e KeyValueGetError) Error() string {
	switch e {
	case GetErrNetwork:
		return "keyvalue: network error"
	case GetErrTimeout:
		return "keyvalue: get timed out"
	default:
		return "keyvalue: internal error"
	}
}

type keySlotData struct {
	value    ValueType
	hasValue bool
	ex       *uint64
	version  KeyVersion
	lastSync int64
	acked    bool
}

type handlerKey struct {
	uuid      uint64
	serviceId uint8
}

type subscribedValue struct {
	value   ValueType
	version KeyVersion
	source  KeySource
}

type keySlotSubscribe struct {
	ex       *uint64
	lastSync int64
	sub      bool
	acked    bool
	handlers map[handlerKey]struct{}
	value    *subscribedValue
}

type keySlotGetCallback struct {
	key            KeyId
	timeoutAfterTs int64
	uuid           uint64
	serviceId      uint8
}

// LocalStorageActionKind tags what SimpleLocalStorage wants its caller to
// do next: push a message onto the network, or deliver a result/change
// notification to a locally registered SDK caller.
type LocalStorageActionKind int

const (
	ActionSendNet LocalStorageActionKind = iota
	ActionLocalOnChanged
	ActionLocalOnGet
)

type LocalStorageAction struct {
	Kind LocalStorageActionKind

	RemoteEvent SimpleRemoteEvent
	Route       meshplane.RouteRule

	ServiceId uint8
	Uuid      uint64
	Key       KeyId
	Value     ValueType
	HasValue  bool
	Version   KeyVersion
	Source    KeySource
	Err       error
}

func sendNetAction(event SimpleRemoteEvent, route meshplane.RouteRule) LocalStorageAction {
	return LocalStorageAction{Kind: ActionSendNet, RemoteEvent: event, Route: route}
}

func localOnChangedAction(serviceId uint8, uuid uint64, key KeyId, value ValueType, hasValue bool, version KeyVersion, source KeySource) LocalStorageAction {
	return LocalStorageAction{Kind: ActionLocalOnChanged, ServiceId: serviceId, Uuid: uuid, Key: key, Value: value, HasValue: hasValue, Version: version, Source: source}
}

func localOnGetAction(serviceId uint8, uuid uint64, key KeyId, value ValueType, hasValue bool, version KeyVersion, source KeySource, err error) LocalStorageAction {
	return LocalStorageAction{Kind: ActionLocalOnGet, ServiceId: serviceId, Uuid: uuid, Key: key, Value: value, HasValue: hasValue, Version: version, Source: source, Err: err}
}

// SimpleLocalStorage is the requester side of the simple key-value
// protocol: it tracks every Set/Del/Subscribe this node has in flight
// against remote owners, resends whatever hasn't been acked yet on every
// tick, and periodically re-syncs acked state as anti-entropy.
type SimpleLocalStorage struct {
	reqIdSeed   uint64
	versionSeed uint16
	syncEachMs  int64

	data      map[KeyId]*keySlotData
	subscribe map[KeyId]*keySlotSubscribe
	getQueue  map[ReqId]keySlotGetCallback

	outputEvents []LocalStorageAction
	lastTickNow  int64
}

func NewSimpleLocalStorage(syncEachMs int64) *SimpleLocalStorage {
	return &SimpleLocalStorage{
		syncEachMs: syncEachMs,
		data:       make(map[KeyId]*keySlotData),
		subscribe:  make(map[KeyId]*keySlotSubscribe),
		getQueue:   make(map[ReqId]keySlotGetCallback),
	}
}

func (s *SimpleLocalStorage) genReqId() ReqId {
	id := s.reqIdSeed
	s.reqIdSeed++
	return id
}

func (s *SimpleLocalStorage) genVersion(nowMs int64) KeyVersion {
	v := (uint64(nowMs) << 16) | uint64(s.versionSeed)
	s.versionSeed++
	return v
}

func (s *SimpleLocalStorage) push(a LocalStorageAction) { s.outputEvents = append(s.outputEvents, a) }

// Tick resends anything not yet acked, anti-entropy-resyncs acked state
// past syncEachMs, and expires timed-out gets. Call on every plane tick.
func (s *SimpleLocalStorage) Tick(now int64) {
	s.lastTickNow = now
	for key, slot := range s.data {
		if slot.acked {
			continue
		}
		reqId := s.genReqId()
		if slot.hasValue {
			s.push(sendNetAction(RemoteSetEvent(reqId, key, slot.value, slot.version, slot.ex), meshplane.ToKey(meshplane.NodeId(key))))
		} else {
			s.push(sendNetAction(RemoteDelEvent(reqId, key, slot.version), meshplane.ToKey(meshplane.NodeId(key))))
		}
	}

	for key, slot := range s.subscribe {
		if slot.acked {
			continue
		}
		reqId := s.genReqId()
		if slot.sub {
			s.push(sendNetAction(RemoteSubEvent(reqId, key, slot.ex), meshplane.ToKey(meshplane.NodeId(key))))
		} else {
			s.push(sendNetAction(RemoteUnsubEvent(reqId, key), meshplane.ToKey(meshplane.NodeId(key))))
		}
	}

	var removedKeys []KeyId
	for key, slot := range s.data {
		if !slot.acked || now-slot.lastSync < s.syncEachMs {
			continue
		}
		if slot.hasValue {
			reqId := s.genReqId()
			s.push(sendNetAction(RemoteSetEvent(reqId, key, slot.value, slot.version, slot.ex), meshplane.ToKey(meshplane.NodeId(key))))
		} else {
			removedKeys = append(removedKeys, key)
		}
		slot.lastSync = now
	}

	var unsubKeys []KeyId
	for key, slot := range s.subscribe {
		if !slot.acked || now-slot.lastSync < s.syncEachMs {
			continue
		}
		if slot.sub {
			reqId := s.genReqId()
			s.push(sendNetAction(RemoteSubEvent(reqId, key, slot.ex), meshplane.ToKey(meshplane.NodeId(key))))
		} else {
			unsubKeys = append(unsubKeys, key)
		}
		slot.lastSync = now
	}

	var timeoutGets []ReqId
	for reqId, slot := range s.getQueue {
		if now >= slot.timeoutAfterTs {
			timeoutGets = append(timeoutGets, reqId)
		}
	}
	for _, reqId := range timeoutGets {
		slot := s.getQueue[reqId]
		delete(s.getQueue, reqId)
		s.push(localOnGetAction(slot.serviceId, slot.uuid, slot.key, nil, false, 0, 0, GetErrTimeout))
	}

	for _, key := range removedKeys {
		delete(s.data, key)
	}
	for _, key := range unsubKeys {
		delete(s.subscribe, key)
	}
}

// OnEvent applies a reply arriving from a key's owner (acks, or an
// unsolicited change notification pushed to a subscriber).
func (s *SimpleLocalStorage) OnEvent(from meshplane.NodeId, event SimpleLocalEvent) []LocalStorageAction {
	switch event.Kind {
	case LocalSetAck:
		if event.Success {
			if slot, ok := s.data[event.Key]; ok && slot.version == event.Version {
				slot.acked = true
			}
			break
		}
		// remote rejected this version (e.g. a concurrent writer raced us);
		// regenerate a strictly greater version and let the next Tick
		// resend it rather than surrendering to the remote's value.
		if slot, ok := s.data[event.Key]; ok && slot.version <= event.Version {
			version := s.genVersion(s.lastTickNow)
			if version <= event.Version {
				version = event.Version + 1
			}
			slot.version = version
			slot.acked = false
		}
	case LocalGetAck:
		if slot, ok := s.getQueue[event.ReqId]; ok {
			delete(s.getQueue, event.ReqId)
			s.push(localOnGetAction(slot.serviceId, slot.uuid, slot.key, event.Value, event.HasValue, event.Version, event.Source, nil))
		}
	case LocalDelAck:
		if slot, ok := s.data[event.Key]; ok {
			if !event.HasVersion || slot.version >= event.Version {
				slot.acked = true
			}
		}
	case LocalSubAck:
		if slot, ok := s.subscribe[event.Key]; ok && slot.sub {
			slot.acked = true
		}
	case LocalUnsubAck:
		if event.Success {
			if slot, ok := s.subscribe[event.Key]; ok && !slot.sub {
				slot.acked = true
			}
		}
	case LocalOnKeySet:
		s.push(sendNetAction(RemoteOnKeySetAckEvent(event.ReqId), meshplane.ToNode(from)))
		if slot, ok := s.subscribe[event.Key]; ok {
			slot.value = &subscribedValue{value: event.Value, version: event.Version, source: event.Source}
			if slot.sub {
				for hk := range slot.handlers {
					s.push(localOnChangedAction(hk.serviceId, hk.uuid, event.Key, event.Value, true, event.Version, event.Source))
				}
			}
		}
	case LocalOnKeyDel:
		s.push(sendNetAction(RemoteOnKeyDelAckEvent(event.ReqId), meshplane.ToNode(from)))
		if slot, ok := s.subscribe[event.Key]; ok {
			slot.value = nil
			if slot.sub {
				for hk := range slot.handlers {
					s.push(localOnChangedAction(hk.serviceId, hk.uuid, event.Key, nil, false, event.Version, event.Source))
				}
			}
		}
	}
	out := s.outputEvents
	s.outputEvents = nil
	return out
}

func (s *SimpleLocalStorage) PopAction() (LocalStorageAction, bool) {
	if len(s.outputEvents) == 0 {
		return LocalStorageAction{}, false
	}
	a := s.outputEvents[0]
	s.outputEvents = s.outputEvents[1:]
	return a, true
}

func (s *SimpleLocalStorage) Set(nowMs int64, key KeyId, value ValueType, ex *uint64) {
	reqId := s.genReqId()
	version := s.genVersion(nowMs)
	s.data[key] = &keySlotData{value: value, hasValue: true, ex: ex, version: version}
	s.push(sendNetAction(RemoteSetEvent(reqId, key, value, version, ex), meshplane.ToKey(meshplane.NodeId(key))))
}

func (s *SimpleLocalStorage) Get(nowMs int64, key KeyId, uuid uint64, serviceId uint8, timeoutMs int64) {
	reqId := s.genReqId()
	s.getQueue[reqId] = keySlotGetCallback{key: key, timeoutAfterTs: nowMs + timeoutMs, uuid: uuid, serviceId: serviceId}
	s.push(sendNetAction(RemoteGetEvent(reqId, key), meshplane.ToKey(meshplane.NodeId(key))))
}

func (s *SimpleLocalStorage) Del(key KeyId) {
	slot, ok := s.data[key]
	if !ok {
		return
	}
	reqId := s.genReqId()
	slot.hasValue = false
	slot.value = nil
	slot.lastSync = 0
	slot.acked = false
	s.push(sendNetAction(RemoteDelEvent(reqId, key, slot.version), meshplane.ToKey(meshplane.NodeId(key))))
}

func (s *SimpleLocalStorage) Subscribe(key KeyId, ex *uint64, uuid uint64, serviceId uint8) {
	if slot, ok := s.subscribe[key]; ok {
		slot.handlers[handlerKey{uuid, serviceId}] = struct{}{}
		if slot.value != nil {
			s.push(localOnChangedAction(serviceId, uuid, key, slot.value.value, true, slot.value.version, slot.value.source))
		}
		return
	}
	reqId := s.genReqId()
	s.subscribe[key] = &keySlotSubscribe{
		ex:       ex,
		sub:      true,
		handlers: map[handlerKey]struct{}{{uuid, serviceId}: {}},
	}
	s.push(sendNetAction(RemoteSubEvent(reqId, key, ex), meshplane.ToKey(meshplane.NodeId(key))))
}

func (s *SimpleLocalStorage) Unsubscribe(key KeyId, uuid uint64, serviceId uint8) {
	slot, ok := s.subscribe[key]
	if !ok {
		return
	}
	delete(slot.handlers, handlerKey{uuid, serviceId})
	if len(slot.handlers) == 0 {
		reqId := s.genReqId()
		slot.sub = false
		slot.lastSync = 0
		slot.acked = false
		s.push(sendNetAction(RemoteUnsubEvent(reqId, key), meshplane.ToKey(meshplane.NodeId(key))))
	}
}

package keyvalue

import (
	"context"
	"sync"

	"github.com/atsika/meshplane"
)

// sdkActionKind tags a call queued by KeyValueSdk for the behavior goroutine
// to drain and hand to SimpleLocalStorage.
type sdkActionKind int

const (
	sdkSet sdkActionKind = iota
	sdkGet
	sdkDel
	sdkSub
	sdkUnsub
)

type sdkAction struct {
	kind      sdkActionKind
	key       KeyId
	value     ValueType
	ex        *uint64
	uuid      uint64
	timeoutMs int64
}

// GetResult is what a pending Get resolves to.
type GetResult struct {
	Value   ValueType
	Version KeyVersion
	Source  KeySource
	Found   bool
}

type pendingGet chan getReply

type getReply struct {
	result GetResult
	err    error
}

// Subscriber is a live subscription handle returned by KeyValueSdk.Subscribe.
// Calling Close stops the subscription and releases the handlers map entry.
type Subscriber struct {
	Changes chan Change
	sdk     *KeyValueSdk
	key     KeyId
	uuid    uint64
	once    sync.Once
}

// Change is delivered to a Subscriber on every OnKeyChanged notification.
type Change struct {
	Key     KeyId
	Value   ValueType
	Found   bool
	Version KeyVersion
	Source  KeySource
}

func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.sdk.unsubscribe(s.key, s.uuid)
		close(s.Changes)
	})
}

// KeyValueSdk is the API a behavior/handler uses to issue Set/Get/Del/
// Subscribe calls; every call queues an sdkAction and wakes the plane so
// KeyValueBehavior.OnAwake (or the next OnTick) can drain it into the
// SimpleLocalStorage.
type KeyValueSdk struct {
	mu        sync.Mutex
	reqIdSeed uint64
	uuidSeed  uint64
	actions   []sdkAction
	awaker    meshplane.Awaker

	pendingGets map[uint64]pendingGet
	subs        map[KeyId]map[uint64]*Subscriber
}

func NewKeyValueSdk() *KeyValueSdk {
	return &KeyValueSdk{
		pendingGets: make(map[uint64]pendingGet),
		subs:        make(map[KeyId]map[uint64]*Subscriber),
	}
}

func (s *KeyValueSdk) SetAwaker(a meshplane.Awaker) {
	s.mu.Lock()
	s.awaker = a
	s.mu.Unlock()
}

func (s *KeyValueSdk) notify() {
	if s.awaker != nil {
		s.awaker.Notify()
	}
}

func (s *KeyValueSdk) nextUuid() uint64 {
	id := s.uuidSeed
	s.uuidSeed++
	return id
}

func (s *KeyValueSdk) Set(key KeyId, value ValueType, ex *uint64) {
	s.mu.Lock()
	s.actions = append(s.actions, sdkAction{kind: sdkSet, key: key, value: value, ex: ex})
	s.mu.Unlock()
	s.notify()
}

func (s *KeyValueSdk) Del(key KeyId) {
	s.mu.Lock()
	s.actions = append(s.actions, sdkAction{kind: sdkDel, key: key})
	s.mu.Unlock()
	s.notify()
}

// Get queues a Get and blocks until the owner answers, the context is
// canceled, or timeoutMs elapses.
func (s *KeyValueSdk) Get(ctx context.Context, key KeyId, timeoutMs int64) (GetResult, error) {
	s.mu.Lock()
	reqId := s.reqIdSeed
	s.reqIdSeed++
	ch := make(pendingGet, 1)
	s.pendingGets[reqId] = ch
	s.actions = append(s.actions, sdkAction{kind: sdkGet, uuid: reqId, key: key, timeoutMs: timeoutMs})
	s.mu.Unlock()
	s.notify()

	select {
	case reply := <-ch:
		return reply.result, reply.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pendingGets, reqId)
		s.mu.Unlock()
		return GetResult{}, ctx.Err()
	}
}

func (s *KeyValueSdk) Subscribe(key KeyId, ex *uint64) *Subscriber {
	s.mu.Lock()
	uuid := s.nextUuid()
	sub := &Subscriber{Changes: make(chan Change, 16), sdk: s, key: key, uuid: uuid}
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]*Subscriber)
	}
	s.subs[key][uuid] = sub
	s.actions = append(s.actions, sdkAction{kind: sdkSub, key: key, uuid: uuid, ex: ex})
	s.mu.Unlock()
	s.notify()
	return sub
}

func (s *KeyValueSdk) unsubscribe(key KeyId, uuid uint64) {
	s.mu.Lock()
	if m, ok := s.subs[key]; ok {
		delete(m, uuid)
		if len(m) == 0 {
			delete(s.subs, key)
		}
	}
	s.actions = append(s.actions, sdkAction{kind: sdkUnsub, key: key, uuid: uuid})
	s.mu.Unlock()
	s.notify()
}

// drainActions hands every queued action to the behavior goroutine; called
// only from KeyValueBehavior.drainSdk (on OnTick and OnAwake), which owns
// the SimpleLocalStorage.
func (s *KeyValueSdk) drainActions() []sdkAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.actions
	s.actions = nil
	return a
}

// resolveGet delivers a Get's outcome to whatever goroutine is blocked in
// Get, if any are still waiting (the context may have already canceled it).
func (s *KeyValueSdk) resolveGet(reqId uint64, result GetResult, err error) {
	s.mu.Lock()
	ch, ok := s.pendingGets[reqId]
	if ok {
		delete(s.pendingGets, reqId)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	ch <- getReply{result: result, err: err}
}

// deliverChange hands an OnKeyChanged notification to the live Subscriber
// registered under (key, uuid), dropping it if that subscriber is gone or
// its channel is full.
func (s *KeyValueSdk) deliverChange(uuid uint64, key KeyId, c Change) {
	s.mu.Lock()
	sub, ok := s.subs[key][uuid]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sub.Changes <- c:
	default:
	}
}

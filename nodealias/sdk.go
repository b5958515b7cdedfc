package nodealias

import (
	"context"
	"sync"

	"github.com/atsika/meshplane"
)

type NodeAliasError int

const (
	ErrTimeout NodeAliasError = iota
	ErrNetwork
)

func (e NodeAliasError) Error() string {
	if e == ErrTimeout {
		return "nodealias: find timed out"
	}
	return "nodealias: network error"
}

type NodeAliasResult struct {
	Owner meshplane.NodeId
	Found bool
}

type sdkActionKind int

const (
	actRegister sdkActionKind = iota
	actUnregister
	actFind
)

type sdkAction struct {
	kind      sdkActionKind
	alias     NodeAliasId
	reqId     uint64
	timeoutMs int64
}

type findReply struct {
	result NodeAliasResult
	err    error
}

// NodeAliasSdk is the API a behavior/handler uses to register this node
// under an alias and resolve other nodes' aliases.
type NodeAliasSdk struct {
	mu        sync.Mutex
	reqIdSeed uint64
	actions   []sdkAction
	awaker    meshplane.Awaker

	pending map[uint64]chan findReply
}

func NewNodeAliasSdk() *NodeAliasSdk {
	return &NodeAliasSdk{pending: make(map[uint64]chan findReply)}
}

func (s *NodeAliasSdk) SetAwaker(a meshplane.Awaker) {
	s.mu.Lock()
	s.awaker = a
	s.mu.Unlock()
}

func (s *NodeAliasSdk) notify() {
	if s.awaker != nil {
		s.awaker.Notify()
	}
}

func (s *NodeAliasSdk) Register(alias NodeAliasId) {
	s.mu.Lock()
	s.actions = append(s.actions, sdkAction{kind: actRegister, alias: alias})
	s.mu.Unlock()
	s.notify()
}

func (s *NodeAliasSdk) Unregister(alias NodeAliasId) {
	s.mu.Lock()
	s.actions = append(s.actions, sdkAction{kind: actUnregister, alias: alias})
	s.mu.Unlock()
	s.notify()
}

func (s *NodeAliasSdk) Find(ctx context.Context, alias NodeAliasId, timeoutMs int64) (NodeAliasResult, error) {
	s.mu.Lock()
	reqId := s.reqIdSeed
	s.reqIdSeed++
	ch := make(chan findReply, 1)
	s.pending[reqId] = ch
	s.actions = append(s.actions, sdkAction{kind: actFind, alias: alias, reqId: reqId, timeoutMs: timeoutMs})
	s.mu.Unlock()
	s.notify()

	select {
	case reply := <-ch:
		return reply.result, reply.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, reqId)
		s.mu.Unlock()
		return NodeAliasResult{}, ctx.Err()
	}
}

func (s *NodeAliasSdk) drainActions() []sdkAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.actions
	s.actions = nil
	return a
}

func (s *NodeAliasSdk) resolve(reqId uint64, result NodeAliasResult, err error) {
	s.mu.Lock()
	ch, ok := s.pending[reqId]
	if ok {
		delete(s.pending, reqId)
	}
	s.mu.Unlock()
	if ok {
		ch <- findReply{result: result, err: err}
	}
}

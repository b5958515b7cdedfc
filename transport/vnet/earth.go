// Package vnet is an in-process transport for tests and simulations: every
// node sharing a VnetEarth can dial every other node registered on it
// without opening a real socket.
package vnet

import (
	"context"
	"sync"

	"github.com/atsika/meshplane"
)

// VnetEarth is the shared switchboard every vnet Transport on a simulated
// cluster registers with. It hands out sequential ConnIds and pairs up the
// two sides of every dial.
type VnetEarth struct {
	mu        sync.Mutex
	nodes     map[meshplane.NodeId]*Transport
	nextLocal map[meshplane.NodeId]uint64
}

func NewVnetEarth() *VnetEarth {
	return &VnetEarth{
		nodes:     make(map[meshplane.NodeId]*Transport),
		nextLocal: make(map[meshplane.NodeId]uint64),
	}
}

func (e *VnetEarth) register(nodeId meshplane.NodeId, t *Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes[nodeId] = t
}

func (e *VnetEarth) unregister(nodeId meshplane.NodeId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.nodes, nodeId)
}

func (e *VnetEarth) lookup(nodeId meshplane.NodeId) (*Transport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.nodes[nodeId]
	return t, ok
}

func (e *VnetEarth) nextConnId(nodeId meshplane.NodeId, dir meshplane.ConnDirection) meshplane.ConnId {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextLocal[nodeId]++
	return meshplane.NewConnId(dir, e.nextLocal[nodeId])
}

// dial connects from's pending outgoing request to to's incoming queue. It
// returns an error if to is not registered on the earth.
func (e *VnetEarth) dial(ctx context.Context, from meshplane.NodeId, to meshplane.NodeId) (*conn, *conn, error) {
	target, ok := e.lookup(to)
	if !ok {
		return nil, nil, meshplane.ErrDestinationNotFound
	}

	clientConn := newConn(e.nextConnId(from, meshplane.ConnOutgoing), to, from)
	serverConn := newConn(e.nextConnId(to, meshplane.ConnIncoming), from, to)
	clientConn.peer, serverConn.peer = serverConn, clientConn

	acceptor := meshplane.NewAsyncConnectionAcceptor()
	target.incomingCh <- incomingRequest{conn: serverConn, remoteNode: from, acceptor: acceptor}

	go func() {
		if err := acceptor.Wait(ctx); err != nil {
			clientConn.closeLocal()
			return
		}
		target.eventCh <- meshplane.TransportEvent{
			Kind:       meshplane.EventIncoming,
			RemoteNode: from,
			Sender:     serverConn,
			Receiver:   serverConn,
		}
	}()

	return clientConn, serverConn, nil
}

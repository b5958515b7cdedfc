package vnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/atsika/meshplane"
)

// conn is one side of an in-process vnet connection. Sending on one side
// delivers directly into its peer's recvCh; there is no encoding step
// since both ends live in the same process.
type conn struct {
	id         meshplane.ConnId
	remoteNode meshplane.NodeId
	localNode  meshplane.NodeId

	peer *conn

	mu        sync.Mutex
	recvCh    chan meshplane.ConnectionEvent
	closed    bool
	closedCh  chan struct{}
	statsSent bool
}

func newConn(id meshplane.ConnId, remoteNode, localNode meshplane.NodeId) *conn {
	return &conn{
		id:         id,
		remoteNode: remoteNode,
		localNode:  localNode,
		recvCh:     make(chan meshplane.ConnectionEvent, 128),
		closedCh:   make(chan struct{}),
	}
}

func (c *conn) RemoteNodeId() meshplane.NodeId { return c.remoteNode }
func (c *conn) ConnId() meshplane.ConnId        { return c.id }
func (c *conn) RemoteAddr() string              { return fmt.Sprintf("vnet:%s", c.remoteNode) }

func (c *conn) Send(msg meshplane.TransportMsg) error {
	c.mu.Lock()
	closed := c.closed
	peer := c.peer
	c.mu.Unlock()
	if closed || peer == nil {
		return meshplane.ErrTransportClosed
	}
	peer.deliver(meshplane.ConnectionEvent{Msg: &msg})
	return nil
}

func (c *conn) Close(reason error) {
	c.closeLocal()
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer != nil {
		peer.closeLocal()
	}
}

func (c *conn) closeLocal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closedCh)
}

func (c *conn) deliver(ev meshplane.ConnectionEvent) {
	select {
	case c.recvCh <- ev:
	case <-c.closedCh:
	}
}

// Poll yields a synthetic ConnectionStats sample first, matching the
// convention every transport in this module follows, then forwards
// whatever the peer sends.
func (c *conn) Poll(ctx context.Context) (meshplane.ConnectionEvent, error) {
	if !c.statsSent {
		c.statsSent = true
		return meshplane.ConnectionEvent{Stats: &meshplane.ConnectionStats{
			RttMs: 1, SendingKbps: 0, SendEstKbps: 100000, LossPercent: 0, OverUse: false,
		}}, nil
	}
	select {
	case ev := <-c.recvCh:
		return ev, nil
	case <-c.closedCh:
		return meshplane.ConnectionEvent{}, meshplane.ErrTransportClosed
	case <-ctx.Done():
		return meshplane.ConnectionEvent{}, ctx.Err()
	}
}

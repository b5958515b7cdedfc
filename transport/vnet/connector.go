package vnet

import (
	"context"
	"sync"

	"github.com/atsika/meshplane"
)

// connector implements meshplane.TransportConnector against a VnetEarth.
// Pending/continue/destroy exist for interface symmetry with real
// transports; a vnet dial resolves synchronously so there is nothing to
// continue.
type connector struct {
	t *Transport

	mu      sync.Mutex
	pending map[meshplane.ConnId]context.CancelFunc
}

func (c *connector) CreatePendingOutgoing(addr meshplane.NodeAddr) (meshplane.ConnId, error) {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn, _, err := c.t.earth.dial(ctx, c.t.nodeId, addr.NodeId)
	if err != nil {
		cancel()
		return 0, err
	}

	c.mu.Lock()
	if c.pending == nil {
		c.pending = make(map[meshplane.ConnId]context.CancelFunc)
	}
	c.pending[clientConn.id] = cancel
	c.mu.Unlock()

	go func() {
		// Blocks until clientConn is closed and does nothing else. The
		// Outgoing event below is emitted at once, before the target has
		// accepted; if the target rejects, dial's goroutine closes
		// clientConn, which the plane then sees as a disconnect.
		<-clientConn.closedCh
	}()

	c.t.eventCh <- meshplane.TransportEvent{
		Kind:           meshplane.EventOutgoing,
		OutgoingConnId: clientConn.id,
		RemoteNode:     addr.NodeId,
		Sender:         clientConn,
		Receiver:       clientConn,
	}

	return clientConn.id, nil
}

func (c *connector) ContinuePendingOutgoing(id meshplane.ConnId) error { return nil }

func (c *connector) DestroyPendingOutgoing(id meshplane.ConnId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.pending[id]; ok {
		cancel()
		delete(c.pending, id)
	}
}

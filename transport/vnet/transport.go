package vnet

import (
	"context"

	"github.com/atsika/meshplane"
)

type incomingRequest struct {
	conn       *conn
	remoteNode meshplane.NodeId
	acceptor   *meshplane.AsyncConnectionAcceptor
}

// Transport is one node's handle onto a VnetEarth. It implements
// meshplane.Transport.
type Transport struct {
	earth  *VnetEarth
	nodeId meshplane.NodeId

	incomingCh chan incomingRequest
	eventCh    chan meshplane.TransportEvent

	connector *connector
}

// NewTransport registers a new node on earth and returns its Transport.
func NewTransport(earth *VnetEarth, nodeId meshplane.NodeId) *Transport {
	t := &Transport{
		earth:      earth,
		nodeId:     nodeId,
		incomingCh: make(chan incomingRequest, 64),
		eventCh:    make(chan meshplane.TransportEvent, 64),
	}
	t.connector = &connector{t: t}
	earth.register(nodeId, t)
	return t
}

func (t *Transport) Connector() meshplane.TransportConnector { return t.connector }

func (t *Transport) Recv(ctx context.Context) (meshplane.TransportEvent, error) {
	select {
	case req := <-t.incomingCh:
		return meshplane.TransportEvent{
			Kind:       meshplane.EventIncomingRequest,
			RemoteNode: req.remoteNode,
			RemoteAddr: req.conn.RemoteAddr(),
			Acceptor:   req.acceptor,
		}, nil
	case ev := <-t.eventCh:
		return ev, nil
	case <-ctx.Done():
		return meshplane.TransportEvent{}, ctx.Err()
	}
}

// Close deregisters this node from its earth; in-flight connections are
// left to the caller to close explicitly.
func (t *Transport) Close() {
	t.earth.unregister(t.nodeId)
}

package udpnoise

import (
	"fmt"
	"net"

	"github.com/atsika/meshplane"
)

// connector implements meshplane.TransportConnector for a Transport: it
// initiates the first Noise handshake message and tracks the dial until
// the socket read loop observes the matching reply.
type connector struct {
	t *Transport
}

func addrFromDescriptors(addr meshplane.NodeAddr) (*net.UDPAddr, error) {
	for _, d := range addr.Descriptors {
		if d.Protocol == meshplane.ProtoUDP {
			return &net.UDPAddr{IP: net.IP(d.IP[:]), Port: int(d.Port)}, nil
		}
	}
	return nil, fmt.Errorf("udpnoise: no UDP descriptor for %s", addr)
}

func (c *connector) CreatePendingOutgoing(addr meshplane.NodeAddr) (meshplane.ConnId, error) {
	udpAddr, err := addrFromDescriptors(addr)
	if err != nil {
		return 0, err
	}

	noise, err := NewNoiseClient()
	if err != nil {
		return 0, err
	}
	msg1, err := noise.WriteMessage(nil)
	if err != nil {
		return 0, err
	}

	id := c.t.nextConnId(meshplane.ConnOutgoing)
	key := udpAddr.String()

	c.t.mu.Lock()
	c.t.pendingOut[key] = &pendingOutgoing{connId: id, noise: noise, addr: udpAddr}
	c.t.mu.Unlock()

	if err := c.t.sendHandshake(udpAddr, msg1); err != nil {
		c.t.mu.Lock()
		delete(c.t.pendingOut, key)
		c.t.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// ContinuePendingOutgoing is a no-op for udpnoise: the first handshake
// message is already sent by the time CreatePendingOutgoing returns.
func (c *connector) ContinuePendingOutgoing(id meshplane.ConnId) error { return nil }

func (c *connector) DestroyPendingOutgoing(id meshplane.ConnId) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	for key, p := range c.t.pendingOut {
		if p.connId == id {
			delete(c.t.pendingOut, key)
			return
		}
	}
}

func (t *Transport) completeOutgoing(key string, pending *pendingOutgoing, msg2 []byte) {
	if _, err := pending.noise.ReadMessage(msg2); err != nil {
		t.log.WithError(err).Warn("outgoing handshake failed")
		t.mu.Lock()
		delete(t.pendingOut, key)
		t.mu.Unlock()
		t.eventCh <- eventOutgoingError(pending.connId, pending.addr.String(), meshplane.ErrAuthentication)
		return
	}

	c := t.establishSession(pending.connId, pending.addr, pending.noise)

	t.mu.Lock()
	delete(t.pendingOut, key)
	t.mu.Unlock()

	t.eventCh <- eventOutgoing(pending.connId, c)
}

func eventOutgoingError(id meshplane.ConnId, addr string, err error) meshplane.TransportEvent {
	return meshplane.TransportEvent{
		Kind:           meshplane.EventOutgoingError,
		OutgoingConnId: id,
		RemoteAddr:     addr,
		OutgoingErr:    err,
	}
}

func eventOutgoing(id meshplane.ConnId, c *conn) meshplane.TransportEvent {
	return meshplane.TransportEvent{
		Kind:           meshplane.EventOutgoing,
		OutgoingConnId: id,
		RemoteNode:     0,
		Sender:         c,
		Receiver:       c,
	}
}

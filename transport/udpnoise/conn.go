package udpnoise

import (
	"bytes"
	"context"
	"net"
	"sync"

	"github.com/atsika/meshplane"
)

// conn is one established udpnoise session: a Noise-secured pairing with a
// single remote UDP address. It implements both
// meshplane.ConnectionSender and meshplane.ConnectionReceiver.
type conn struct {
	id         meshplane.ConnId
	remoteAddr *net.UDPAddr
	remoteNode meshplane.NodeId
	socket     *net.UDPConn

	noise *Noise

	sendMu  sync.Mutex
	writeBuf bytes.Buffer

	recvCh chan meshplane.ConnectionEvent
	closed chan struct{}
	closeOnce sync.Once

	statsSent bool
}

func newConn(id meshplane.ConnId, addr *net.UDPAddr, socket *net.UDPConn, noise *Noise) *conn {
	return &conn{
		id:         id,
		remoteAddr: addr,
		socket:     socket,
		noise:      noise,
		recvCh:     make(chan meshplane.ConnectionEvent, 64),
		closed:     make(chan struct{}),
	}
}

func (c *conn) RemoteNodeId() meshplane.NodeId { return c.remoteNode }
func (c *conn) ConnId() meshplane.ConnId        { return c.id }
func (c *conn) RemoteAddr() string              { return c.remoteAddr.String() }

// Send encrypts and frames msg, then writes one datagram to the peer.
func (c *conn) Send(msg meshplane.TransportMsg) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	sealed, err := c.noise.SealData(nil, msg.Encode())
	if err != nil {
		return err
	}
	c.writeBuf.Reset()
	BuildFrame(&c.writeBuf, Frame{Payload: sealed, Type: FrameTypeData})
	_, err = c.socket.WriteToUDP(c.writeBuf.Bytes(), c.remoteAddr)
	return err
}

// Close marks the session closed. It does not remove the session from the
// owning transport's tables; transport.go's removeConn does that, and
// nothing calls it.
func (c *conn) Close(reason error) {
	c.closeOnce.Do(func() { close(c.closed) })
}

// deliver pushes a decoded event onto the session's receive queue. Safe to
// call from the transport's single socket-reader goroutine only.
func (c *conn) deliver(ev meshplane.ConnectionEvent) {
	select {
	case c.recvCh <- ev:
	case <-c.closed:
	}
}

// Poll returns the initial synthetic stats sample on first call, matching
// the convention shared with the vnet transport, then yields decoded
// messages as they arrive.
func (c *conn) Poll(ctx context.Context) (meshplane.ConnectionEvent, error) {
	if !c.statsSent {
		c.statsSent = true
		return meshplane.ConnectionEvent{Stats: &meshplane.ConnectionStats{
			RttMs: 1, SendingKbps: 0, SendEstKbps: 100000, LossPercent: 0, OverUse: false,
		}}, nil
	}
	select {
	case ev, ok := <-c.recvCh:
		if !ok {
			return meshplane.ConnectionEvent{}, meshplane.ErrTransportClosed
		}
		return ev, nil
	case <-c.closed:
		return meshplane.ConnectionEvent{}, meshplane.ErrTransportClosed
	case <-ctx.Done():
		return meshplane.ConnectionEvent{}, ctx.Err()
	}
}

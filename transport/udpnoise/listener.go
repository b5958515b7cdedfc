package udpnoise

import (
	"context"
	"net"

	"github.com/atsika/meshplane"
)

// onHandshakeFrame is called from the socket read loop for every datagram
// tagged FrameTypeHandshake. It drives the responder side of the two
// message Noise NN exchange: the first frame from a new address starts a
// pending incoming request surfaced to the plane as EventIncomingRequest;
// once accepted, the second (final) handshake message completes the
// session and an EventIncoming is emitted.
func (t *Transport) onHandshakeFrame(addr *net.UDPAddr, key string, payload []byte) {
	t.mu.Lock()
	out, isReply := t.pendingOut[key]
	t.mu.Unlock()
	if isReply {
		t.completeOutgoing(key, out, payload)
		return
	}

	t.mu.Lock()
	_, already := t.pendingIn[key]
	t.mu.Unlock()
	if already {
		// retransmitted first message while awaiting Accept/Reject; ignore.
		return
	}

	n, err := NewNoiseServer()
	if err != nil {
		t.log.WithError(err).Warn("noise server init failed")
		return
	}
	if _, err := n.ReadMessage(payload); err != nil {
		t.log.WithError(err).Debug("handshake message 1 rejected")
		return
	}

	acceptor := meshplane.NewAsyncConnectionAcceptor()
	pending := &pendingIncoming{noise: n, addr: addr, acceptor: acceptor}
	t.mu.Lock()
	t.pendingIn[key] = pending
	t.mu.Unlock()

	t.eventCh <- meshplane.TransportEvent{
		Kind:       meshplane.EventIncomingRequest,
		RemoteAddr: addr.String(),
		Acceptor:   acceptor,
	}

	go t.finishIncoming(key, pending)
}

func (t *Transport) finishIncoming(key string, pending *pendingIncoming) {
	ctx := context.Background()
	if err := pending.acceptor.Wait(ctx); err != nil {
		t.mu.Lock()
		delete(t.pendingIn, key)
		t.mu.Unlock()
		return
	}

	reply, err := pending.noise.WriteMessage(nil)
	if err != nil {
		t.log.WithError(err).Warn("handshake message 2 failed")
		t.mu.Lock()
		delete(t.pendingIn, key)
		t.mu.Unlock()
		return
	}
	if err := t.sendHandshake(pending.addr, reply); err != nil {
		t.log.WithError(err).Warn("failed to send handshake reply")
	}

	id := t.nextConnId(meshplane.ConnIncoming)
	c := t.establishSession(id, pending.addr, pending.noise)

	t.mu.Lock()
	delete(t.pendingIn, key)
	t.mu.Unlock()

	t.eventCh <- meshplane.TransportEvent{
		Kind:       meshplane.EventIncoming,
		RemoteNode: 0,
		Sender:     c,
		Receiver:   c,
	}
}

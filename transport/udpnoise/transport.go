package udpnoise

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/atsika/meshplane"
)

// Transport is a single-socket UDP transport secured with a Noise NN
// handshake per session. It implements meshplane.Transport.
type Transport struct {
	socket *net.UDPConn
	cfg    *Config
	log    *logrus.Entry

	localUUID atomic.Uint64

	mu        sync.Mutex
	sessions  map[string]*conn            // by remote addr string
	byConnId  map[meshplane.ConnId]*conn
	pendingOut map[string]*pendingOutgoing // by remote addr string, awaiting msg2
	pendingIn  map[string]*pendingIncoming // by remote addr string, awaiting accept/reject

	eventCh chan meshplane.TransportEvent
	connector *connector
}

type pendingOutgoing struct {
	connId meshplane.ConnId
	noise  *Noise
	addr   *net.UDPAddr
}

type pendingIncoming struct {
	noise    *Noise
	addr     *net.UDPAddr
	acceptor *meshplane.AsyncConnectionAcceptor
}

// Listen opens a udpnoise Transport bound to laddr.
func Listen(laddr string, logger *logrus.Logger, opts ...Option) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udpnoise: resolve %q: %w", laddr, err)
	}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udpnoise: listen %q: %w", laddr, err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	t := &Transport{
		socket:     sock,
		cfg:        applyConfig(opts...),
		log:        logger.WithField("component", "udpnoise"),
		sessions:   make(map[string]*conn),
		byConnId:   make(map[meshplane.ConnId]*conn),
		pendingOut: make(map[string]*pendingOutgoing),
		pendingIn:  make(map[string]*pendingIncoming),
		eventCh:    make(chan meshplane.TransportEvent, 64),
	}
	t.connector = &connector{t: t}
	go t.readLoop()
	return t, nil
}

func (t *Transport) Connector() meshplane.TransportConnector { return t.connector }

// Recv blocks for the next transport-level event: an incoming handshake
// request, or the resolution (success/failure) of a previously initiated
// outgoing dial.
func (t *Transport) Recv(ctx context.Context) (meshplane.TransportEvent, error) {
	select {
	case ev := <-t.eventCh:
		return ev, nil
	case <-ctx.Done():
		return meshplane.TransportEvent{}, ctx.Err()
	}
}

func (t *Transport) nextConnId(dir meshplane.ConnDirection) meshplane.ConnId {
	return meshplane.NewConnId(dir, t.localUUID.Add(1))
}

func (t *Transport) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := t.socket.ReadFromUDP(buf)
		if err != nil {
			return
		}
		frame, err := DecodeFrame(buf[:n])
		if err != nil {
			t.log.WithError(err).Debug("dropping malformed datagram")
			continue
		}
		key := addr.String()

		switch frame.Type {
		case FrameTypeHandshake:
			t.onHandshakeFrame(addr, key, frame.Payload)
		case FrameTypeData:
			t.onDataFrame(key, frame.Payload)
		}
	}
}

func (t *Transport) onDataFrame(key string, payload []byte) {
	t.mu.Lock()
	c, ok := t.sessions[key]
	t.mu.Unlock()
	if !ok {
		return
	}
	plain, _, err := c.noise.UnsealData(nil, payload)
	if err != nil {
		t.log.WithError(err).Debug("decrypt failed, dropping datagram")
		return
	}
	msg, err := meshplane.DecodeMsg(plain)
	if err != nil {
		t.log.WithError(err).Debug("decode failed, dropping datagram")
		return
	}
	c.deliver(meshplane.ConnectionEvent{Msg: &msg})
}

func (t *Transport) establishSession(id meshplane.ConnId, addr *net.UDPAddr, noise *Noise) *conn {
	c := newConn(id, addr, t.socket, noise)
	t.mu.Lock()
	t.sessions[addr.String()] = c
	t.byConnId[id] = c
	t.mu.Unlock()
	return c
}

func (t *Transport) removeConn(id meshplane.ConnId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byConnId[id]
	if !ok {
		return
	}
	delete(t.byConnId, id)
	delete(t.sessions, c.remoteAddr.String())
}

func (t *Transport) sendHandshake(addr *net.UDPAddr, payload []byte) error {
	var bb bytes.Buffer
	BuildFrame(&bb, Frame{Payload: payload, Type: FrameTypeHandshake})
	_, err := t.socket.WriteToUDP(bb.Bytes(), addr)
	return err
}

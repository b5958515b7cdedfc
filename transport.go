package meshplane

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionStats is a point-in-time quality sample for a single
// connection, reported alongside data messages so behaviors can make
// congestion-aware decisions without owning the transport.
type ConnectionStats struct {
	RttMs        uint32
	SendingKbps  uint32
	SendEstKbps  uint32
	LossPercent  uint32
	OverUse      bool
}

// OutgoingConnectionError enumerates why an outgoing dial never reached the
// Outgoing event.
type OutgoingConnectionError int

const (
	ErrTooManyConnections OutgoingConnectionError = iota
	ErrAuthentication
	ErrUnsupportedProtocol
	ErrDestinationNotFound
	ErrBehaviorRejected
)

func (e OutgoingConnectionError) Error() string {
	switch e {
	case ErrTooManyConnections:
		return "too many connections"
	case ErrAuthentication:
		return "authentication error"
	case ErrUnsupportedProtocol:
		return "unsupported protocol"
	case ErrDestinationNotFound:
		return "destination not found"
	case ErrBehaviorRejected:
		return "rejected by behavior"
	default:
		return "unknown outgoing connection error"
	}
}

// ConnectionRejectReason is returned by a ConnectionAcceptor to refuse an
// incoming connection before any handshake work is spent on it.
type ConnectionRejectReason int

const (
	RejectTooManyConnections ConnectionRejectReason = iota
	RejectAuthenticationFailed
	RejectCustom
)

func (r ConnectionRejectReason) Error() string {
	switch r {
	case RejectTooManyConnections:
		return "too many connections"
	case RejectAuthenticationFailed:
		return "authentication failed"
	default:
		return "rejected"
	}
}

// ConnectionEvent is delivered from a connection receiver: either a decoded
// message or a refreshed stats sample.
type ConnectionEvent struct {
	Msg   *TransportMsg
	Stats *ConnectionStats
}

// ConnectionSender is the write half of an established connection, handed
// to behaviors and handlers so they never touch the underlying net.Conn.
type ConnectionSender interface {
	RemoteNodeId() NodeId
	ConnId() ConnId
	RemoteAddr() string
	Send(msg TransportMsg) error
	Close(reason error)
}

// ConnectionReceiver is the read half of an established connection. Poll
// blocks until the next event or ctx cancellation.
type ConnectionReceiver interface {
	Poll(ctx context.Context) (ConnectionEvent, error)
}

// ConnectionAcceptor lets a behavior accept or reject a pending incoming
// connection asynchronously, without blocking the transport's accept loop.
type ConnectionAcceptor interface {
	Accept()
	Reject(reason error)
}

// AsyncConnectionAcceptor is the channel-backed ConnectionAcceptor used by
// the plane internals: Wait blocks until Accept/Reject is called.
type AsyncConnectionAcceptor struct {
	resultCh chan error
}

func NewAsyncConnectionAcceptor() *AsyncConnectionAcceptor {
	return &AsyncConnectionAcceptor{resultCh: make(chan error, 1)}
}

func (a *AsyncConnectionAcceptor) Accept() { a.resultCh <- nil }

func (a *AsyncConnectionAcceptor) Reject(reason error) {
	if reason == nil {
		reason = ErrBehaviorRejected
	}
	a.resultCh <- reason
}

// Wait blocks until Accept or Reject is called, returning the reject error
// (nil on accept) or ctx.Err() if ctx is cancelled first.
func (a *AsyncConnectionAcceptor) Wait(ctx context.Context) error {
	select {
	case err := <-a.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TransportEvent is emitted by a Transport's Recv loop.
type TransportEvent struct {
	// Which fields are populated depends on Kind, as noted per field.
	Kind TransportEventKind

	OutgoingConnId   ConnId // Outgoing / OutgoingError
	RemoteAddr       string // IncomingRequest / OutgoingRequest / OutgoingError
	RemoteNode       NodeId // IncomingRequest / Incoming / Outgoing
	Acceptor         ConnectionAcceptor // IncomingRequest
	Sender           ConnectionSender   // Incoming / Outgoing; Sender.ConnId() identifies an Incoming connection
	Receiver         ConnectionReceiver // Incoming / Outgoing
	OutgoingErr      error              // OutgoingError
}

type TransportEventKind int

const (
	EventIncomingRequest TransportEventKind = iota
	EventOutgoingRequest
	EventIncoming
	EventOutgoing
	EventOutgoingError
)

func (k TransportEventKind) String() string {
	switch k {
	case EventIncomingRequest:
		return "incoming_request"
	case EventOutgoingRequest:
		return "outgoing_request"
	case EventIncoming:
		return "incoming"
	case EventOutgoing:
		return "outgoing"
	case EventOutgoingError:
		return "outgoing_error"
	default:
		return "unknown"
	}
}

// TransportConnector is the half of a Transport behaviors use to originate
// outgoing connections. A pending outgoing connection is created
// synchronously; its resolution (Outgoing or OutgoingError) arrives later
// through the Transport's own Recv loop.
type TransportConnector interface {
	CreatePendingOutgoing(addr NodeAddr) (ConnId, error)
	ContinuePendingOutgoing(id ConnId) error
	DestroyPendingOutgoing(id ConnId)
}

// Transport is the pluggable network layer the plane drives. Each concrete
// transport (udpnoise, vnet, ...) owns its own accept/dial machinery and
// surfaces everything else through Recv.
type Transport interface {
	Connector() TransportConnector
	Recv(ctx context.Context) (TransportEvent, error)
}

var (
	ErrTransportClosed = errors.New("meshplane: transport closed")
	ErrUnknownConnId    = errors.New("meshplane: unknown connection id")
)

// TransportConnectingOutgoing is a lightweight handle a transport may use to
// track a dial in flight before it resolves.
type TransportConnectingOutgoing struct {
	ConnId ConnId
}

func (t TransportConnectingOutgoing) String() string {
	return fmt.Sprintf("connecting_outgoing(%s)", t.ConnId)
}

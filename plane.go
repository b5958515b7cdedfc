package meshplane

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NetworkPlaneError is returned by NetworkPlane methods for conditions the
// caller can reasonably branch on.
type NetworkPlaneError struct {
	msg string
}

func (e *NetworkPlaneError) Error() string { return e.msg }

var (
	ErrAlreadyStarted = &NetworkPlaneError{"plane already started"}
	ErrNotStarted     = &NetworkPlaneError{"plane not started"}
)

// behaviorRegistration pairs a behavior with the optional handler factory
// it wants spawned per connection.
type behaviorRegistration struct {
	behavior       NetworkBehavior
	handlerFactory func() ConnectionHandler
}

// NetworkPlane is the single-node multiplexor: it owns one Transport, one
// RouterTable, and a set of registered behaviors, and drives all three
// through one event loop.
type NetworkPlane struct {
	nodeId   NodeId
	router   RouterTable
	tickDur  time.Duration
	transport Transport
	behaviors []behaviorRegistration
	metrics  Metrics
	log      *logrus.Entry

	internal   *planeInternal
	internalCh chan NetworkPlaneInternalEvent

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	drivers   map[ConnId]*singleConnDriver
	driversMu sync.Mutex

	// pendingOutgoing tracks the address a queued ActionConnectTo dialed,
	// keyed by the ConnId the connector handed back, so an OutgoingError
	// can be attributed to a node.
	pendingOutgoing map[ConnId]NodeAddr
}

// NetworkPlaneConfig collects everything needed to build a NetworkPlane.
// Construct with NewNetworkPlaneConfig and Option values, or populate
// fields directly.
type NetworkPlaneConfig struct {
	NodeId    NodeId
	Router    RouterTable
	Transport Transport
	TickMs    int
	Behaviors []NetworkBehavior
	// HandlerFactories maps a behavior's ServiceId to a constructor for the
	// per-connection handler it wants attached. Optional per behavior.
	HandlerFactories map[uint8]func() ConnectionHandler
	Metrics          Metrics
	Logger           *logrus.Logger
}

// NewNetworkPlane validates cfg and constructs a NetworkPlane ready for
// Started/Recv/Stopped.
func NewNetworkPlane(cfg NetworkPlaneConfig) (*NetworkPlane, error) {
	if cfg.Transport == nil {
		return nil, errors.New("meshplane: NetworkPlaneConfig.Transport is required")
	}
	if cfg.Router == nil {
		cfg.Router = ForceLocalRouter{}
	}
	if cfg.TickMs <= 0 {
		cfg.TickMs = 500
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewDefaultMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger()
	}

	internal := newPlaneInternal(cfg.NodeId, cfg.Router)
	p := &NetworkPlane{
		nodeId:          cfg.NodeId,
		router:          cfg.Router,
		tickDur:         time.Duration(cfg.TickMs) * time.Millisecond,
		transport:       cfg.Transport,
		metrics:         cfg.Metrics,
		log:             logger.WithField("component", "plane"),
		internal:        internal,
		internalCh:      make(chan NetworkPlaneInternalEvent, 256),
		drivers:         make(map[ConnId]*singleConnDriver),
		pendingOutgoing: make(map[ConnId]NodeAddr),
	}

	for _, b := range cfg.Behaviors {
		factory := cfg.HandlerFactories[b.ServiceId()]
		p.behaviors = append(p.behaviors, behaviorRegistration{behavior: b, handlerFactory: factory})
	}
	return p, nil
}

// Started registers every configured behavior and calls their OnStarted
// hooks. Must be called exactly once before Recv.
func (p *NetworkPlane) Started() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	for _, reg := range p.behaviors {
		p.internal.registerBehavior(reg.behavior, p.transport.Connector(), p.internalCh)
	}
	p.internal.started()
	return nil
}

// Recv drives one iteration of the plane's event loop: it blocks until the
// next tick, transport event, or internal event, dispatches it, and
// returns. The caller is expected to call Recv in a loop until it returns
// false or an error.
func (p *NetworkPlane) Recv(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return false, ErrNotStarted
	}
	p.mu.Unlock()

	ticker := time.NewTicker(p.tickDur)
	defer ticker.Stop()

	transportCh := make(chan TransportEvent, 1)
	transportErrCh := make(chan error, 1)
	go func() {
		ev, err := p.transport.Recv(ctx)
		if err != nil {
			transportErrCh <- err
			return
		}
		transportCh <- ev
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-ticker.C:
		p.internal.onTick(ctx, time.Now().UnixMilli())
		p.popActions(ctx)
		return true, nil
	case ev := <-transportCh:
		p.onTransportEvent(ctx, ev)
		p.popActions(ctx)
		return true, nil
	case err := <-transportErrCh:
		if errors.Is(err, context.Canceled) {
			return false, nil
		}
		return false, err
	case ev := <-p.internalCh:
		p.onInternalEvent(ev)
		p.popActions(ctx)
		return true, nil
	}
}

// Stopped tears down every registered behavior and closes all connection
// drivers. Safe to call once, after the caller stops calling Recv.
func (p *NetworkPlane) Stopped() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.driversMu.Lock()
	for _, d := range p.drivers {
		d.closeAll()
	}
	p.driversMu.Unlock()

	p.internal.stopped()
}

func (p *NetworkPlane) onTransportEvent(ctx context.Context, ev TransportEvent) {
	switch ev.Kind {
	case EventIncomingRequest:
		if err := p.internal.checkIncomingConnection(ev.RemoteNode); err != nil {
			ev.Acceptor.Reject(err)
			return
		}
		ev.Acceptor.Accept()
	case EventOutgoingRequest:
		p.internal.onOutgoingConnectionRequest(ev.RemoteNode, ev.OutgoingConnId)
	case EventIncoming:
		p.spawnConnection(ctx, ev.Sender.ConnId(), ConnIncoming, ev.RemoteNode, ev.Sender, ev.Receiver)
	case EventOutgoing:
		delete(p.pendingOutgoing, ev.OutgoingConnId)
		p.spawnConnection(ctx, ev.OutgoingConnId, ConnOutgoing, ev.RemoteNode, ev.Sender, ev.Receiver)
	case EventOutgoingError:
		node := p.pendingOutgoing[ev.OutgoingConnId].NodeId
		delete(p.pendingOutgoing, ev.OutgoingConnId)
		p.internal.onOutgoingConnectionError(node, ev.OutgoingConnId, ev.OutgoingErr)
		if p.log != nil {
			p.log.WithError(ev.OutgoingErr).WithField("conn", ev.OutgoingConnId).Warn("outgoing connection failed")
		}
	}
}

func (p *NetworkPlane) spawnConnection(ctx context.Context, conn ConnId, dir ConnDirection, remoteNode NodeId, sender ConnectionSender, receiver ConnectionReceiver) {
	driver := newSingleConnDriver(conn, dir, p.nodeId, remoteNode, receiver, sender, p.internalCh, p.log)

	for _, reg := range p.behaviors {
		serviceId := reg.behavior.ServiceId()
		if reg.handlerFactory != nil {
			driver.attachHandler(serviceId, reg.handlerFactory())
		}
		if dir == ConnIncoming {
			p.internal.onIncomingConnected(serviceId, conn, remoteNode)
		} else {
			p.internal.onOutgoingConnected(serviceId, conn, remoteNode)
		}
	}

	p.driversMu.Lock()
	p.drivers[conn] = driver
	p.driversMu.Unlock()

	if !p.internal.Bus().AddConn(conn, remoteNode, sender, driver.busIngress) {
		if p.log != nil {
			p.log.WithField("conn", conn).Warn("duplicate ConnId registered with the bus, dropping new connection")
		}
		sender.Close(errors.New("meshplane: duplicate ConnId"))
	}

	go driver.run(ctx)
}

func (p *NetworkPlane) onInternalEvent(ev NetworkPlaneInternalEvent) {
	switch ev.kind {
	case internalAwakeBehaviour:
		p.internal.onAwake(ev.serviceId)
	case internalToBehaviourFromHandler:
		p.internal.onHandlerEvent(ev.serviceId, ev.conn, ev.node, ev.event)
	case internalToBehaviourLocalMsg:
		p.internal.onTransportMsg(ev.conn, ev.node, ev.msg)
	case internalIncomingDisconnected, internalOutgoingDisconnected:
		p.driversMu.Lock()
		delete(p.drivers, ev.conn)
		p.driversMu.Unlock()
		p.internal.onConnectionDisconnected(ev.conn)
	}
}

// popActions drains every action planeInternal has queued and executes it:
// dialing new connections, forwarding messages to the wire or a specific
// connection/node, forwarding events to handlers, or closing connections.
func (p *NetworkPlane) popActions(ctx context.Context) {
	for {
		action, ok := p.internal.popAction()
		if !ok {
			return
		}
		p.execAction(ctx, action)
	}
}

func (p *NetworkPlane) execAction(ctx context.Context, action planeInternalAction) {
	switch action.kind {
	case internalActionBehavior:
		p.execBehaviorAction(action.serviceId, action.behavior)
	case internalActionSpawnConnection:
		// handled directly by spawnConnection from onTransportEvent; kept
		// as a tag for symmetry with the internal action vocabulary.
	case internalActionContinuePendingOutgoing:
		_ = p.transport.Connector().ContinuePendingOutgoing(action.conn)
	case internalActionDropPendingOutgoing:
		p.transport.Connector().DestroyPendingOutgoing(action.conn)
		delete(p.pendingOutgoing, action.conn)
	}
}

func (p *NetworkPlane) execBehaviorAction(serviceId uint8, action BehaviorAction) {
	switch action.Kind {
	case ActionConnectTo:
		conn, err := p.transport.Connector().CreatePendingOutgoing(action.ConnectAddr)
		if err != nil {
			if p.log != nil {
				p.log.WithError(err).Warn("connect_to failed")
			}
			return
		}
		p.pendingOutgoing[conn] = action.ConnectAddr
	case ActionToNet:
		p.sendByRoute(action.Msg)
	case ActionToNetConn:
		p.sendToConn(action.Conn, action.Msg)
	case ActionToNetNode:
		p.sendToNode(action.Node, action.Msg)
	case ActionToHandler:
		p.internal.Bus().SendToHandler(action.HandlerConn, CrossHandlerEvent{
			Kind:      EventFromBehavior,
			ServiceId: serviceId,
			Payload:   action.HandlerEvent,
		})
	case ActionCloseConn:
		p.internal.Bus().Close(action.Conn, nil)
	case ActionCloseNode:
		p.internal.Bus().CloseNode(action.Node, nil)
	}
}

func (p *NetworkPlane) sendByRoute(msg TransportMsg) {
	action := p.router.PathTo(msg.Header.Route, msg.Header.ServiceId)
	switch action.Kind {
	case RouteLocal:
		p.internal.onTransportMsg(0, p.nodeId, msg)
	case RouteNext:
		p.sendToConn(action.Conn, msg)
	}
}

func (p *NetworkPlane) sendToConn(conn ConnId, msg TransportMsg) {
	sender, ok := p.internal.Bus().Sender(conn)
	if !ok {
		return
	}
	if err := sender.Send(msg); err != nil && p.log != nil {
		p.log.WithError(err).WithField("conn", conn).Warn("send failed")
	}
}

func (p *NetworkPlane) sendToNode(node NodeId, msg TransportMsg) {
	sender, ok := p.internal.Bus().SenderForNode(node)
	if !ok {
		return
	}
	if err := sender.Send(msg); err != nil && p.log != nil {
		p.log.WithError(err).WithField("node", node).Warn("send failed")
	}
}

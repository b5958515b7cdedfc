package meshplane

import (
	"context"
	"time"
)

// internalEventKind tags a NetworkPlaneInternalEvent.
type internalEventKind int

const (
	internalAwakeBehaviour internalEventKind = iota
	internalToBehaviourFromHandler
	internalToBehaviourLocalMsg
	internalIncomingDisconnected
	internalOutgoingDisconnected
)

// NetworkPlaneInternalEvent is the internal channel's payload: everything a
// running connection driver or a behavior's Awaker needs to tell the plane
// loop, multiplexed onto one channel alongside transport events and ticks.
type NetworkPlaneInternalEvent struct {
	kind internalEventKind

	serviceId uint8
	conn      ConnId
	node      NodeId
	msg       TransportMsg
	event     any
}

func awakeBehaviourEvent(serviceId uint8) NetworkPlaneInternalEvent {
	return NetworkPlaneInternalEvent{kind: internalAwakeBehaviour, serviceId: serviceId}
}

func toBehaviourFromHandlerEvent(serviceId uint8, conn ConnId, node NodeId, event any) NetworkPlaneInternalEvent {
	return NetworkPlaneInternalEvent{kind: internalToBehaviourFromHandler, serviceId: serviceId, conn: conn, node: node, event: event}
}

func toBehaviourLocalMsgEvent(serviceId uint8, msg TransportMsg) NetworkPlaneInternalEvent {
	return NetworkPlaneInternalEvent{kind: internalToBehaviourLocalMsg, serviceId: serviceId, msg: msg}
}

func incomingDisconnectedEvent(serviceId uint8, conn ConnId, node NodeId) NetworkPlaneInternalEvent {
	return NetworkPlaneInternalEvent{kind: internalIncomingDisconnected, serviceId: serviceId, conn: conn, node: node}
}

func outgoingDisconnectedEvent(serviceId uint8, conn ConnId, node NodeId) NetworkPlaneInternalEvent {
	return NetworkPlaneInternalEvent{kind: internalOutgoingDisconnected, serviceId: serviceId, conn: conn, node: node}
}

// planeInternalActionKind tags a planeInternalAction.
type planeInternalActionKind int

const (
	internalActionSpawnConnection planeInternalActionKind = iota
	internalActionContinuePendingOutgoing
	internalActionDropPendingOutgoing
	internalActionBehavior
)

// planeInternalAction is what planeInternal hands back to the outer
// NetworkPlane loop to actually execute: spawning goroutines, resolving
// pending dials, or writing to the wire are all owned by plane.go, not by
// this state machine.
type planeInternalAction struct {
	kind planeInternalActionKind

	conn       ConnId
	node       NodeId
	sender     ConnectionSender
	receiver   ConnectionReceiver
	direction  ConnDirection
	serviceId  uint8

	behavior BehaviorAction
}

// planeInternal is the behavior-and-handler bookkeeping core of the plane:
// it owns the registered behaviors, the plane-wide bus, and dispatches
// transport/internal events and ticks into behavior callbacks, collecting
// whatever actions come back out.
type planeInternal struct {
	localNodeId NodeId
	router      RouterTable

	behaviors map[uint8]NetworkBehavior
	agents    map[uint8]*BehaviorAgent
	awakers   map[uint8]*planeAwaker
	// bus is the one CrossHandlerGate shared by every behavior: a single
	// by_conn/by_node index over every live connection, exactly as spec
	// §4.3 describes it (service_id travels on the event, not on the bus).
	bus *PlaneBus

	// conn bookkeeping: which services have an open handler on a conn, and
	// the node each conn is associated with.
	connServices map[ConnId][]uint8
	connNode     map[ConnId]NodeId

	pending []planeInternalAction
}

func newPlaneInternal(localNodeId NodeId, router RouterTable) *planeInternal {
	return &planeInternal{
		localNodeId:      localNodeId,
		router:           router,
		behaviors:        make(map[uint8]NetworkBehavior),
		agents:           make(map[uint8]*BehaviorAgent),
		awakers:          make(map[uint8]*planeAwaker),
		bus:              NewPlaneBus(),
		connServices:     make(map[ConnId][]uint8),
		connNode:         make(map[ConnId]NodeId),
	}
}

func (p *planeInternal) registerBehavior(b NetworkBehavior, connector TransportConnector, internalCh chan<- NetworkPlaneInternalEvent) {
	serviceId := b.ServiceId()
	p.router.RegisterService(serviceId)
	awaker := newPlaneAwaker(serviceId, internalCh)
	agent := newBehaviorAgent(serviceId, p.localNodeId, connector, p.bus, awaker)
	p.behaviors[serviceId] = b
	p.agents[serviceId] = agent
	p.awakers[serviceId] = awaker
	b.OnStarted(agent)
}

func (p *planeInternal) started() {}

func (p *planeInternal) stopped() {
	for _, serviceId := range p.sortedServiceIds() {
		p.behaviors[serviceId].OnStopped(p.agents[serviceId])
	}
}

func (p *planeInternal) sortedServiceIds() []uint8 {
	ids := make([]uint8, 0, len(p.behaviors))
	for id := range p.behaviors {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

func (p *planeInternal) onTick(ctx context.Context, now int64) {
	for _, serviceId := range p.sortedServiceIds() {
		p.behaviors[serviceId].OnTick(ctx, p.agents[serviceId], now)
		p.drainBehaviorActions(serviceId)
	}
}

// onTransportMsg routes an inbound TransportMsg according to the router,
// dispatching to OnLocalMsg when it resolves Local for this node.
func (p *planeInternal) onTransportMsg(conn ConnId, node NodeId, msg TransportMsg) {
	serviceId := msg.Header.ServiceId
	behavior, ok := p.behaviors[serviceId]
	if !ok {
		return
	}
	action := p.router.PathTo(msg.Header.Route, serviceId)
	switch action.Kind {
	case RouteLocal:
		behavior.OnLocalMsg(p.agents[serviceId], msg)
		p.drainBehaviorActions(serviceId)
	case RouteNext:
		p.pending = append(p.pending, planeInternalAction{
			kind: internalActionBehavior,
			behavior: ToNetConnAction(action.Conn, msg),
		})
	case RouteReject:
		// silently dropped; matches the original's reject semantics
	}
}

// checkIncomingConnection/checkOutgoingConnection invoke every registered
// behavior's check in ascending service-id order (sortedServiceIds), not in
// the order the behaviors were registered, returning the first rejection.
func (p *planeInternal) checkIncomingConnection(node NodeId) error {
	for _, serviceId := range p.sortedServiceIds() {
		if err := p.behaviors[serviceId].CheckIncomingConnection(node); err != nil {
			return err
		}
	}
	return nil
}

func (p *planeInternal) checkOutgoingConnection(node NodeId) error {
	for _, serviceId := range p.sortedServiceIds() {
		if err := p.behaviors[serviceId].CheckOutgoingConnection(node); err != nil {
			return err
		}
	}
	return nil
}

// onOutgoingConnectionRequest runs the outgoing-side check pass for a
// pending dial and queues the matching continue/drop action for the outer
// loop to execute against the transport connector.
func (p *planeInternal) onOutgoingConnectionRequest(node NodeId, conn ConnId) {
	if err := p.checkOutgoingConnection(node); err != nil {
		p.pending = append(p.pending, planeInternalAction{kind: internalActionDropPendingOutgoing, conn: conn})
		return
	}
	p.pending = append(p.pending, planeInternalAction{kind: internalActionContinuePendingOutgoing, conn: conn})
}

// onOutgoingConnectionError notifies every registered behavior that a dial
// never reached the wire. node is the best-effort address the plane could
// attribute to conn (zero if the dial was never tracked through the
// queued ActionConnectTo path).
func (p *planeInternal) onOutgoingConnectionError(node NodeId, conn ConnId, err error) {
	for _, serviceId := range p.sortedServiceIds() {
		p.behaviors[serviceId].OnOutgoingConnectionError(p.agents[serviceId], node, conn, err)
		p.drainBehaviorActions(serviceId)
	}
}

// onAwake dispatches a service's OnAwake once its Awaker.Notify has fired,
// draining whatever out-of-band work it queued.
func (p *planeInternal) onAwake(serviceId uint8) {
	behavior, ok := p.behaviors[serviceId]
	if !ok {
		return
	}
	if awaker, ok := p.awakers[serviceId]; ok {
		awaker.Consume()
	}
	behavior.OnAwake(p.agents[serviceId], time.Now().UnixMilli())
	p.drainBehaviorActions(serviceId)
}

func (p *planeInternal) onIncomingConnected(serviceId uint8, conn ConnId, node NodeId) {
	behavior, ok := p.behaviors[serviceId]
	if !ok {
		return
	}
	p.connNode[conn] = node
	p.connServices[conn] = append(p.connServices[conn], serviceId)
	behavior.OnIncomingConnected(p.agents[serviceId], conn, node)
	p.drainBehaviorActions(serviceId)
}

func (p *planeInternal) onOutgoingConnected(serviceId uint8, conn ConnId, node NodeId) {
	behavior, ok := p.behaviors[serviceId]
	if !ok {
		return
	}
	p.connNode[conn] = node
	p.connServices[conn] = append(p.connServices[conn], serviceId)
	behavior.OnOutgoingConnected(p.agents[serviceId], conn, node)
	p.drainBehaviorActions(serviceId)
}

func (p *planeInternal) onConnectionDisconnected(conn ConnId) {
	node := p.connNode[conn]
	services := p.connServices[conn]
	for _, serviceId := range services {
		behavior, ok := p.behaviors[serviceId]
		if !ok {
			continue
		}
		behavior.OnConnectionDisconnected(p.agents[serviceId], conn, node)
		p.drainBehaviorActions(serviceId)
	}
	p.bus.RemoveConn(conn)
	delete(p.connServices, conn)
	delete(p.connNode, conn)
}

func (p *planeInternal) onHandlerEvent(serviceId uint8, conn ConnId, node NodeId, event any) {
	behavior, ok := p.behaviors[serviceId]
	if !ok {
		return
	}
	behavior.OnHandlerEvent(p.agents[serviceId], conn, node, event)
	p.drainBehaviorActions(serviceId)
}

func (p *planeInternal) drainBehaviorActions(serviceId uint8) {
	behavior := p.behaviors[serviceId]
	for {
		action, ok := behavior.PopAction()
		if !ok {
			return
		}
		p.pending = append(p.pending, planeInternalAction{kind: internalActionBehavior, behavior: action, serviceId: serviceId})
	}
}

// popAction drains one queued planeInternalAction, if any, for the outer
// loop to execute.
func (p *planeInternal) popAction() (planeInternalAction, bool) {
	if len(p.pending) == 0 {
		return planeInternalAction{}, false
	}
	a := p.pending[0]
	p.pending = p.pending[1:]
	return a, true
}

// Bus returns the plane's single CrossHandlerGate, shared by every
// behavior and the outer NetworkPlane's net-dispatch paths.
func (p *planeInternal) Bus() *PlaneBus { return p.bus }

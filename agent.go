package meshplane

// BehaviorAgent is the API surface a NetworkBehavior uses to act on the
// plane directly: originate connections, reach its own handlers, and tear
// down connections or nodes. Sends to the network go through the
// behavior's queued BehaviorActions, not through the agent. It never
// exposes the transport or the bus directly.
type BehaviorAgent struct {
	serviceId   uint8
	localNodeId NodeId
	connector   TransportConnector
	bus         *PlaneBus
	awaker      Awaker
}

func newBehaviorAgent(serviceId uint8, localNodeId NodeId, connector TransportConnector, bus *PlaneBus, awaker Awaker) *BehaviorAgent {
	return &BehaviorAgent{serviceId: serviceId, localNodeId: localNodeId, connector: connector, bus: bus, awaker: awaker}
}

func (a *BehaviorAgent) ServiceId() uint8     { return a.serviceId }
func (a *BehaviorAgent) LocalNodeId() NodeId { return a.localNodeId }

// Awaker returns this behavior's dedicated Awaker: Notify schedules an
// OnAwake dispatch on the plane's event loop outside the tick cadence.
func (a *BehaviorAgent) Awaker() Awaker { return a.awaker }

// ConnectTo asks the transport layer to begin dialing addr. Resolution
// (success or failure) arrives later as a connection lifecycle callback.
func (a *BehaviorAgent) ConnectTo(addr NodeAddr) (ConnId, error) {
	return a.connector.CreatePendingOutgoing(addr)
}

// SendToHandler delivers an opaque event to the handler owning conn, for
// this behavior's service id.
func (a *BehaviorAgent) SendToHandler(conn ConnId, event any) bool {
	return a.bus.SendToHandler(conn, CrossHandlerEvent{Kind: EventFromBehavior, ServiceId: a.serviceId, Payload: event})
}

// CloseConn requests the bus close conn's underlying sender.
func (a *BehaviorAgent) CloseConn(conn ConnId) {
	a.bus.Close(conn, nil)
}

// CloseNode requests the bus close every sender registered for node.
func (a *BehaviorAgent) CloseNode(node NodeId) {
	a.bus.CloseNode(node, nil)
}

// ConnectionAgent is the API surface a ConnectionHandler uses: identity of
// the connection it's bound to, and the ability to talk back to its owning
// behavior or close itself.
type ConnectionAgent struct {
	serviceId    uint8
	localNodeId  NodeId
	remoteNodeId NodeId
	connId       ConnId
	sender       ConnectionSender
	toBehaviorCh chan<- CrossHandlerEvent
}

func newConnectionAgent(serviceId uint8, localNodeId, remoteNodeId NodeId, connId ConnId, sender ConnectionSender, toBehaviorCh chan<- CrossHandlerEvent) *ConnectionAgent {
	return &ConnectionAgent{
		serviceId:    serviceId,
		localNodeId:  localNodeId,
		remoteNodeId: remoteNodeId,
		connId:       connId,
		sender:       sender,
		toBehaviorCh: toBehaviorCh,
	}
}

func (a *ConnectionAgent) ServiceId() uint8      { return a.serviceId }
func (a *ConnectionAgent) ConnId() ConnId        { return a.connId }
func (a *ConnectionAgent) LocalNodeId() NodeId   { return a.localNodeId }
func (a *ConnectionAgent) RemoteNodeId() NodeId  { return a.remoteNodeId }

// SendNet writes a message directly to this connection's wire.
func (a *ConnectionAgent) SendNet(msg TransportMsg) error {
	return a.sender.Send(msg)
}

// SendToBehavior forwards an opaque event up to the owning behavior's
// OnHandlerEvent.
func (a *ConnectionAgent) SendToBehavior(event any) {
	a.toBehaviorCh <- CrossHandlerEvent{
		Kind:     EventFromHandler,
		Payload:  event,
		FromNode: a.remoteNodeId,
		FromConn: a.connId,
	}
}

// Close tears down the underlying connection.
func (a *ConnectionAgent) Close(reason error) {
	a.sender.Close(reason)
}

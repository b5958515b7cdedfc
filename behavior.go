package meshplane

import "context"

// BehaviorActionKind tags a single action a NetworkBehavior wants the plane
// to carry out on its behalf.
type BehaviorActionKind int

const (
	ActionConnectTo BehaviorActionKind = iota
	ActionToNet
	ActionToNetConn
	ActionToNetNode
	ActionToHandler
	ActionCloseConn
	ActionCloseNode
)

// BehaviorAction is the result of draining a NetworkBehavior's action
// queue. Exactly the fields relevant to Kind are populated.
type BehaviorAction struct {
	Kind BehaviorActionKind

	ConnectAddr NodeAddr // ActionConnectTo

	Msg   TransportMsg // ActionToNet / ActionToNetConn / ActionToNetNode
	Conn  ConnId        // ActionToNetConn / ActionCloseConn
	Node  NodeId        // ActionToNetNode / ActionCloseNode

	HandlerEvent any    // ActionToHandler: opaque event delivered to this service's handler on HandlerConn
	HandlerConn  ConnId // ActionToHandler: target connection
}

func ConnectToAction(addr NodeAddr) BehaviorAction {
	return BehaviorAction{Kind: ActionConnectTo, ConnectAddr: addr}
}

func ToNetAction(msg TransportMsg) BehaviorAction {
	return BehaviorAction{Kind: ActionToNet, Msg: msg}
}

func ToNetConnAction(conn ConnId, msg TransportMsg) BehaviorAction {
	return BehaviorAction{Kind: ActionToNetConn, Conn: conn, Msg: msg}
}

func ToNetNodeAction(node NodeId, msg TransportMsg) BehaviorAction {
	return BehaviorAction{Kind: ActionToNetNode, Node: node, Msg: msg}
}

func ToHandlerAction(conn ConnId, event any) BehaviorAction {
	return BehaviorAction{Kind: ActionToHandler, HandlerConn: conn, HandlerEvent: event}
}

func CloseConnAction(conn ConnId) BehaviorAction {
	return BehaviorAction{Kind: ActionCloseConn, Conn: conn}
}

func CloseNodeAction(node NodeId) BehaviorAction {
	return BehaviorAction{Kind: ActionCloseNode, Node: node}
}

// NetworkBehavior is the top-level pluggable unit of plane logic: routing
// sync, key-value replication, pub/sub, manual peering all implement this.
// A behavior never touches a net.Conn directly — it only sees the agent
// surface and its own queued actions.
type NetworkBehavior interface {
	// ServiceId identifies which messages are routed to this behavior.
	ServiceId() uint8

	// OnStarted is called once the plane has started, with the agent this
	// behavior should use for all outgoing action.
	OnStarted(agent *BehaviorAgent)

	// OnTick is called on every plane tick.
	OnTick(ctx context.Context, agent *BehaviorAgent, now int64)

	// OnLocalMsg handles a message the local node addressed to itself
	// (service id matched, route resolved Local).
	OnLocalMsg(agent *BehaviorAgent, msg TransportMsg)

	// CheckIncomingConnection/CheckOutgoingConnection let a behavior veto a
	// pending connection before any handshake work is spent on it. The
	// plane calls every registered behavior's check in ascending service-id
	// order, not in registration order, and rejects on the first non-nil
	// error.
	CheckIncomingConnection(node NodeId) error
	CheckOutgoingConnection(node NodeId) error

	// OnIncomingConnected/OnOutgoingConnected notify that a connection
	// carrying this behavior's traffic opened.
	OnIncomingConnected(agent *BehaviorAgent, conn ConnId, remoteNode NodeId)
	OnOutgoingConnected(agent *BehaviorAgent, conn ConnId, remoteNode NodeId)

	// OnConnectionDisconnected notifies a connection closed, regardless of
	// which side initiated it.
	OnConnectionDisconnected(agent *BehaviorAgent, conn ConnId, remoteNode NodeId)

	// OnOutgoingConnectionError notifies that a dial this node originated
	// never reached the wire. node is the best-effort destination the
	// plane can attribute to conn; behaviors that originate dials
	// themselves (via BehaviorAgent.ConnectTo) should track their own
	// conn-to-address bookkeeping for precise attribution.
	OnOutgoingConnectionError(agent *BehaviorAgent, node NodeId, conn ConnId, err error)

	// OnHandlerEvent receives an event a ConnectionHandler forwarded back
	// up via ConnectionAgent.SendToBehavior.
	OnHandlerEvent(agent *BehaviorAgent, conn ConnId, remoteNode NodeId, event any)

	// OnAwake drains whatever out-of-band work an Awaker.Notify flagged,
	// outside the normal on_tick cadence.
	OnAwake(agent *BehaviorAgent, now int64)

	// OnStopped is called once, as the plane shuts down.
	OnStopped(agent *BehaviorAgent)

	// PopAction drains one queued action, if any.
	PopAction() (BehaviorAction, bool)
}

// ConnectionHandler is the per-connection counterpart of NetworkBehavior.
// The plane spawns one handler instance per (behavior, connection) pair
// that the behavior opted into.
type ConnectionHandler interface {
	OnOpened(agent *ConnectionAgent)
	OnMsg(agent *ConnectionAgent, msg TransportMsg)
	// OnBehaviorEvent receives an event the owning behavior sent via a
	// queued ToHandlerAction or BehaviorAgent.SendToHandler.
	OnBehaviorEvent(agent *ConnectionAgent, event any)
	OnClosed(agent *ConnectionAgent)
}

package meshplane

import "sync"

// CrossHandlerRouteKind tags a CrossHandlerRoute.
type CrossHandlerRouteKind int

const (
	RouteNodeFirst CrossHandlerRouteKind = iota
	RouteConn
)

// CrossHandlerRoute addresses where a cross-handler event should land:
// either "any connection to this node" or a specific connection.
type CrossHandlerRoute struct {
	Kind CrossHandlerRouteKind
	Node NodeId
	Conn ConnId
}

func NodeFirstRoute(n NodeId) CrossHandlerRoute { return CrossHandlerRoute{Kind: RouteNodeFirst, Node: n} }
func ConnRoute(c ConnId) CrossHandlerRoute      { return CrossHandlerRoute{Kind: RouteConn, Conn: c} }

// CrossHandlerEventKind tags a CrossHandlerEvent.
type CrossHandlerEventKind int

const (
	EventFromBehavior CrossHandlerEventKind = iota
	EventFromHandler
)

// CrossHandlerEvent travels over the bus between a behavior and the
// handlers of its connections, or vice versa. ServiceId identifies which
// handler on the receiving connection should see an EventFromBehavior —
// a connection may host handlers for several services at once.
type CrossHandlerEvent struct {
	Kind      CrossHandlerEventKind
	ServiceId uint8

	Payload any

	// Populated for EventFromHandler.
	FromNode NodeId
	FromConn ConnId
}

type busEntry struct {
	ch     chan CrossHandlerEvent
	sender ConnectionSender
	node   NodeId
}

// PlaneBus (internally "CrossHandlerGate") is the routing fabric between
// behaviors and the population of per-connection handlers and senders the
// plane currently has live. It keeps two indices over the same set of live
// connections — by connection id and by node id — so a behavior can address
// either "this exact connection" or "any connection to this node" without
// scanning, and so send_to_net can resolve a ConnId straight to the sender
// that owns the wire.
type PlaneBus struct {
	mu     sync.RWMutex
	byConn map[ConnId]busEntry
	byNode map[NodeId]map[ConnId]struct{}
}

func NewPlaneBus() *PlaneBus {
	return &PlaneBus{
		byConn: make(map[ConnId]busEntry),
		byNode: make(map[NodeId]map[ConnId]struct{}),
	}
}

// AddConn registers a live connection's ingress queue and sender. It
// reports false without allocating anything if conn is already registered
// — per spec, a duplicate ConnId is a bug in the caller, not a reason to
// silently clobber the existing entry.
func (b *PlaneBus) AddConn(conn ConnId, node NodeId, sender ConnectionSender, ch chan CrossHandlerEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.byConn[conn]; exists {
		return false
	}
	b.byConn[conn] = busEntry{ch: ch, sender: sender, node: node}
	set, ok := b.byNode[node]
	if !ok {
		set = make(map[ConnId]struct{})
		b.byNode[node] = set
	}
	set[conn] = struct{}{}
	return true
}

// RemoveConn deregisters a connection without touching its channel or
// sender; the connection's driver task owns both lifetimes and calls this
// once it has actually exited. Reports whether conn was present.
func (b *PlaneBus) RemoveConn(conn ConnId) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.byConn[conn]
	if !ok {
		return false
	}
	delete(b.byConn, conn)
	if set, ok := b.byNode[entry.node]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(b.byNode, entry.node)
		}
	}
	return true
}

// SendToHandler delivers an event to a specific connection's handler
// ingress queue. It reports false if the connection is not registered.
func (b *PlaneBus) SendToHandler(conn ConnId, event CrossHandlerEvent) bool {
	b.mu.RLock()
	entry, ok := b.byConn[conn]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	entry.ch <- event
	return true
}

// SendToNode delivers an event to one live connection of a node: the one
// with the lowest ConnId, so the choice stays the same while the node's
// set of connections is unchanged. Reports false if no connection is
// registered for that node.
func (b *PlaneBus) SendToNode(node NodeId, event CrossHandlerEvent) bool {
	b.mu.RLock()
	set, ok := b.byNode[node]
	var target ConnId
	found := false
	for conn := range set {
		if !found || conn < target {
			target = conn
			found = true
		}
	}
	var ch chan CrossHandlerEvent
	if found {
		ch = b.byConn[target].ch
	}
	b.mu.RUnlock()
	if !ok || !found {
		return false
	}
	ch <- event
	return true
}

// Route dispatches according to a CrossHandlerRoute's kind.
func (b *PlaneBus) Route(route CrossHandlerRoute, event CrossHandlerEvent) bool {
	switch route.Kind {
	case RouteConn:
		return b.SendToHandler(route.Conn, event)
	case RouteNodeFirst:
		return b.SendToNode(route.Node, event)
	default:
		return false
	}
}

// Sender resolves conn to its registered ConnectionSender, for send_to_net
// dispatch against a router's RouteNext verdict.
func (b *PlaneBus) Sender(conn ConnId) (ConnectionSender, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.byConn[conn]
	if !ok {
		return nil, false
	}
	return entry.sender, true
}

// SenderForNode resolves the sender of the connection SendToNode would
// pick for a node: the one with the lowest ConnId.
func (b *PlaneBus) SenderForNode(node NodeId) (ConnectionSender, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.byNode[node]
	if !ok {
		return nil, false
	}
	var target ConnId
	found := false
	for conn := range set {
		if !found || conn < target {
			target = conn
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return b.byConn[target].sender, true
}

// Close calls Close on the ConnectionSender registered for conn, if any.
// The entry stays indexed until the connection's driver task actually
// exits and RemoveConn runs — close is a request, not an immediate
// teardown. Reports whether conn was registered.
func (b *PlaneBus) Close(conn ConnId, reason error) bool {
	b.mu.RLock()
	entry, ok := b.byConn[conn]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	entry.sender.Close(reason)
	return true
}

// CloseNode calls Close on every ConnectionSender registered for node,
// returning how many were found.
func (b *PlaneBus) CloseNode(node NodeId, reason error) int {
	b.mu.RLock()
	set, ok := b.byNode[node]
	senders := make([]ConnectionSender, 0, len(set))
	for conn := range set {
		senders = append(senders, b.byConn[conn].sender)
	}
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	for _, s := range senders {
		s.Close(reason)
	}
	return len(senders)
}

// Size reports the number of registered connections.
func (b *PlaneBus) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byConn)
}

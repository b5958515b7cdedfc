// Package spread implements a direct-neighbor routing table: each node
// tracks its immediate connections and the metrics advertised over them,
// and forwards toward whichever neighbor reports the best metric for a
// destination. There is no multi-hop path computation; "spread" comes
// from periodically syncing each node's local table to its neighbors so
// reachability knowledge propagates hop by hop.
package spread

import (
	"sort"
	"sync"

	"github.com/atsika/meshplane"
)

// Metric is the cost SharedRouter compares when multiple neighbors claim a
// path to the same destination. Lower is better.
type Metric struct {
	Hops    uint8
	Latency uint32
}

// Less reports whether m is a strictly better metric than other.
func (m Metric) Less(other Metric) bool {
	if m.Hops != other.Hops {
		return m.Hops < other.Hops
	}
	return m.Latency < other.Latency
}

// Bump increments hop count, used when re-advertising a learned route to
// further neighbors.
func (m Metric) Bump() Metric { return Metric{Hops: m.Hops + 1, Latency: m.Latency} }

type directEntry struct {
	node   meshplane.NodeId
	metric Metric
}

type nodeRoute struct {
	conn   meshplane.ConnId
	node   meshplane.NodeId
	metric Metric
}

// RouterSync is the periodic gossip payload: every destination this node
// currently knows a route to, and at what metric, so the receiving peer can
// fold it into its own table with one extra hop added.
type RouterSync struct {
	Routes map[meshplane.NodeId]Metric
}

// SharedRouter is a concurrency-safe meshplane.RouterTable implementation:
// direct neighbor connections, learned indirect routes (via sync), and a
// service registry (which services this node locally hosts).
type SharedRouter struct {
	nodeId meshplane.NodeId

	mu       sync.RWMutex
	direct   map[meshplane.ConnId]directEntry
	indirect map[meshplane.NodeId]nodeRoute
	services map[uint8]struct{}
}

func NewSharedRouter(nodeId meshplane.NodeId) *SharedRouter {
	return &SharedRouter{
		nodeId:   nodeId,
		direct:   make(map[meshplane.ConnId]directEntry),
		indirect: make(map[meshplane.NodeId]nodeRoute),
		services: make(map[uint8]struct{}),
	}
}

func (r *SharedRouter) NodeId() meshplane.NodeId { return r.nodeId }

// Size reports the number of distinct destinations (direct plus learned)
// this node currently knows a route to.
func (r *SharedRouter) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[meshplane.NodeId]struct{}, len(r.direct)+len(r.indirect))
	for _, e := range r.direct {
		seen[e.node] = struct{}{}
	}
	for n := range r.indirect {
		seen[n] = struct{}{}
	}
	return len(seen)
}

// SetDirect records/updates a direct neighbor's advertised metric over a
// specific connection.
func (r *SharedRouter) SetDirect(over meshplane.ConnId, overNode meshplane.NodeId, metric Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[over] = directEntry{node: overNode, metric: metric}
}

// DelDirect removes a direct neighbor entry, typically on disconnect.
func (r *SharedRouter) DelDirect(over meshplane.ConnId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.direct, over)
}

// RegisterService marks a service id as locally hosted.
func (r *SharedRouter) RegisterService(serviceId uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[serviceId] = struct{}{}
}

func (r *SharedRouter) hostsService(serviceId uint8) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[serviceId]
	return ok
}

// Next resolves the best known next hop toward dest, direct neighbors
// preferred over learned routes at equal metric.
func (r *SharedRouter) Next(dest meshplane.NodeId) (meshplane.ConnId, meshplane.NodeId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bestConn meshplane.ConnId
	var bestNode meshplane.NodeId
	var best Metric
	found := false
	for conn, e := range r.direct {
		if e.node != dest {
			continue
		}
		if !found || e.metric.Less(best) {
			bestConn, bestNode, best, found = conn, e.node, e.metric, true
		}
	}
	if found {
		return bestConn, bestNode, true
	}
	if route, ok := r.indirect[dest]; ok {
		return route.conn, route.node, true
	}
	return 0, 0, false
}

// ClosestNode resolves the direct neighbor closest to key by XOR distance,
// used for key-space addressed routing (RouteToKey). Ties favor the
// lowest node id for determinism.
func (r *SharedRouter) ClosestNode(key meshplane.NodeId) (meshplane.ConnId, meshplane.NodeId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		conn meshplane.ConnId
		node meshplane.NodeId
		dist uint32
	}
	var candidates []candidate
	for conn, e := range r.direct {
		candidates = append(candidates, candidate{conn: conn, node: e.node, dist: distance(e.node, key)})
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].node < candidates[j].node
	})
	best := candidates[0]
	if best.dist >= distance(r.nodeId, key) {
		return 0, 0, false
	}
	return best.conn, best.node, true
}

func distance(a, b meshplane.NodeId) uint32 {
	d := uint32(a) ^ uint32(b)
	return d
}

// CreateSync snapshots this node's table as a RouterSync to advertise to
// forNode (forNode's own routes, if learned through it, are omitted to
// avoid trivial loops).
func (r *SharedRouter) CreateSync(forNode meshplane.NodeId) RouterSync {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make(map[meshplane.NodeId]Metric)
	for _, e := range r.direct {
		if e.node == forNode {
			continue
		}
		routes[e.node] = e.metric
	}
	for node, route := range r.indirect {
		if node == forNode || route.node == forNode {
			continue
		}
		if existing, ok := routes[node]; !ok || route.metric.Less(existing) {
			routes[node] = route.metric
		}
	}
	return RouterSync{Routes: routes}
}

// ApplySync folds a neighbor's advertised table into our indirect routes,
// adding the link metric srcMetric (one hop for a direct link) to every
// entry and keeping only the better of old/new.
func (r *SharedRouter) ApplySync(conn meshplane.ConnId, src meshplane.NodeId, srcMetric Metric, sync RouterSync) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dest, metric := range sync.Routes {
		if dest == r.nodeId {
			continue
		}
		bumped := Metric{Hops: metric.Hops + srcMetric.Hops, Latency: metric.Latency + srcMetric.Latency}
		if existing, ok := r.indirect[dest]; !ok || bumped.Less(existing.metric) {
			r.indirect[dest] = nodeRoute{conn: conn, node: src, metric: bumped}
		}
	}
}

// PathTo implements meshplane.RouterTable.
func (r *SharedRouter) PathTo(rule meshplane.RouteRule, serviceId uint8) meshplane.RouteAction {
	switch rule.Kind {
	case meshplane.RouteDirect:
		return meshplane.LocalAction()
	case meshplane.RouteToNode:
		if rule.NodeTarget == r.nodeId {
			return meshplane.LocalAction()
		}
		if conn, node, ok := r.Next(rule.NodeTarget); ok {
			return meshplane.NextAction(conn, node)
		}
		return meshplane.RejectAction()
	case meshplane.RouteToKey:
		if conn, node, ok := r.ClosestNode(rule.KeyTarget); ok {
			return meshplane.NextAction(conn, node)
		}
		return meshplane.LocalAction()
	case meshplane.RouteToService:
		if r.hostsService(rule.ServiceTarget) {
			return meshplane.LocalAction()
		}
		_ = serviceId
		return meshplane.RejectAction()
	default:
		return meshplane.RejectAction()
	}
}

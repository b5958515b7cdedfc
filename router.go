package meshplane

import "fmt"

// RouteRuleKind tags which addressing mode a RouteRule uses.
type RouteRuleKind uint8

const (
	RouteDirect RouteRuleKind = iota
	RouteToNode
	RouteToKey
	RouteToService
)

// RouteRule is the addressing mode carried in a MsgHeader. Exactly one of
// NodeTarget/KeyTarget/ServiceTarget is meaningful, selected by Kind.
type RouteRule struct {
	Kind          RouteRuleKind
	NodeTarget    NodeId
	KeyTarget     NodeId
	ServiceTarget uint8
}

func Direct() RouteRule { return RouteRule{Kind: RouteDirect} }
func ToNode(n NodeId) RouteRule {
	return RouteRule{Kind: RouteToNode, NodeTarget: n}
}
func ToKey(k NodeId) RouteRule { return RouteRule{Kind: RouteToKey, KeyTarget: k} }
func ToService(id uint8) RouteRule {
	return RouteRule{Kind: RouteToService, ServiceTarget: id}
}

func (r RouteRule) String() string {
	switch r.Kind {
	case RouteDirect:
		return "direct"
	case RouteToNode:
		return fmt.Sprintf("to_node(%s)", r.NodeTarget)
	case RouteToKey:
		return fmt.Sprintf("to_key(%s)", r.KeyTarget)
	case RouteToService:
		return fmt.Sprintf("to_service(%d)", r.ServiceTarget)
	default:
		return "unknown_route"
	}
}

// RouteActionKind tags a RouterTable verdict.
type RouteActionKind uint8

const (
	RouteLocal RouteActionKind = iota
	RouteNext
	RouteReject
)

// RouteAction is the router's answer to PathTo: handle it locally, forward
// it over a specific connection, or reject it.
type RouteAction struct {
	Kind RouteActionKind
	Conn ConnId
	Node NodeId
}

func LocalAction() RouteAction                    { return RouteAction{Kind: RouteLocal} }
func NextAction(c ConnId, n NodeId) RouteAction    { return RouteAction{Kind: RouteNext, Conn: c, Node: n} }
func RejectAction() RouteAction                   { return RouteAction{Kind: RouteReject} }

// RouterTable is the abstract routing table consumed by the plane bus. A
// concrete implementation (see router/spread) owns the actual topology;
// the core only calls PathTo and RegisterService.
type RouterTable interface {
	// RegisterService marks a service id as locally hosted. Idempotent.
	RegisterService(serviceId uint8)
	// PathTo resolves a RouteRule for a given service into a verdict.
	PathTo(rule RouteRule, serviceId uint8) RouteAction
}

// ForceLocalRouter is the trivial RouterTable: every rule resolves Local.
// Useful for single-node tests and for behaviors that never need to leave
// the local node.
type ForceLocalRouter struct{}

func (ForceLocalRouter) RegisterService(uint8) {}

func (ForceLocalRouter) PathTo(RouteRule, uint8) RouteAction { return LocalAction() }

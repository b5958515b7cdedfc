// Package nodealias lets a node publish a human-assigned alias for itself
// and lets any other node resolve that alias back to a NodeId. Aliases are
// announced to direct neighbors and re-gossiped each tick, the same
// single-hop-then-flood idiom router/spread uses for route tables.
package nodealias

import "fmt"

const NodeAliasServiceId uint8 = 7

// NodeAliasId is an opaque handle a node chooses to be addressed by.
type NodeAliasId uint64

func (a NodeAliasId) String() string { return fmt.Sprintf("alias(%d)", uint64(a)) }

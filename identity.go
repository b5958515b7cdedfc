package meshplane

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// NodeId identifies a node in the overlay. Globally unique by convention,
// not enforced by the runtime.
type NodeId uint32

func (n NodeId) String() string { return fmt.Sprintf("node(%d)", uint32(n)) }

// ConnDirection records which side of a connection the local node is on.
type ConnDirection uint8

const (
	ConnIncoming ConnDirection = iota
	ConnOutgoing
)

func (d ConnDirection) String() string {
	if d == ConnIncoming {
		return "incoming"
	}
	return "outgoing"
}

// ConnId identifies a single connection. It carries a direction flag in its
// top bit and a monotonic local id in the remaining 63 bits, so two
// connections opened by the same process never collide regardless of
// direction.
type ConnId uint64

const connDirectionBit = uint64(1) << 63

// NewConnId builds a ConnId from a direction and a process-local monotonic
// counter value.
func NewConnId(dir ConnDirection, localUuid uint64) ConnId {
	v := localUuid &^ connDirectionBit
	if dir == ConnOutgoing {
		v |= connDirectionBit
	}
	return ConnId(v)
}

func (c ConnId) Direction() ConnDirection {
	if uint64(c)&connDirectionBit != 0 {
		return ConnOutgoing
	}
	return ConnIncoming
}

func (c ConnId) LocalUuid() uint64 { return uint64(c) &^ connDirectionBit }

func (c ConnId) String() string {
	return fmt.Sprintf("conn(%s,%d)", c.Direction(), c.LocalUuid())
}

// TransportProtocol tags a single entry in a NodeAddr's descriptor list.
type TransportProtocol uint8

const (
	ProtoUDP TransportProtocol = iota + 1
	ProtoTCP
	ProtoVnet
)

// TransportDescriptor is one reachable address for a node over a given
// protocol. IP is empty for protocols (like vnet) that have no network
// address of their own.
type TransportDescriptor struct {
	Protocol TransportProtocol
	IP       [4]byte
	Port     uint16
}

// NodeAddr is the immutable, binary-serializable address of a node: its id
// plus an ordered list of ways to reach it. Ordering matters — earlier
// descriptors are tried first by a TransportConnector.
type NodeAddr struct {
	NodeId      NodeId
	Descriptors []TransportDescriptor
}

// EmptyNodeAddr builds a NodeAddr with no reachable descriptors, useful in
// tests and for vnet nodes that are reached purely by id.
func EmptyNodeAddr(id NodeId) NodeAddr {
	return NodeAddr{NodeId: id}
}

var ErrNodeAddrDecode = errors.New("meshplane: malformed NodeAddr")

// Encode renders a canonical binary NodeAddr: node_id (u32 BE) followed by
// a sequence of (protocol_tag u8, ip 4B, port u16 BE) entries.
func (a NodeAddr) Encode() []byte {
	buf := make([]byte, 4+len(a.Descriptors)*7)
	binary.BigEndian.PutUint32(buf[0:4], uint32(a.NodeId))
	off := 4
	for _, d := range a.Descriptors {
		buf[off] = byte(d.Protocol)
		copy(buf[off+1:off+5], d.IP[:])
		binary.BigEndian.PutUint16(buf[off+5:off+7], d.Port)
		off += 7
	}
	return buf
}

// DecodeNodeAddr parses the canonical binary form produced by Encode. It is
// total over any byte slice of the right shape and returns ErrNodeAddrDecode
// otherwise.
func DecodeNodeAddr(b []byte) (NodeAddr, error) {
	if len(b) < 4 {
		return NodeAddr{}, ErrNodeAddrDecode
	}
	rest := b[4:]
	if len(rest)%7 != 0 {
		return NodeAddr{}, ErrNodeAddrDecode
	}
	addr := NodeAddr{NodeId: NodeId(binary.BigEndian.Uint32(b[0:4]))}
	for off := 0; off < len(rest); off += 7 {
		var d TransportDescriptor
		d.Protocol = TransportProtocol(rest[off])
		copy(d.IP[:], rest[off+1:off+5])
		d.Port = binary.BigEndian.Uint16(rest[off+5 : off+7])
		addr.Descriptors = append(addr.Descriptors, d)
	}
	return addr, nil
}

func (a NodeAddr) String() string {
	return fmt.Sprintf("addr(%s,%d descriptors)", a.NodeId, len(a.Descriptors))
}

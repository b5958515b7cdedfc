package meshplane

import (
	"encoding/binary"
	"errors"
)

// MsgHeader is the header carried by every TransportMsg. ServiceId must be
// a registered service id; FromNode is required for any non-anonymous
// route.
type MsgHeader struct {
	ServiceId uint8
	Route     RouteRule
	FromNode  *NodeId
	StreamId  uint32
	Secure    bool
	Meta      []byte
}

// TransportMsg is an on-wire message: a header plus an opaque payload.
type TransportMsg struct {
	Header  MsgHeader
	Payload []byte
}

// BuildMsg constructs a TransportMsg from its parts. serviceFrom is informational
// only (carried nowhere on the wire beyond ServiceId == serviceTo); it mirrors the
// teacher/original signature shape where build() takes both ends of a hop.
func BuildMsg(serviceFrom, serviceTo uint8, route RouteRule, streamId uint32, secure bool, payload []byte) TransportMsg {
	_ = serviceFrom
	return TransportMsg{
		Header: MsgHeader{
			ServiceId: serviceTo,
			Route:     route,
			StreamId:  streamId,
			Secure:    secure,
		},
		Payload: payload,
	}
}

func (m TransportMsg) WithFromNode(n NodeId) TransportMsg {
	m.Header.FromNode = &n
	return m
}

func (m TransportMsg) WithMeta(meta []byte) TransportMsg {
	m.Header.Meta = meta
	return m
}

var ErrMsgDecode = errors.New("meshplane: malformed TransportMsg frame")

const (
	flagSecureBit   = 0x80
	flagRouteMask   = 0x70
	flagRouteShift  = 4
	flagFromNodeBit = 0x08
)

// IsSecureHeader inspects the leading flags byte of an encoded TransportMsg
// without fully decoding it.
func IsSecureHeader(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	return b[0]&flagSecureBit != 0
}

// Encode renders the canonical wire form described in spec §4.1:
//
//	byte0 flags, byte1 service_id, bytes2-5 stream_id,
//	route payload (0/4/4/1 bytes depending on kind),
//	optional 4-byte from_node, varint meta_len + meta, then payload.
func (m TransportMsg) Encode() []byte {
	var flags byte
	if m.Header.Secure {
		flags |= flagSecureBit
	}
	flags |= byte(m.Header.Route.Kind) << flagRouteShift
	if m.Header.FromNode != nil {
		flags |= flagFromNodeBit
	}

	buf := make([]byte, 0, 6+4+4+binary.MaxVarintLen64+len(m.Header.Meta)+len(m.Payload))
	buf = append(buf, flags, m.Header.ServiceId)

	var streamBuf [4]byte
	binary.BigEndian.PutUint32(streamBuf[:], m.Header.StreamId)
	buf = append(buf, streamBuf[:]...)

	switch m.Header.Route.Kind {
	case RouteDirect:
		// no route payload
	case RouteToNode:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(m.Header.Route.NodeTarget))
		buf = append(buf, b[:]...)
	case RouteToKey:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(m.Header.Route.KeyTarget))
		buf = append(buf, b[:]...)
	case RouteToService:
		buf = append(buf, m.Header.Route.ServiceTarget)
	}

	if m.Header.FromNode != nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(*m.Header.FromNode))
		buf = append(buf, b[:]...)
	}

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(m.Header.Meta)))
	buf = append(buf, varintBuf[:n]...)
	buf = append(buf, m.Header.Meta...)
	buf = append(buf, m.Payload...)
	return buf
}

// DecodeMsg parses the wire form produced by Encode. Decode is total over
// any byte slice: malformed input yields ErrMsgDecode rather than a panic.
func DecodeMsg(b []byte) (TransportMsg, error) {
	if len(b) < 6 {
		return TransportMsg{}, ErrMsgDecode
	}
	flags := b[0]
	serviceId := b[1]
	streamId := binary.BigEndian.Uint32(b[2:6])
	off := 6

	route := RouteRule{Kind: RouteRuleKind((flags & flagRouteMask) >> flagRouteShift)}
	switch route.Kind {
	case RouteDirect:
	case RouteToNode:
		if len(b) < off+4 {
			return TransportMsg{}, ErrMsgDecode
		}
		route.NodeTarget = NodeId(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
	case RouteToKey:
		if len(b) < off+4 {
			return TransportMsg{}, ErrMsgDecode
		}
		route.KeyTarget = NodeId(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
	case RouteToService:
		if len(b) < off+1 {
			return TransportMsg{}, ErrMsgDecode
		}
		route.ServiceTarget = b[off]
		off += 1
	default:
		return TransportMsg{}, ErrMsgDecode
	}

	var fromNode *NodeId
	if flags&flagFromNodeBit != 0 {
		if len(b) < off+4 {
			return TransportMsg{}, ErrMsgDecode
		}
		n := NodeId(binary.BigEndian.Uint32(b[off : off+4]))
		fromNode = &n
		off += 4
	}

	metaLen, n := binary.Uvarint(b[off:])
	if n <= 0 {
		return TransportMsg{}, ErrMsgDecode
	}
	off += n
	if uint64(len(b)-off) < metaLen {
		return TransportMsg{}, ErrMsgDecode
	}
	meta := append([]byte(nil), b[off:off+int(metaLen)]...)
	off += int(metaLen)
	payload := append([]byte(nil), b[off:]...)

	return TransportMsg{
		Header: MsgHeader{
			ServiceId: serviceId,
			Route:     route,
			FromNode:  fromNode,
			StreamId:  streamId,
			Secure:    flags&flagSecureBit != 0,
			Meta:      meta,
		},
		Payload: payload,
	}, nil
}

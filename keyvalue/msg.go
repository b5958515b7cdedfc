// Package keyvalue implements the simple key-value replication protocol:
// one node issues Set/Get/Del/Subscribe calls through a KeyValueSdk, the
// call is routed by key to whichever node owns that key (RouteRule.ToKey),
// and the owning node's storage acks or pushes change notifications back.
package keyvalue

import (
	"encoding/binary"
	"errors"

	"github.com/atsika/meshplane"
)

// KeyValueServiceId is the reserved service id key-value traffic is routed
// under.
const KeyValueServiceId uint8 = 4

type (
	KeyId      = uint64
	SubKeyId   = uint64
	ReqId      = uint64
	KeyVersion = uint64
	KeySource  = meshplane.NodeId
	ValueType  = []byte
)

var ErrMsgDecode = errors.New("keyvalue: malformed message")

// SimpleRemoteEventKind tags the wire events a requester sends to a key's
// owner, plus the OnKeySetAck/OnKeyDelAck replies a subscriber sends back
// after processing a change notification.
type SimpleRemoteEventKind uint8

const (
	RemoteSet SimpleRemoteEventKind = iota
	RemoteGet
	RemoteDel
	RemoteSub
	RemoteUnsub
	RemoteOnKeySetAck
	RemoteOnKeyDelAck
)

type SimpleRemoteEvent struct {
	Kind    SimpleRemoteEventKind
	ReqId   ReqId
	Key     KeyId
	Value   ValueType
	Version KeyVersion
	Ex      *uint64
}

func RemoteSetEvent(reqId ReqId, key KeyId, value ValueType, version KeyVersion, ex *uint64) SimpleRemoteEvent {
	return SimpleRemoteEvent{Kind: RemoteSet, ReqId: reqId, Key: key, Value: value, Version: version, Ex: ex}
}

func RemoteGetEvent(reqId ReqId, key KeyId) SimpleRemoteEvent {
	return SimpleRemoteEvent{Kind: RemoteGet, ReqId: reqId, Key: key}
}

func RemoteDelEvent(reqId ReqId, key KeyId, version KeyVersion) SimpleRemoteEvent {
	return SimpleRemoteEvent{Kind: RemoteDel, ReqId: reqId, Key: key, Version: version}
}

func RemoteSubEvent(reqId ReqId, key KeyId, ex *uint64) SimpleRemoteEvent {
	return SimpleRemoteEvent{Kind: RemoteSub, ReqId: reqId, Key: key, Ex: ex}
}

func RemoteUnsubEvent(reqId ReqId, key KeyId) SimpleRemoteEvent {
	return SimpleRemoteEvent{Kind: RemoteUnsub, ReqId: reqId, Key: key}
}

func RemoteOnKeySetAckEvent(reqId ReqId) SimpleRemoteEvent {
	return SimpleRemoteEvent{Kind: RemoteOnKeySetAck, ReqId: reqId}
}

func RemoteOnKeyDelAckEvent(reqId ReqId) SimpleRemoteEvent {
	return SimpleRemoteEvent{Kind: RemoteOnKeyDelAck, ReqId: reqId}
}

// SimpleLocalEventKind tags the wire events a key's owner sends back to a
// requester: acks for Set/Get/Del/Sub/Unsub, and unsolicited change
// notifications (OnKeySet/OnKeyDel) pushed to every subscriber.
type SimpleLocalEventKind uint8

const (
	LocalSetAck SimpleLocalEventKind = iota
	LocalGetAck
	LocalDelAck
	LocalSubAck
	LocalUnsubAck
	LocalOnKeySet
	LocalOnKeyDel
)

type SimpleLocalEvent struct {
	Kind       SimpleLocalEventKind
	ReqId      ReqId
	Key        KeyId
	Value      ValueType
	HasValue   bool
	Version    KeyVersion
	HasVersion bool
	Success    bool
	Source     KeySource
}

func SetAckEvent(reqId ReqId, key KeyId, version KeyVersion, success bool) SimpleLocalEvent {
	return SimpleLocalEvent{Kind: LocalSetAck, ReqId: reqId, Key: key, Version: version, Success: success}
}

func GetAckEvent(reqId ReqId, key KeyId, value ValueType, version KeyVersion, source KeySource, hasValue bool) SimpleLocalEvent {
	return SimpleLocalEvent{Kind: LocalGetAck, ReqId: reqId, Key: key, Value: value, Version: version, Source: source, HasValue: hasValue}
}

func DelAckEvent(reqId ReqId, key KeyId, version KeyVersion, hasVersion bool) SimpleLocalEvent {
	return SimpleLocalEvent{Kind: LocalDelAck, ReqId: reqId, Key: key, Version: version, HasVersion: hasVersion}
}

func SubAckEvent(reqId ReqId, key KeyId) SimpleLocalEvent {
	return SimpleLocalEvent{Kind: LocalSubAck, ReqId: reqId, Key: key}
}

func UnsubAckEvent(reqId ReqId, key KeyId, success bool) SimpleLocalEvent {
	return SimpleLocalEvent{Kind: LocalUnsubAck, ReqId: reqId, Key: key, Success: success}
}

func OnKeySetEvent(reqId ReqId, key KeyId, value ValueType, version KeyVersion, source KeySource) SimpleLocalEvent {
	return SimpleLocalEvent{Kind: LocalOnKeySet, ReqId: reqId, Key: key, Value: value, Version: version, Source: source, HasValue: true}
}

func OnKeyDelEvent(reqId ReqId, key KeyId, version KeyVersion, source KeySource) SimpleLocalEvent {
	return SimpleLocalEvent{Kind: LocalOnKeyDel, ReqId: reqId, Key: key, Version: version, Source: source}
}

// Wire encoding: [1B kind][8B reqId][8B key] followed by kind-specific
// fields. Optional fields are a presence byte followed by the value.

func putOptU64(buf []byte, v *uint64) []byte {
	if v == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], *v)
	return append(buf, tmp[:]...)
}

func getOptU64(b []byte) (*uint64, []byte, error) {
	if len(b) < 1 {
		return nil, nil, ErrMsgDecode
	}
	present, rest := b[0], b[1:]
	if present == 0 {
		return nil, rest, nil
	}
	if len(rest) < 8 {
		return nil, nil, ErrMsgDecode
	}
	v := binary.BigEndian.Uint64(rest[:8])
	return &v, rest[8:], nil
}

func putBytes(buf []byte, v []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(v)))
	buf = append(buf, tmp[:]...)
	return append(buf, v...)
}

func getBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, ErrMsgDecode
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, ErrMsgDecode
	}
	return b[:n], b[n:], nil
}

func headerBytes(kind uint8, reqId, key uint64) []byte {
	buf := make([]byte, 0, 17)
	buf = append(buf, kind)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], reqId)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], key)
	return append(buf, tmp[:]...)
}

func readHeader(b []byte) (kind uint8, reqId, key uint64, rest []byte, err error) {
	if len(b) < 17 {
		return 0, 0, 0, nil, ErrMsgDecode
	}
	kind = b[0]
	reqId = binary.BigEndian.Uint64(b[1:9])
	key = binary.BigEndian.Uint64(b[9:17])
	return kind, reqId, key, b[17:], nil
}

func (e SimpleRemoteEvent) Encode() []byte {
	buf := headerBytes(uint8(e.Kind), e.ReqId, e.Key)
	switch e.Kind {
	case RemoteSet:
		buf = putBytes(buf, e.Value)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], e.Version)
		buf = append(buf, tmp[:]...)
		buf = putOptU64(buf, e.Ex)
	case RemoteDel:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], e.Version)
		buf = append(buf, tmp[:]...)
	case RemoteSub:
		buf = putOptU64(buf, e.Ex)
	}
	return buf
}

func DecodeSimpleRemoteEvent(b []byte) (SimpleRemoteEvent, error) {
	kind, reqId, key, rest, err := readHeader(b)
	if err != nil {
		return SimpleRemoteEvent{}, err
	}
	e := SimpleRemoteEvent{Kind: SimpleRemoteEventKind(kind), ReqId: reqId, Key: key}
	switch e.Kind {
	case RemoteSet:
		value, rest2, err := getBytes(rest)
		if err != nil {
			return SimpleRemoteEvent{}, err
		}
		if len(rest2) < 8 {
			return SimpleRemoteEvent{}, ErrMsgDecode
		}
		e.Value = value
		e.Version = binary.BigEndian.Uint64(rest2[:8])
		ex, _, err := getOptU64(rest2[8:])
		if err != nil {
			return SimpleRemoteEvent{}, err
		}
		e.Ex = ex
	case RemoteDel:
		if len(rest) < 8 {
			return SimpleRemoteEvent{}, ErrMsgDecode
		}
		e.Version = binary.BigEndian.Uint64(rest[:8])
	case RemoteSub:
		ex, _, err := getOptU64(rest)
		if err != nil {
			return SimpleRemoteEvent{}, err
		}
		e.Ex = ex
	}
	return e, nil
}

func (e SimpleLocalEvent) Encode() []byte {
	buf := headerBytes(uint8(e.Kind), e.ReqId, e.Key)
	switch e.Kind {
	case LocalSetAck:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], e.Version)
		buf = append(buf, tmp[:]...)
		buf = append(buf, boolByte(e.Success))
	case LocalGetAck:
		buf = append(buf, boolByte(e.HasValue))
		if e.HasValue {
			buf = putBytes(buf, e.Value)
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], e.Version)
			buf = append(buf, tmp[:]...)
			buf = append(buf, nodeIdBytes(e.Source)...)
		}
	case LocalDelAck:
		buf = append(buf, boolByte(e.HasVersion))
		if e.HasVersion {
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], e.Version)
			buf = append(buf, tmp[:]...)
		}
	case LocalUnsubAck:
		buf = append(buf, boolByte(e.Success))
	case LocalOnKeySet:
		buf = putBytes(buf, e.Value)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], e.Version)
		buf = append(buf, tmp[:]...)
		buf = append(buf, nodeIdBytes(e.Source)...)
	case LocalOnKeyDel:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], e.Version)
		buf = append(buf, tmp[:]...)
		buf = append(buf, nodeIdBytes(e.Source)...)
	}
	return buf
}

func DecodeSimpleLocalEvent(b []byte) (SimpleLocalEvent, error) {
	kind, reqId, key, rest, err := readHeader(b)
	if err != nil {
		return SimpleLocalEvent{}, err
	}
	e := SimpleLocalEvent{Kind: SimpleLocalEventKind(kind), ReqId: reqId, Key: key}
	switch e.Kind {
	case LocalSetAck:
		if len(rest) < 9 {
			return SimpleLocalEvent{}, ErrMsgDecode
		}
		e.Version = binary.BigEndian.Uint64(rest[:8])
		e.Success = rest[8] != 0
	case LocalGetAck:
		if len(rest) < 1 {
			return SimpleLocalEvent{}, ErrMsgDecode
		}
		e.HasValue = rest[0] != 0
		rest = rest[1:]
		if e.HasValue {
			value, rest2, err := getBytes(rest)
			if err != nil {
				return SimpleLocalEvent{}, err
			}
			if len(rest2) < 8+4 {
				return SimpleLocalEvent{}, ErrMsgDecode
			}
			e.Value = value
			e.Version = binary.BigEndian.Uint64(rest2[:8])
			e.Source = nodeIdFromBytes(rest2[8:12])
		}
	case LocalDelAck:
		if len(rest) < 1 {
			return SimpleLocalEvent{}, ErrMsgDecode
		}
		e.HasVersion = rest[0] != 0
		rest = rest[1:]
		if e.HasVersion {
			if len(rest) < 8 {
				return SimpleLocalEvent{}, ErrMsgDecode
			}
			e.Version = binary.BigEndian.Uint64(rest[:8])
		}
	case LocalUnsubAck:
		if len(rest) < 1 {
			return SimpleLocalEvent{}, ErrMsgDecode
		}
		e.Success = rest[0] != 0
	case LocalOnKeySet:
		value, rest2, err := getBytes(rest)
		if err != nil {
			return SimpleLocalEvent{}, err
		}
		if len(rest2) < 8+4 {
			return SimpleLocalEvent{}, ErrMsgDecode
		}
		e.Value = value
		e.HasValue = true
		e.Version = binary.BigEndian.Uint64(rest2[:8])
		e.Source = nodeIdFromBytes(rest2[8:12])
	case LocalOnKeyDel:
		if len(rest) < 8+4 {
			return SimpleLocalEvent{}, ErrMsgDecode
		}
		e.Version = binary.BigEndian.Uint64(rest[:8])
		e.Source = nodeIdFromBytes(rest[8:12])
	}
	return e, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func nodeIdBytes(n meshplane.NodeId) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(n))
	return tmp[:]
}

func nodeIdFromBytes(b []byte) meshplane.NodeId {
	return meshplane.NodeId(binary.BigEndian.Uint32(b))
}

package nodealias

import (
	"encoding/binary"
	"errors"

	"github.com/atsika/meshplane"
)

var ErrMsgDecode = errors.New("nodealias: malformed message")

// AnnounceMsg gossips one (alias, owner) binding one hop at a time; a
// receiving node that learns a new binding caches it and forwards it at
// once to its other neighbors with Hops+1, up to maxAnnounceHops.
type AnnounceMsg struct {
	Alias NodeAliasId
	Owner meshplane.NodeId
	Hops  uint8
}

func (m AnnounceMsg) Encode() []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.Alias))
	binary.BigEndian.PutUint32(buf[8:12], uint32(m.Owner))
	buf[12] = m.Hops
	return buf
}

func DecodeAnnounceMsg(b []byte) (AnnounceMsg, error) {
	if len(b) < 13 {
		return AnnounceMsg{}, ErrMsgDecode
	}
	return AnnounceMsg{
		Alias: NodeAliasId(binary.BigEndian.Uint64(b[0:8])),
		Owner: meshplane.NodeId(binary.BigEndian.Uint32(b[8:12])),
		Hops:  b[12],
	}, nil
}

// FindMsg asks a direct neighbor whether it knows alias; used only when
// the local cache misses, bounded by the SDK's own timeout rather than a
// hop-limited flood.
type FindMsg struct {
	ReqId uint64
	Alias NodeAliasId
}

func (m FindMsg) Encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], m.ReqId)
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.Alias))
	return buf
}

func DecodeFindMsg(b []byte) (FindMsg, error) {
	if len(b) < 16 {
		return FindMsg{}, ErrMsgDecode
	}
	return FindMsg{ReqId: binary.BigEndian.Uint64(b[0:8]), Alias: NodeAliasId(binary.BigEndian.Uint64(b[8:16]))}, nil
}

// FindAckMsg answers a FindMsg, Found=false if the responder's cache also
// misses.
type FindAckMsg struct {
	ReqId uint64
	Owner meshplane.NodeId
	Found bool
}

func (m FindAckMsg) Encode() []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint64(buf[0:8], m.ReqId)
	binary.BigEndian.PutUint32(buf[8:12], uint32(m.Owner))
	if m.Found {
		buf[12] = 1
	}
	return buf
}

func DecodeFindAckMsg(b []byte) (FindAckMsg, error) {
	if len(b) < 13 {
		return FindAckMsg{}, ErrMsgDecode
	}
	return FindAckMsg{
		ReqId: binary.BigEndian.Uint64(b[0:8]),
		Owner: meshplane.NodeId(binary.BigEndian.Uint32(b[8:12])),
		Found: b[12] != 0,
	}, nil
}

type msgKind uint8

const (
	kindAnnounce msgKind = iota
	kindFind
	kindFindAck
)

func wrap(kind msgKind, payload []byte) []byte { return append([]byte{byte(kind)}, payload...) }

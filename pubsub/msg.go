package pubsub

import (
	"encoding/binary"
	"errors"

	"github.com/atsika/meshplane"
)

var ErrMsgDecode = errors.New("pubsub: malformed message")

type wireKind uint8

const (
	wireData wireKind = iota
	wireSub
	wireUnsub
	wireSubAck
	wireUnsubAck
	wireSubAny
	wireUnsubAny
	wireFeedback
)

func wrap(kind wireKind, payload []byte) []byte { return append([]byte{byte(kind)}, payload...) }

func encodeChannel(c ChannelIdentify) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(c.Source))
	binary.BigEndian.PutUint64(buf[4:12], c.Uuid)
	return buf
}

func decodeChannel(b []byte) (ChannelIdentify, []byte, error) {
	if len(b) < 12 {
		return ChannelIdentify{}, nil, ErrMsgDecode
	}
	return ChannelIdentify{
		Source: meshplane.NodeId(binary.BigEndian.Uint32(b[0:4])),
		Uuid:   binary.BigEndian.Uint64(b[4:12]),
	}, b[12:], nil
}

// SubMsg/UnsubMsg ask the owning node to add/remove the sender from a
// specific channel's remote subscriber set.
type SubMsg struct{ Channel ChannelIdentify }
type UnsubMsg struct{ Channel ChannelIdentify }

func (m SubMsg) Encode() []byte   { return encodeChannel(m.Channel) }
func (m UnsubMsg) Encode() []byte { return encodeChannel(m.Channel) }

func DecodeSubMsg(b []byte) (SubMsg, error) {
	c, _, err := decodeChannel(b)
	return SubMsg{Channel: c}, err
}

func DecodeUnsubMsg(b []byte) (UnsubMsg, error) {
	c, _, err := decodeChannel(b)
	return UnsubMsg{Channel: c}, err
}

// SubAckMsg/UnsubAckMsg report whether the Sub/Unsub actually changed the
// owning node's subscriber set (false if it was already in the requested
// state).
type SubAckMsg struct {
	Channel ChannelIdentify
	Added   bool
}

type UnsubAckMsg struct {
	Channel ChannelIdentify
	Removed bool
}

func (m SubAckMsg) Encode() []byte {
	buf := encodeChannel(m.Channel)
	return append(buf, boolByte(m.Added))
}

func DecodeSubAckMsg(b []byte) (SubAckMsg, error) {
	c, rest, err := decodeChannel(b)
	if err != nil || len(rest) < 1 {
		return SubAckMsg{}, ErrMsgDecode
	}
	return SubAckMsg{Channel: c, Added: rest[0] != 0}, nil
}

func (m UnsubAckMsg) Encode() []byte {
	buf := encodeChannel(m.Channel)
	return append(buf, boolByte(m.Removed))
}

func DecodeUnsubAckMsg(b []byte) (UnsubAckMsg, error) {
	c, rest, err := decodeChannel(b)
	if err != nil || len(rest) < 1 {
		return UnsubAckMsg{}, ErrMsgDecode
	}
	return UnsubAckMsg{Channel: c, Removed: rest[0] != 0}, nil
}

// SubAnyMsg/UnsubAnyMsg register interest in every channel published
// under Uuid regardless of source node. SubAnyMsg goes to direct neighbors
// only (on subscribe and again every tick); a receiver does not forward
// it, so only publishers on a direct neighbor answer, each with a
// SubAckMsg for its own ChannelIdentify. Nothing in this package sends
// UnsubAnyMsg; a received one is still handled.
type SubAnyMsg struct{ Uuid uint64 }
type UnsubAnyMsg struct{ Uuid uint64 }

func (m SubAnyMsg) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, m.Uuid)
	return buf
}

func (m UnsubAnyMsg) Encode() []byte { return (SubAnyMsg{Uuid: m.Uuid}).Encode() }

func DecodeSubAnyMsg(b []byte) (SubAnyMsg, error) {
	if len(b) < 8 {
		return SubAnyMsg{}, ErrMsgDecode
	}
	return SubAnyMsg{Uuid: binary.BigEndian.Uint64(b)}, nil
}

func DecodeUnsubAnyMsg(b []byte) (UnsubAnyMsg, error) {
	s, err := DecodeSubAnyMsg(b)
	return UnsubAnyMsg{Uuid: s.Uuid}, err
}

// FeedbackMsg carries a consumer's feedback back toward the channel's
// owning node, tagged with the reporting consumer's uuid so the publisher
// can merge Number samples per consumer.
type FeedbackMsg struct {
	Channel      ChannelIdentify
	ConsumerUuid uint64
	Id           uint8
	Type         FeedbackType
}

func (m FeedbackMsg) Encode() []byte {
	buf := encodeChannel(m.Channel)
	tail := make([]byte, 9)
	binary.BigEndian.PutUint64(tail[0:8], m.ConsumerUuid)
	tail[8] = m.Id
	buf = append(buf, tail...)
	buf = append(buf, byte(m.Type.Kind))
	switch m.Type.Kind {
	case FeedbackPassthrough:
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(m.Type.Passthrough)))
		buf = append(buf, lenBuf...)
		buf = append(buf, m.Type.Passthrough...)
	case FeedbackNumber:
		rest := make([]byte, 4+8*4)
		binary.BigEndian.PutUint32(rest[0:4], m.Type.WindowMs)
		binary.BigEndian.PutUint64(rest[4:12], uint64(m.Type.Info.Count))
		binary.BigEndian.PutUint64(rest[12:20], uint64(m.Type.Info.Max))
		binary.BigEndian.PutUint64(rest[20:28], uint64(m.Type.Info.Min))
		binary.BigEndian.PutUint64(rest[28:36], uint64(m.Type.Info.Sum))
		buf = append(buf, rest...)
	}
	return buf
}

func DecodeFeedbackMsg(b []byte) (FeedbackMsg, error) {
	c, rest, err := decodeChannel(b)
	if err != nil || len(rest) < 10 {
		return FeedbackMsg{}, ErrMsgDecode
	}
	m := FeedbackMsg{Channel: c}
	m.ConsumerUuid = binary.BigEndian.Uint64(rest[0:8])
	m.Id = rest[8]
	kind := FeedbackKind(rest[9])
	rest = rest[10:]
	m.Type.Kind = kind
	switch kind {
	case FeedbackPassthrough:
		if len(rest) < 2 {
			return FeedbackMsg{}, ErrMsgDecode
		}
		n := binary.BigEndian.Uint16(rest[0:2])
		rest = rest[2:]
		if len(rest) < int(n) {
			return FeedbackMsg{}, ErrMsgDecode
		}
		m.Type.Passthrough = append([]byte(nil), rest[:n]...)
	case FeedbackNumber:
		if len(rest) < 36 {
			return FeedbackMsg{}, ErrMsgDecode
		}
		m.Type.WindowMs = binary.BigEndian.Uint32(rest[0:4])
		m.Type.Info.Count = int64(binary.BigEndian.Uint64(rest[4:12]))
		m.Type.Info.Max = int64(binary.BigEndian.Uint64(rest[12:20]))
		m.Type.Info.Min = int64(binary.BigEndian.Uint64(rest[20:28]))
		m.Type.Info.Sum = int64(binary.BigEndian.Uint64(rest[28:36]))
	default:
		return FeedbackMsg{}, ErrMsgDecode
	}
	return m, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Package manual implements the manual peering behavior: a fixed list of
// seed addresses to dial on start, plus a tag exchange over every
// resulting connection so a node can decide whether that peer is worth
// keeping for its declared purpose.
package manual

import (
	"encoding/binary"
	"errors"
)

const ManualServiceId uint8 = 2

var ErrMsgDecode = errors.New("manual: malformed message")

// TagsAnnounce is the one message ever exchanged on a manual connection:
// the sender's local tags, so the receiver can score overlap against its
// own connect_tags.
type TagsAnnounce struct {
	Tags []string
}

func (m TagsAnnounce) Encode() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(m.Tags)))
	for _, tag := range m.Tags {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(tag)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, tag...)
	}
	return buf
}

func DecodeTagsAnnounce(b []byte) (TagsAnnounce, error) {
	if len(b) < 2 {
		return TagsAnnounce{}, ErrMsgDecode
	}
	count := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	tags := make([]string, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(b) < 2 {
			return TagsAnnounce{}, ErrMsgDecode
		}
		n := binary.BigEndian.Uint16(b[:2])
		b = b[2:]
		if uint16(len(b)) < n {
			return TagsAnnounce{}, ErrMsgDecode
		}
		tags = append(tags, string(b[:n]))
		b = b[n:]
	}
	return TagsAnnounce{Tags: tags}, nil
}

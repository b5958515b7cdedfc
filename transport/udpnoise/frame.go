package udpnoise

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var ErrShortFrame = errors.New("udpnoise: short frame")

const FrameHeaderSize = 4 + 1 // 4 bytes length + 1 byte type

// frame type tags, carried in the 1-byte Frame.Type field.
const (
	FrameTypeData      byte = 0
	FrameTypeHandshake byte = 1
	FrameTypePing      byte = 2
	FrameTypePong      byte = 3
)

// Frame represents a single message unit.
type Frame struct {
	Payload []byte
	Length  uint32
	Type    byte
}

// BuildFrame writes a framed message to the write buffer.
// Frame format: [4 bytes: length][1 byte: type][N bytes: payload]
// Caller must ensure writeBuf is protected from concurrent access.
func BuildFrame(writeBuf *bytes.Buffer, f Frame) {
	writeBuf.Grow(FrameHeaderSize + len(f.Payload))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	writeBuf.Write(lenBuf[:])
	writeBuf.WriteByte(f.Type)
	writeBuf.Write(f.Payload)
}

// DecodeFrame parses a single datagram's worth of bytes as one Frame. UDP
// preserves packet boundaries so, unlike a stream transport, a datagram
// always holds exactly one frame or is malformed.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < FrameHeaderSize {
		return Frame{}, ErrShortFrame
	}
	length := binary.BigEndian.Uint32(b[0:4])
	typ := b[4]
	if uint32(len(b)-FrameHeaderSize) != length {
		return Frame{}, ErrShortFrame
	}
	payload := append([]byte(nil), b[FrameHeaderSize:]...)
	return Frame{Payload: payload, Length: length, Type: typ}, nil
}

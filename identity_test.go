package meshplane

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnIdDirectionAndUuid(t *testing.T) {
	in := NewConnId(ConnIncoming, 12345)
	out := NewConnId(ConnOutgoing, 12345)

	require.Equal(t, ConnIncoming, in.Direction())
	require.Equal(t, uint64(12345), in.LocalUuid())

	require.Equal(t, ConnOutgoing, out.Direction())
	require.Equal(t, uint64(12345), out.LocalUuid())

	require.NotEqual(t, in, out)
}

func TestNodeAddrRoundtrip(t *testing.T) {
	addr := NodeAddr{
		NodeId: NodeId(7),
		Descriptors: []TransportDescriptor{
			{Protocol: ProtoUDP, IP: [4]byte{127, 0, 0, 1}, Port: 9000},
			{Protocol: ProtoTCP, IP: [4]byte{10, 0, 0, 2}, Port: 443},
		},
	}
	got, err := DecodeNodeAddr(addr.Encode())
	require.NoError(t, err)
	require.Equal(t, addr, got)
}

func TestNodeAddrRoundtripEmpty(t *testing.T) {
	addr := EmptyNodeAddr(NodeId(3))
	got, err := DecodeNodeAddr(addr.Encode())
	require.NoError(t, err)
	require.Equal(t, addr.NodeId, got.NodeId)
	require.Empty(t, got.Descriptors)
}

func TestDecodeNodeAddrRejectsShortOrMisaligned(t *testing.T) {
	_, err := DecodeNodeAddr(nil)
	require.ErrorIs(t, err, ErrNodeAddrDecode)

	_, err = DecodeNodeAddr([]byte{0, 0, 0, 1, 1, 2, 3})
	require.ErrorIs(t, err, ErrNodeAddrDecode)
}

package meshplane

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransportMsgRoundtrip(t *testing.T) {
	node := NodeId(42)
	cases := []TransportMsg{
		BuildMsg(1, 2, Direct(), 7, false, []byte("hello")),
		BuildMsg(1, 2, ToNode(node), 0, true, nil),
		BuildMsg(1, 2, ToKey(NodeId(99)), 5, false, []byte{1, 2, 3}),
		BuildMsg(1, 2, ToService(9), 0, false, []byte("x")).WithFromNode(node),
		BuildMsg(1, 2, Direct(), 0, false, []byte("y")).WithMeta([]byte("metadata")),
	}
	for _, want := range cases {
		got, err := DecodeMsg(want.Encode())
		require.NoError(t, err)
		require.Equal(t, want.Header.ServiceId, got.Header.ServiceId)
		require.Equal(t, want.Header.Route, got.Header.Route)
		require.Equal(t, want.Header.StreamId, got.Header.StreamId)
		require.Equal(t, want.Header.Secure, got.Header.Secure)
		require.Equal(t, want.Payload, got.Payload)
		if want.Header.FromNode == nil {
			require.Nil(t, got.Header.FromNode)
		} else {
			require.NotNil(t, got.Header.FromNode)
			require.Equal(t, *want.Header.FromNode, *got.Header.FromNode)
		}
		if len(want.Header.Meta) == 0 {
			require.Empty(t, got.Header.Meta)
		} else {
			require.Equal(t, want.Header.Meta, got.Header.Meta)
		}
	}
}

func TestDecodeMsgTotalOverGarbage(t *testing.T) {
	for _, b := range [][]byte{
		nil,
		{},
		{0x01},
		{0x10, 0x00, 0x00, 0x00, 0x00, 0x00},       // route=ToNode, missing 4-byte target
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF}, // bogus meta-len varint continuation
	} {
		_, err := DecodeMsg(b)
		require.Error(t, err)
	}
}

func TestIsSecureHeader(t *testing.T) {
	secure := BuildMsg(1, 2, Direct(), 0, true, nil).Encode()
	insecure := BuildMsg(1, 2, Direct(), 0, false, nil).Encode()
	require.True(t, IsSecureHeader(secure))
	require.False(t, IsSecureHeader(insecure))
	require.False(t, IsSecureHeader(nil))
}

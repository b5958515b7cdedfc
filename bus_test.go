package meshplane

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	remoteNode NodeId
	connId     ConnId
	closed     bool
	closedErr  error
}

func (f *fakeSender) RemoteNodeId() NodeId   { return f.remoteNode }
func (f *fakeSender) ConnId() ConnId         { return f.connId }
func (f *fakeSender) RemoteAddr() string     { return "fake" }
func (f *fakeSender) Send(TransportMsg) error { return nil }
func (f *fakeSender) Close(reason error) {
	f.closed = true
	f.closedErr = reason
}

func TestPlaneBusAddRemoveInvariant(t *testing.T) {
	bus := NewPlaneBus()
	c1 := NewConnId(ConnIncoming, 1)
	c2 := NewConnId(ConnIncoming, 2)
	node := NodeId(10)

	require.True(t, bus.AddConn(c1, node, &fakeSender{}, make(chan CrossHandlerEvent, 4)))
	require.True(t, bus.AddConn(c2, node, &fakeSender{}, make(chan CrossHandlerEvent, 4)))
	require.Equal(t, 2, bus.Size())

	require.True(t, bus.RemoveConn(c1))
	require.Equal(t, 1, bus.Size())
	// by_node must agree: the remaining connection is still reachable by node.
	require.True(t, bus.SendToNode(node, CrossHandlerEvent{Kind: EventFromBehavior}))

	require.True(t, bus.RemoveConn(c2))
	require.Equal(t, 0, bus.Size())
	require.False(t, bus.SendToNode(node, CrossHandlerEvent{Kind: EventFromBehavior}))
}

func TestPlaneBusRemoveConnTwiceReportsAbsent(t *testing.T) {
	bus := NewPlaneBus()
	c := NewConnId(ConnOutgoing, 1)
	bus.AddConn(c, NodeId(1), &fakeSender{}, make(chan CrossHandlerEvent, 1))

	require.True(t, bus.RemoveConn(c))
	require.False(t, bus.RemoveConn(c))
}

func TestPlaneBusSendToHandlerOrdering(t *testing.T) {
	bus := NewPlaneBus()
	c := NewConnId(ConnIncoming, 1)
	ch := make(chan CrossHandlerEvent, 8)
	bus.AddConn(c, NodeId(1), &fakeSender{}, ch)

	for i := 0; i < 5; i++ {
		require.True(t, bus.SendToHandler(c, CrossHandlerEvent{Kind: EventFromBehavior, Payload: i}))
	}
	for i := 0; i < 5; i++ {
		ev := <-ch
		require.Equal(t, i, ev.Payload)
	}
}

func TestPlaneBusSendToUnknownConnDrops(t *testing.T) {
	bus := NewPlaneBus()
	require.False(t, bus.SendToHandler(NewConnId(ConnIncoming, 99), CrossHandlerEvent{}))
	require.False(t, bus.SendToNode(NodeId(99), CrossHandlerEvent{}))
}

func TestPlaneBusCloseNode(t *testing.T) {
	bus := NewPlaneBus()
	node := NodeId(5)
	c1 := NewConnId(ConnIncoming, 1)
	c2 := NewConnId(ConnOutgoing, 2)
	s1 := &fakeSender{}
	s2 := &fakeSender{}
	bus.AddConn(c1, node, s1, make(chan CrossHandlerEvent, 1))
	bus.AddConn(c2, node, s2, make(chan CrossHandlerEvent, 1))

	reason := errors.New("closed by behavior")
	require.Equal(t, 2, bus.CloseNode(node, reason))
	require.True(t, s1.closed)
	require.True(t, s2.closed)
	require.Equal(t, reason, s1.closedErr)
	// CloseNode only requests closure; indices are untouched until the
	// connection's driver actually exits and calls RemoveConn.
	require.Equal(t, 2, bus.Size())
}

func TestPlaneBusClose(t *testing.T) {
	bus := NewPlaneBus()
	c := NewConnId(ConnIncoming, 1)
	s := &fakeSender{}
	bus.AddConn(c, NodeId(1), s, make(chan CrossHandlerEvent, 1))

	require.True(t, bus.Close(c, nil))
	require.True(t, s.closed)
	require.False(t, bus.Close(NewConnId(ConnIncoming, 99), nil))
}

func TestPlaneBusDuplicateConnIdRejected(t *testing.T) {
	bus := NewPlaneBus()
	c := NewConnId(ConnIncoming, 1)
	require.True(t, bus.AddConn(c, NodeId(1), &fakeSender{}, make(chan CrossHandlerEvent, 1)))
	// Per spec §4.3: a duplicate ConnId is rejected, not overwritten (I1).
	require.False(t, bus.AddConn(c, NodeId(2), &fakeSender{}, make(chan CrossHandlerEvent, 1)))
	require.Equal(t, 1, bus.Size())
	require.True(t, bus.SendToNode(NodeId(1), CrossHandlerEvent{}))
	require.False(t, bus.SendToNode(NodeId(2), CrossHandlerEvent{}))
}

func TestPlaneBusSenderResolution(t *testing.T) {
	bus := NewPlaneBus()
	c := NewConnId(ConnIncoming, 1)
	s := &fakeSender{}
	bus.AddConn(c, NodeId(3), s, make(chan CrossHandlerEvent, 1))

	got, ok := bus.Sender(c)
	require.True(t, ok)
	require.Same(t, s, got.(*fakeSender))

	got, ok = bus.SenderForNode(NodeId(3))
	require.True(t, ok)
	require.Same(t, s, got.(*fakeSender))

	_, ok = bus.Sender(NewConnId(ConnIncoming, 99))
	require.False(t, ok)
}

package meshplane

import (
	"context"

	"github.com/sirupsen/logrus"
)

// singleConnDriver is the cooperative per-connection goroutine: it owns one
// ConnectionReceiver, hands each inbound message to the ConnectionHandler
// registered for its service id (or to the behavior when none is
// attached), and relays handler events and disconnects back to the plane's
// internal channel.
type singleConnDriver struct {
	conn         ConnId
	direction    ConnDirection
	remoteNodeId NodeId
	localNodeId  NodeId
	receiver     ConnectionReceiver
	sender       ConnectionSender

	internalCh chan<- NetworkPlaneInternalEvent

	handlers map[uint8]ConnectionHandler
	agents   map[uint8]*ConnectionAgent
	// fromHandlerCh is shared across all per-service handler agents for this
	// connection; events are tagged with serviceId by the caller before
	// being queued into internalCh.
	fromHandlerCh chan serviceTaggedEvent

	// busIngress is this connection's slot in the PlaneBus's by_conn index
	// (registered via AddConn in spawnConnection). Behaviors reach this
	// connection's handlers by routing an ActionToHandler through the bus,
	// which lands here.
	busIngress chan CrossHandlerEvent

	log *logrus.Entry
}

type serviceTaggedEvent struct {
	serviceId uint8
	event     CrossHandlerEvent
}

func newSingleConnDriver(conn ConnId, direction ConnDirection, localNodeId, remoteNodeId NodeId, receiver ConnectionReceiver, sender ConnectionSender, internalCh chan<- NetworkPlaneInternalEvent, log *logrus.Entry) *singleConnDriver {
	return &singleConnDriver{
		conn:          conn,
		direction:     direction,
		remoteNodeId:  remoteNodeId,
		localNodeId:   localNodeId,
		receiver:      receiver,
		sender:        sender,
		internalCh:    internalCh,
		handlers:      make(map[uint8]ConnectionHandler),
		agents:        make(map[uint8]*ConnectionAgent),
		fromHandlerCh: make(chan serviceTaggedEvent, 64),
		busIngress:    make(chan CrossHandlerEvent, 64),
		log:           log,
	}
}

// attachHandler binds a handler for serviceId to this connection and opens
// it immediately.
func (d *singleConnDriver) attachHandler(serviceId uint8, h ConnectionHandler) *ConnectionAgent {
	forwardCh := make(chan CrossHandlerEvent, 16)
	go func() {
		for ev := range forwardCh {
			d.fromHandlerCh <- serviceTaggedEvent{serviceId: serviceId, event: ev}
		}
	}()
	agent := newConnectionAgent(serviceId, d.localNodeId, d.remoteNodeId, d.conn, d.sender, forwardCh)
	d.handlers[serviceId] = h
	d.agents[serviceId] = agent
	h.OnOpened(agent)
	return agent
}

// run drives the connection until its receiver errors or ctx is cancelled,
// dispatching each inbound TransportMsg by header service id and forwarding
// handler-originated events onto internalCh. The receiver's blocking Poll
// runs on its own goroutine feeding pollCh, so a quiet wire never starves
// fromHandlerCh or busIngress: all three sources are genuine arms of one
// select, serviced in whatever order they're ready.
func (d *singleConnDriver) run(ctx context.Context) {
	defer close(d.fromHandlerCh)
	// busIngress is deliberately left open: RemoveConn runs later, in the
	// plane's single-threaded loop, once it processes this goroutine's
	// disconnect event, and the bus may still enqueue to it until then.
	// The channel is simply dropped once RemoveConn erases the last
	// reference to it from byConn/byNode.
	defer func() {
		var kind internalEventKind
		if d.direction == ConnIncoming {
			kind = internalIncomingDisconnected
		} else {
			kind = internalOutgoingDisconnected
		}
		d.internalCh <- NetworkPlaneInternalEvent{kind: kind, conn: d.conn, node: d.remoteNodeId}
	}()

	pollCh := make(chan ConnectionEvent)
	pollErrCh := make(chan error, 1)
	go d.pollLoop(ctx, pollCh, pollErrCh)

	done := ctx.Done()
	for {
		select {
		case <-done:
			return
		case tagged, ok := <-d.fromHandlerCh:
			if !ok {
				return
			}
			d.internalCh <- toBehaviourFromHandlerEvent(tagged.serviceId, d.conn, d.remoteNodeId, tagged.event.Payload)
		case ev := <-d.busIngress:
			d.deliverBehaviorEvent(ev.ServiceId, ev.Payload)
		case ev := <-pollCh:
			if ev.Msg != nil {
				h, ok := d.handlers[ev.Msg.Header.ServiceId]
				if ok {
					h.OnMsg(d.agents[ev.Msg.Header.ServiceId], *ev.Msg)
				} else {
					d.internalCh <- toBehaviourLocalMsgEvent(ev.Msg.Header.ServiceId, *ev.Msg)
				}
			}
		case err := <-pollErrCh:
			if d.log != nil {
				d.log.WithError(err).Debug("connection receiver closed")
			}
			return
		}
	}
}

// pollLoop repeatedly blocks on the receiver and forwards each result to
// pollCh, so run's select can treat an inbound wire message as just another
// channel arm alongside handler and bus traffic. It exits on the first
// error or once ctx is cancelled.
func (d *singleConnDriver) pollLoop(ctx context.Context, pollCh chan<- ConnectionEvent, errCh chan<- error) {
	for {
		ev, err := d.receiver.Poll(ctx)
		if err != nil {
			errCh <- err
			return
		}
		select {
		case pollCh <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// deliverBehaviorEvent pushes an event from a behavior down to this
// connection's handler for serviceId, if attached.
func (d *singleConnDriver) deliverBehaviorEvent(serviceId uint8, event any) {
	h, ok := d.handlers[serviceId]
	if !ok {
		return
	}
	h.OnBehaviorEvent(d.agents[serviceId], event)
}

func (d *singleConnDriver) closeAll() {
	for serviceId, h := range d.handlers {
		h.OnClosed(d.agents[serviceId])
	}
}

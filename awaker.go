package meshplane

import "sync/atomic"

// Awaker lets a behavior or handler signal the plane's event loop that it
// has work to do outside the normal recv/tick cadence, without handing out
// a callback closure. A single wake is coalesced: calling Notify any number
// of times between two consumed wakeups only wakes the loop once.
type Awaker interface {
	Notify()
}

// ChanAwaker is the standard Awaker: a buffered signal channel plus a
// pending flag so bursts of Notify calls collapse into a single wakeup.
type ChanAwaker struct {
	ch      chan struct{}
	pending atomic.Bool
}

func NewChanAwaker() *ChanAwaker {
	return &ChanAwaker{ch: make(chan struct{}, 1)}
}

func (a *ChanAwaker) Notify() {
	if a.pending.CompareAndSwap(false, true) {
		a.ch <- struct{}{}
	}
}

// C returns the channel to select on. Consume pairs with a read from C to
// reset the pending flag so a subsequent Notify fires again.
func (a *ChanAwaker) C() <-chan struct{} { return a.ch }

// Consume clears the pending flag after a wakeup has been observed.
func (a *ChanAwaker) Consume() { a.pending.Store(false) }

// NullAwaker discards every Notify; useful for tests and for behaviors that
// never need to awake the loop out of band.
type NullAwaker struct{}

func (NullAwaker) Notify() {}

// planeAwaker is the Awaker the plane hands each registered behavior: a
// Notify funnels an AwakeBehaviour(service_id) event onto the plane's
// internal channel, coalescing a burst of Notify calls into the single
// pending wakeup ChanAwaker promises. Consume, called once the plane has
// actually dispatched OnAwake, reopens the gate for the next Notify.
type planeAwaker struct {
	serviceId  uint8
	internalCh chan<- NetworkPlaneInternalEvent
	pending    atomic.Bool
}

func newPlaneAwaker(serviceId uint8, internalCh chan<- NetworkPlaneInternalEvent) *planeAwaker {
	return &planeAwaker{serviceId: serviceId, internalCh: internalCh}
}

func (a *planeAwaker) Notify() {
	if a.pending.CompareAndSwap(false, true) {
		a.internalCh <- awakeBehaviourEvent(a.serviceId)
	}
}

func (a *planeAwaker) Consume() { a.pending.Store(false) }

package meshplane

import "sync/atomic"

// Metrics tracks plane-wide activity counters. Behaviors and the plane
// loop call Increment* as events occur; a collector reads via Get*.
type Metrics interface {
	IncrementConnectionsOpened()
	IncrementConnectionsClosed()
	IncrementMsgSent()
	IncrementMsgReceived()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)

	GetConnectionsOpened() int64
	GetConnectionsClosed() int64
	GetMsgSent() int64
	GetMsgReceived() int64
	GetBytesSent() int64
	GetBytesReceived() int64
}

// DefaultMetrics implements Metrics with atomic counters, matching the
// teacher's own no-lock counter style.
type DefaultMetrics struct {
	connectionsOpened int64
	connectionsClosed int64
	msgSent           int64
	msgReceived       int64
	bytesSent         int64
	bytesReceived     int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementConnectionsOpened() { atomic.AddInt64(&m.connectionsOpened, 1) }
func (m *DefaultMetrics) IncrementConnectionsClosed() { atomic.AddInt64(&m.connectionsClosed, 1) }
func (m *DefaultMetrics) IncrementMsgSent()           { atomic.AddInt64(&m.msgSent, 1) }
func (m *DefaultMetrics) IncrementMsgReceived()       { atomic.AddInt64(&m.msgReceived, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)     { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }

func (m *DefaultMetrics) GetConnectionsOpened() int64 { return atomic.LoadInt64(&m.connectionsOpened) }
func (m *DefaultMetrics) GetConnectionsClosed() int64 { return atomic.LoadInt64(&m.connectionsClosed) }
func (m *DefaultMetrics) GetMsgSent() int64           { return atomic.LoadInt64(&m.msgSent) }
func (m *DefaultMetrics) GetMsgReceived() int64       { return atomic.LoadInt64(&m.msgReceived) }
func (m *DefaultMetrics) GetBytesSent() int64         { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64     { return atomic.LoadInt64(&m.bytesReceived) }

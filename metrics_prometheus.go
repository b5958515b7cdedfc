package meshplane

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics implements Metrics by exporting each counter through
// prometheus/client_golang, for deployments that already scrape a
// /metrics endpoint rather than polling DefaultMetrics directly.
type PromMetrics struct {
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	msgSent           prometheus.Counter
	msgReceived       prometheus.Counter
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
}

// NewPromMetrics registers a fresh set of plane counters against reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshplane", Name: "connections_opened_total", Help: "connections established, either direction",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshplane", Name: "connections_closed_total", Help: "connections torn down, either direction",
		}),
		msgSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshplane", Name: "messages_sent_total", Help: "TransportMsg values written to the wire",
		}),
		msgReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshplane", Name: "messages_received_total", Help: "TransportMsg values read from the wire",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshplane", Name: "bytes_sent_total", Help: "payload bytes written to the wire",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshplane", Name: "bytes_received_total", Help: "payload bytes read from the wire",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionsOpened, m.connectionsClosed, m.msgSent, m.msgReceived, m.bytesSent, m.bytesReceived)
	}
	return m
}

func (m *PromMetrics) IncrementConnectionsOpened() { m.connectionsOpened.Inc() }
func (m *PromMetrics) IncrementConnectionsClosed() { m.connectionsClosed.Inc() }
func (m *PromMetrics) IncrementMsgSent()           { m.msgSent.Inc() }
func (m *PromMetrics) IncrementMsgReceived()       { m.msgReceived.Inc() }
func (m *PromMetrics) IncrementBytesSent(n int64)     { m.bytesSent.Add(float64(n)) }
func (m *PromMetrics) IncrementBytesReceived(n int64) { m.bytesReceived.Add(float64(n)) }

// Get* methods read each counter's current value back through its
// client_model Write, so callers that want synchronous values (e.g. tests)
// need not scrape /metrics. PromMetrics keeps no totals of its own.
func (m *PromMetrics) GetConnectionsOpened() int64 { return promCounterValue(m.connectionsOpened) }
func (m *PromMetrics) GetConnectionsClosed() int64 { return promCounterValue(m.connectionsClosed) }
func (m *PromMetrics) GetMsgSent() int64           { return promCounterValue(m.msgSent) }
func (m *PromMetrics) GetMsgReceived() int64       { return promCounterValue(m.msgReceived) }
func (m *PromMetrics) GetBytesSent() int64         { return int64(promCounterValue(m.bytesSent)) }
func (m *PromMetrics) GetBytesReceived() int64     { return int64(promCounterValue(m.bytesReceived)) }

func promCounterValue(c prometheus.Counter) int64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

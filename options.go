package meshplane

import "github.com/sirupsen/logrus"

// Option configures a NetworkPlaneConfig before NewNetworkPlane builds the
// plane. Functional options keep the zero-value config usable while
// letting callers override only what they need.
type Option func(*NetworkPlaneConfig)

// WithRouter sets the RouterTable. Defaults to ForceLocalRouter.
func WithRouter(r RouterTable) Option {
	return func(c *NetworkPlaneConfig) { c.Router = r }
}

// WithTickMs sets the plane's tick interval, in milliseconds. Defaults to
// 500ms.
func WithTickMs(ms int) Option {
	return func(c *NetworkPlaneConfig) { c.TickMs = ms }
}

// WithBehavior registers a NetworkBehavior, with an optional per-connection
// handler factory.
func WithBehavior(b NetworkBehavior, handlerFactory func() ConnectionHandler) Option {
	return func(c *NetworkPlaneConfig) {
		c.Behaviors = append(c.Behaviors, b)
		if handlerFactory != nil {
			if c.HandlerFactories == nil {
				c.HandlerFactories = make(map[uint8]func() ConnectionHandler)
			}
			c.HandlerFactories[b.ServiceId()] = handlerFactory
		}
	}
}

// WithMetrics overrides the Metrics implementation. Defaults to
// DefaultMetrics.
func WithMetrics(m Metrics) Option {
	return func(c *NetworkPlaneConfig) { c.Metrics = m }
}

// WithLogger overrides the logrus.Logger used by the plane and every
// behavior/handler that accepts one.
func WithLogger(l *logrus.Logger) Option {
	return func(c *NetworkPlaneConfig) { c.Logger = l }
}

// NewNetworkPlaneConfig builds a NetworkPlaneConfig for nodeId over
// transport, applying opts in order.
func NewNetworkPlaneConfig(nodeId NodeId, transport Transport, opts ...Option) NetworkPlaneConfig {
	cfg := NetworkPlaneConfig{
		NodeId:    nodeId,
		Transport: transport,
		Router:    ForceLocalRouter{},
		TickMs:    500,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

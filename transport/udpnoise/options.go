package udpnoise

import "time"

const (
	// DefaultSteadyPoll is the steady-state polling interval for idle sockets.
	DefaultSteadyPoll = 200 * time.Millisecond
	// DefaultPingInterval is the interval between keep-alive heartbeats.
	DefaultPingInterval = 15 * time.Second
	// DefaultIdleTimeout is how long a session may go without a frame before
	// it's considered dead.
	DefaultIdleTimeout = 45 * time.Second
	// DefaultHandshakeTimeout bounds how long a Noise handshake may take.
	DefaultHandshakeTimeout = 10 * time.Second
)

// Option configures a Config via functional options.
type Option func(*Config)

// Config holds runtime settings for a udpnoise Transport. Listen stores
// it, but nothing in the transport reads it: no keep-alive pings are sent,
// idle sessions are never dropped, handshakes have no time limit, and the
// read loop does not use the poll intervals.
type Config struct {
	fastPoll         time.Duration
	steadyPoll       time.Duration
	pingInterval     time.Duration
	idleTimeout      time.Duration
	handshakeTimeout time.Duration
}

func defaultConfig() *Config {
	return &Config{
		fastPoll:         DefaultFastPoll,
		steadyPoll:       DefaultSteadyPoll,
		pingInterval:     DefaultPingInterval,
		idleTimeout:      DefaultIdleTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
}

func applyConfig(opts ...Option) *Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithFastPoll sets the polling interval used right after activity.
func WithFastPoll(d time.Duration) Option { return func(c *Config) { c.fastPoll = d } }

// WithSteadyPoll sets the polling interval an idle socket backs off to.
func WithSteadyPoll(d time.Duration) Option { return func(c *Config) { c.steadyPoll = d } }

// WithPingInterval sets the keep-alive heartbeat interval.
func WithPingInterval(d time.Duration) Option { return func(c *Config) { c.pingInterval = d } }

// WithIdleTimeout sets how long a session may go silent before it's dropped.
func WithIdleTimeout(d time.Duration) Option { return func(c *Config) { c.idleTimeout = d } }

// WithHandshakeTimeout bounds the Noise handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.handshakeTimeout = d }
}

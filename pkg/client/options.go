package client

import (
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-panelsync/pkg/backoff"
	"github.com/lightforgemedia/go-panelsync/pkg/clock"
	"github.com/lightforgemedia/go-panelsync/pkg/eventbus"
	"github.com/lightforgemedia/go-panelsync/pkg/metrics"
	"github.com/lightforgemedia/go-panelsync/pkg/model"
	"github.com/lightforgemedia/go-panelsync/pkg/ratelimit"
	"github.com/lightforgemedia/go-panelsync/pkg/statecache"
	"github.com/lightforgemedia/go-panelsync/pkg/tracker"
	"github.com/lightforgemedia/go-panelsync/pkg/transport"
)

const (
	defaultKeepaliveInterval = 60 * time.Second
	defaultHealthInterval    = 60 * time.Second
	defaultStaleAfter        = 5 * time.Minute
	defaultSettleDelay       = time.Second
)

type clientConfig struct {
	logger          *slog.Logger
	transport       transport.Transport
	clock           clock.Clock
	metrics         *metrics.Metrics
	instanceID      string
	commandTimeout  time.Duration
	keepalive       time.Duration
	healthInterval  time.Duration
	staleAfter      time.Duration
	settleDelay     time.Duration
	controlInterval time.Duration
	queryInterval   time.Duration
	stateWindow     time.Duration
	stateMaxAge     time.Duration
	backoff         backoff.Policy
	queueLimit      int
	busCapacity     int
	stateQuery      string
	control         []string
}

func defaultConfig() clientConfig {
	return clientConfig{
		logger:          slog.Default(),
		clock:           clock.Real(),
		commandTimeout:  tracker.DefaultTimeout,
		keepalive:       defaultKeepaliveInterval,
		healthInterval:  defaultHealthInterval,
		staleAfter:      defaultStaleAfter,
		settleDelay:     defaultSettleDelay,
		controlInterval: ratelimit.DefaultControlInterval,
		queryInterval:   ratelimit.DefaultQueryInterval,
		stateWindow:     ratelimit.DefaultStateWindow,
		stateMaxAge:     statecache.DefaultMaxAge,
		backoff:         backoff.DefaultPolicy(),
		busCapacity:     eventbus.DefaultCapacity,
		stateQuery:      model.CommandGetSystemState,
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransport replaces the websocket transport.
func WithTransport(t transport.Transport) Option {
	return func(c *clientConfig) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithClock replaces the time source used for every timer.
func WithClock(clk clock.Clock) Option {
	return func(c *clientConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithMetrics records client activity into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *clientConfig) {
		c.metrics = m
	}
}

// WithInstanceID sets the id sent in keepalives. A random id is used
// otherwise.
func WithInstanceID(id string) Option {
	return func(c *clientConfig) {
		c.instanceID = id
	}
}

// WithCommandTimeout sets how long a command may wait for its acknowledgment.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.commandTimeout = d
		}
	}
}

// WithKeepalive sets the ping interval while a connection is open.
func WithKeepalive(interval time.Duration) Option {
	return func(c *clientConfig) {
		if interval > 0 {
			c.keepalive = interval
		}
	}
}

// WithHealthCheck sets how often an open connection is checked and how long
// it may stay silent before it is recycled.
func WithHealthCheck(interval, staleAfter time.Duration) Option {
	return func(c *clientConfig) {
		if interval > 0 {
			c.healthInterval = interval
		}
		if staleAfter > 0 {
			c.staleAfter = staleAfter
		}
	}
}

// WithSettleDelay sets the wait between open and the state refresh.
func WithSettleDelay(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.settleDelay = d
		}
	}
}

// WithRateLimits sets the minimum spacing of control commands and other
// queries, and the throttle window of the primary state query.
func WithRateLimits(control, query, stateWindow time.Duration) Option {
	return func(c *clientConfig) {
		if control > 0 {
			c.controlInterval = control
		}
		if query > 0 {
			c.queryInterval = query
		}
		if stateWindow > 0 {
			c.stateWindow = stateWindow
		}
	}
}

// WithStateMaxAge sets the staleness ceiling of the state cache.
func WithStateMaxAge(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.stateMaxAge = d
		}
	}
}

// WithBackoff sets the reconnect and server-error policy. Zero fields keep
// their defaults.
func WithBackoff(p backoff.Policy) Option {
	return func(c *clientConfig) {
		c.backoff = p
	}
}

// WithQueueLimit caps the outbound queue; 0 means unbounded.
func WithQueueLimit(n int) Option {
	return func(c *clientConfig) {
		if n >= 0 {
			c.queueLimit = n
		}
	}
}

// WithBusCapacity sets the per-subscriber event buffer.
func WithBusCapacity(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.busCapacity = n
		}
	}
}

// WithCommandClasses names the primary state query and the state-changing
// commands. Anything else is rate limited as a query.
func WithCommandClasses(stateQuery string, control ...string) Option {
	return func(c *clientConfig) {
		if stateQuery != "" {
			c.stateQuery = stateQuery
		}
		if len(control) > 0 {
			c.control = append([]string(nil), control...)
		}
	}
}

// Options contains configuration values for NewWithOptions.
type Options struct {
	Logger            *slog.Logger
	Transport         transport.Transport
	Clock             clock.Clock
	Metrics           *metrics.Metrics
	InstanceID        string
	CommandTimeout    time.Duration
	KeepaliveInterval time.Duration
	HealthInterval    time.Duration
	StaleAfter        time.Duration
	SettleDelay       time.Duration
	ControlInterval   time.Duration
	QueryInterval     time.Duration
	StateWindow       time.Duration
	StateMaxAge       time.Duration
	Backoff           backoff.Policy
	QueueLimit        int
	BusCapacity       int
	StateQuery        string
	ControlCommands   []string
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	d := defaultConfig()
	return Options{
		Logger:            d.logger,
		Clock:             d.clock,
		CommandTimeout:    d.commandTimeout,
		KeepaliveInterval: d.keepalive,
		HealthInterval:    d.healthInterval,
		StaleAfter:        d.staleAfter,
		SettleDelay:       d.settleDelay,
		ControlInterval:   d.controlInterval,
		QueryInterval:     d.queryInterval,
		StateWindow:       d.stateWindow,
		StateMaxAge:       d.stateMaxAge,
		Backoff:           d.backoff,
		BusCapacity:       d.busCapacity,
		StateQuery:        d.stateQuery,
		ControlCommands:   []string{model.CommandArmStay, model.CommandArmAway, model.CommandDisarm},
	}
}

// NewWithOptions creates a client from an Options struct.
func NewWithOptions(url string, o Options) (*Client, error) {
	return New(url,
		WithLogger(o.Logger),
		WithTransport(o.Transport),
		WithClock(o.Clock),
		WithMetrics(o.Metrics),
		WithInstanceID(o.InstanceID),
		WithCommandTimeout(o.CommandTimeout),
		WithKeepalive(o.KeepaliveInterval),
		WithHealthCheck(o.HealthInterval, o.StaleAfter),
		WithSettleDelay(o.SettleDelay),
		WithRateLimits(o.ControlInterval, o.QueryInterval, o.StateWindow),
		WithStateMaxAge(o.StateMaxAge),
		WithBackoff(o.Backoff),
		WithQueueLimit(o.QueueLimit),
		WithBusCapacity(o.BusCapacity),
		WithCommandClasses(o.StateQuery, o.ControlCommands...),
	)
}

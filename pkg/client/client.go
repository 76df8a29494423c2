// Package client keeps a session with the command/state service alive,
// delivers commands with acknowledgment tracking and keeps a cached view of
// the system state.
//
// All session state is owned by one goroutine, the loop. Public methods,
// timers and transport events reach it as operations on a channel, so no two
// of them ever run concurrently.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightforgemedia/go-panelsync/pkg/backoff"
	"github.com/lightforgemedia/go-panelsync/pkg/clock"
	"github.com/lightforgemedia/go-panelsync/pkg/eventbus"
	"github.com/lightforgemedia/go-panelsync/pkg/metrics"
	"github.com/lightforgemedia/go-panelsync/pkg/model"
	"github.com/lightforgemedia/go-panelsync/pkg/outbound"
	"github.com/lightforgemedia/go-panelsync/pkg/ratelimit"
	"github.com/lightforgemedia/go-panelsync/pkg/statecache"
	"github.com/lightforgemedia/go-panelsync/pkg/tracker"
	"github.com/lightforgemedia/go-panelsync/pkg/transport"
)

// Status is a point-in-time view of the session, safe to read from any
// goroutine.
type Status struct {
	State    ConnState
	URL      string
	Backoff  backoff.State
	Queued   int
	Deferred int
	Pending  int
}

// Client is a session with the command/state service. Create it with New or
// Connect; release it with Close.
type Client struct {
	cfg     clientConfig
	id      string
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics
	bus     *eventbus.Bus
	cache   *statecache.Cache

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	statusMu sync.RWMutex
	status   Status

	// Everything below is owned by the loop.
	url        string
	state      ConnState
	conn       transport.Conn
	connCancel context.CancelFunc
	gen        uint64
	openedAt   time.Time
	lastRecv   time.Time
	lastPing   time.Time
	lastErr    error
	notified   bool // connection_failed_permanently already published
	settling   bool

	classifier *model.Classifier
	tracker    *tracker.Tracker
	queue      *outbound.Queue
	limiter    *ratelimit.Limiter
	throttle   *ratelimit.StateThrottle
	backoff    *backoff.Backoff

	reconnectTimer *loopTimer
	keepaliveTimer *loopTimer
	healthTimer    *loopTimer
	settleTimer    *loopTimer
	decayTimer     *loopTimer
	limiterTimer   *loopTimer
	flushTimer     *loopTimer
}

// New creates a client for url without connecting.
func New(url string, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrNoURL
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.instanceID == "" {
		cfg.instanceID = uuid.NewString()
	}
	if cfg.transport == nil {
		cfg.transport = transport.NewWebSocket(transport.WithLogger(cfg.logger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		id:         cfg.instanceID,
		logger:     cfg.logger.With("component", "panelsync", "instance", cfg.instanceID),
		clock:      cfg.clock,
		metrics:    cfg.metrics,
		cache:      statecache.New(cfg.stateMaxAge),
		ops:        make(chan func()),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		url:        url,
		state:      StateIdle,
		classifier: model.NewClassifier(cfg.stateQuery, cfg.control...),
		queue:      outbound.New(cfg.queueLimit),
		limiter:    ratelimit.NewLimiter(cfg.controlInterval, cfg.queryInterval),
		throttle:   ratelimit.NewStateThrottle(cfg.stateWindow),
		backoff:    backoff.New(cfg.backoff),
	}
	c.bus = eventbus.New(
		eventbus.WithCapacity(cfg.busCapacity),
		eventbus.WithLogger(c.logger),
		eventbus.WithClock(c.clock.Now),
	)
	c.tracker = tracker.New(c.clock.Now, c.scheduleTimer, cfg.commandTimeout, trackerEvents{c})
	c.refreshStatus()
	c.metrics.ConnState(StateIdle.String(), allStates...)

	go c.run()
	return c, nil
}

// Connect creates a client for url and starts connecting.
func Connect(url string, opts ...Option) (*Client, error) {
	c, err := New(url, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// ID is the instance id sent with keepalives.
func (c *Client) ID() string { return c.id }

func (c *Client) run() {
	defer close(c.done)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.quit:
			return
		}
	}
}

// exec runs fn on the loop and waits for it. It must never be called from
// the loop itself.
func (c *Client) exec(fn func()) error {
	return c.execContext(context.Background(), fn)
}

func (c *Client) execContext(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
		c.refreshStatus()
	}
	select {
	case c.ops <- op:
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClientClosed
		}
	}
}

// post runs fn on the loop without waiting.
func (c *Client) post(fn func()) {
	go func() { _ = c.exec(fn) }()
}

func (c *Client) refreshStatus() {
	s := Status{
		State:    c.state,
		URL:      c.url,
		Backoff:  c.backoff.State(),
		Queued:   c.queue.Len(),
		Deferred: c.limiter.Len(),
		Pending:  c.tracker.Len(),
	}
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// Status returns the session status as of the last loop operation.
func (c *Client) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// ConnState returns the connection lifecycle state.
func (c *Client) ConnState() ConnState { return c.Status().State }

// Backoff returns the reconnect and server-error counters.
func (c *Client) Backoff() backoff.State { return c.Status().Backoff }

// QueueLen is the number of commands waiting for a connection.
func (c *Client) QueueLen() int { return c.Status().Queued }

// Connect starts a connection attempt unless one is open or in flight.
func (c *Client) Connect() error {
	var err error
	if execErr := c.exec(func() { err = c.connect() }); execErr != nil {
		return execErr
	}
	return err
}

// Disconnect closes the connection and cancels every timer. Pending commands
// are resolved as timed out; queued commands are kept for the next session.
func (c *Client) Disconnect() error {
	return c.exec(func() { c.disconnect("client disconnect", false) })
}

// ResetReconnection clears the backoff counters and connects again, even
// after a permanent failure.
func (c *Client) ResetReconnection() error {
	var err error
	if execErr := c.exec(func() { err = c.resetReconnection() }); execErr != nil {
		return execErr
	}
	return err
}

// SetURL changes the service URL. An open or connecting session is
// recycled onto the new URL.
func (c *Client) SetURL(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrNoURL
	}
	var err error
	if execErr := c.exec(func() { err = c.setURL(url) }); execErr != nil {
		return execErr
	}
	return err
}

// SendCommand submits a command and returns its id. While no connection is
// open the command is queued and sent, in submission order, after the next
// open. The primary state query may be answered from cache or dropped, in
// which case the id is empty.
func (c *Client) SendCommand(ctx context.Context, name string) (string, error) {
	return c.SendCommandTo(ctx, name, "")
}

// SendCommandTo is SendCommand for a specific device.
func (c *Client) SendCommandTo(ctx context.Context, name, targetID string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		id  string
		err error
	)
	if execErr := c.execContext(ctx, func() { id, err = c.submit(name, targetID) }); execErr != nil {
		return "", execErr
	}
	return id, err
}

// CachedState returns the cached system state when it is fresh. Otherwise it
// reports false, publishes stale_system_state and asks for a refresh in the
// background.
func (c *Client) CachedState() (statecache.Snapshot, bool) {
	now := c.clock.Now()
	if snap, ok := c.cache.Get(now); ok {
		return snap, true
	}
	c.post(func() { c.staleRead() })
	return statecache.Snapshot{}, false
}

// CurrentMode returns the alarm mode when the cached state is fresh and
// names one.
func (c *Client) CurrentMode() (model.Mode, bool) {
	snap, ok := c.cache.Get(c.clock.Now())
	if !ok || snap.Mode == "" {
		return "", false
	}
	return snap.Mode, true
}

// On registers h for events named name.
func (c *Client) On(name string, h eventbus.Handler) *eventbus.Subscription {
	return c.bus.On(h, name)
}

// Off removes a subscription returned by On.
func (c *Client) Off(sub *eventbus.Subscription) {
	c.bus.Off(sub)
}

// Events returns a channel of the named events, or of every event when no
// name is given, and a func that cancels it.
func (c *Client) Events(names ...string) (<-chan eventbus.Event, func()) {
	if len(names) == 0 {
		names = AllEvents
	}
	return c.bus.Channel(names...)
}

// Close disconnects, stops the loop and shuts the event bus down. It is safe
// to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.exec(func() { c.disconnect("client closed", true) })
		close(c.quit)
		<-c.done
		c.cancel()
		c.bus.Close()
		c.logger.Info("Client closed")
	})
	return nil
}

func (c *Client) publish(name string, payload any) {
	c.bus.Publish(name, payload)
}

func (c *Client) String() string {
	return fmt.Sprintf("client %s (%s)", c.id, c.Status().State)
}

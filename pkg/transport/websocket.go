package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultSendBuffer   = 16
	defaultReadLimit    = 1 << 20 // 1MB
)

// ErrSendBufferFull is returned when the write pump cannot keep up.
var ErrSendBufferFull = errors.New("transport: send buffer full")

type wsConfig struct {
	logger       *slog.Logger
	dialOptions  *websocket.DialOptions
	dialTimeout  time.Duration
	writeTimeout time.Duration
	sendBuffer   int
	readLimit    int64
}

// WebSocket is the production Transport built on github.com/coder/websocket.
type WebSocket struct {
	config wsConfig
}

// Option configures a WebSocket transport.
type Option func(*WebSocket)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *WebSocket) {
		if logger != nil {
			w.config.logger = logger
		}
	}
}

// WithDialOptions replaces the websocket.DialOptions used for every dial.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(w *WebSocket) {
		if opts != nil {
			w.config.dialOptions = opts
		}
	}
}

// WithBearerToken sends an Authorization header on every dial.
func WithBearerToken(token string) Option {
	return func(w *WebSocket) {
		if token == "" {
			return
		}
		if w.config.dialOptions.HTTPHeader == nil {
			w.config.dialOptions.HTTPHeader = http.Header{}
		}
		w.config.dialOptions.HTTPHeader.Set("Authorization", "Bearer "+token)
	}
}

// WithDialTimeout bounds the websocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(w *WebSocket) {
		if d > 0 {
			w.config.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(w *WebSocket) {
		if d > 0 {
			w.config.writeTimeout = d
		}
	}
}

// WithSendBuffer sets how many frames may wait for the write pump.
func WithSendBuffer(n int) Option {
	return func(w *WebSocket) {
		if n > 0 {
			w.config.sendBuffer = n
		}
	}
}

// WithReadLimit caps the size of an inbound frame.
func WithReadLimit(n int64) Option {
	return func(w *WebSocket) {
		if n > 0 {
			w.config.readLimit = n
		}
	}
}

// NewWebSocket returns a websocket transport.
func NewWebSocket(opts ...Option) *WebSocket {
	w := &WebSocket{config: wsConfig{
		logger:       slog.Default(),
		dialOptions:  &websocket.DialOptions{HTTPClient: http.DefaultClient},
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		sendBuffer:   defaultSendBuffer,
		readLimit:    defaultReadLimit,
	}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open validates the URL and dials in the background.
func (w *WebSocket) Open(ctx context.Context, rawURL string, sink Sink) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if sink == nil {
		return nil, &TransportError{URL: rawURL, Err: errors.New("nil sink")}
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		config: w.config,
		url:    rawURL,
		sink:   sink,
		send:   make(chan []byte, w.config.sendBuffer),
		ctx:    connCtx,
		cancel: cancel,
	}
	go c.run()
	return c, nil
}

type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

type wsConn struct {
	config wsConfig
	url    string
	sink   Sink
	send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state connState
	conn  *websocket.Conn
}

func (c *wsConn) run() {
	defer c.cancel()

	dialCtx, dialCancel := context.WithTimeout(c.ctx, c.config.dialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, c.url, c.config.dialOptions)
	dialCancel()
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status: %s)", err, resp.Status)
		}
		if c.setState(stateClosed) != stateClosing {
			c.sink(Event{Kind: EventError, Err: fmt.Errorf("dial %s: %w", c.url, err)})
		}
		c.sink(Event{Kind: EventClose, Code: CloseUnknown})
		return
	}
	conn.SetReadLimit(c.config.readLimit)

	c.mu.Lock()
	if c.state == stateClosing {
		c.mu.Unlock()
		conn.CloseNow()
		c.setState(stateClosed)
		c.sink(Event{Kind: EventClose, Code: CloseNormal})
		return
	}
	c.conn = conn
	c.state = stateOpen
	c.mu.Unlock()

	// The pump must be draining before the open is reported: the sink flushes
	// queued commands through Send.
	go c.writePump(conn)
	c.sink(Event{Kind: EventOpen})
	c.readPump(conn)
}

func (c *wsConn) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			closing := c.setState(stateClosed) == stateClosing
			if !closing && status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway &&
				!errors.Is(err, context.Canceled) {
				c.config.logger.Info("transport: read failed", "url", c.url, "error", err, "status", int(status))
				c.sink(Event{Kind: EventError, Err: err})
			}
			c.sink(Event{Kind: EventClose, Code: int(status)})
			return
		}
		c.sink(Event{Kind: EventMessage, Data: data})
	}
}

func (c *wsConn) writePump(conn *websocket.Conn) {
	for {
		select {
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.config.logger.Info("transport: write failed, dropping connection", "url", c.url, "error", err)
				// Unblocks readPump, which reports the close.
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// setState stores s and returns the previous state.
func (c *wsConn) setState(s connState) connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	if prev != stateClosed {
		c.state = s
	}
	return prev
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return ErrNotOpen
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	prev := c.state
	if prev == stateClosing || prev == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosing
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// Still dialing: abort the handshake, run() reports the close.
		c.cancel()
		return nil
	}
	go func() {
		if err := conn.Close(websocket.StatusCode(code), reason); err != nil {
			c.config.logger.Debug("transport: close handshake failed", "url", c.url, "error", err)
		}
		c.cancel()
	}()
	return nil
}

// Package eventmirror republishes client events to NATS so other processes
// can follow a panel session.
package eventmirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lightforgemedia/go-panelsync/pkg/eventbus"
)

// DefaultPrefix is the subject prefix used when Options.Prefix is empty.
const DefaultPrefix = "panelsync"

// ErrNoPublisher is returned by New when pub is nil.
var ErrNoPublisher = errors.New("eventmirror: publisher is nil")

// Publisher is the subset of *nats.Conn used by the mirror.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source hands out event channels. *client.Client satisfies it.
type Source interface {
	Events(names ...string) (<-chan eventbus.Event, func())
}

// Options configures a NATS-backed mirror.
type Options struct {
	// URL is the NATS server URL. Defaults to nats.DefaultURL.
	URL string

	// Prefix is prepended to every subject: <prefix>.<instance>.<event>.
	Prefix string

	// Instance identifies the panel in subjects and envelopes.
	Instance string

	// ConnectionOptions are passed through to nats.Connect.
	ConnectionOptions []nats.Option

	Logger *slog.Logger
}

// Envelope is the JSON document published for each event.
type Envelope struct {
	Event    string    `json:"event"`
	Instance string    `json:"instance,omitempty"`
	Time     time.Time `json:"time"`
	Payload  any       `json:"payload,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Mirror forwards events from a Source to a Publisher.
type Mirror struct {
	pub      Publisher
	conn     *nats.Conn
	prefix   string
	instance string
	logger   *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// Connect dials NATS and returns a mirror that owns the connection.
func Connect(opts Options) (*Mirror, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connOpts := append([]nats.Option{
		nats.Name("panelsync-" + opts.Instance),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Mirror: NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Mirror: NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}, opts.ConnectionOptions...)

	conn, err := nats.Connect(opts.URL, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	m, err := New(conn, opts.Prefix, opts.Instance, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	m.conn = conn
	return m, nil
}

// New returns a mirror publishing through pub.
func New(pub Publisher, prefix, instance string, logger *slog.Logger) (*Mirror, error) {
	if pub == nil {
		return nil, ErrNoPublisher
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		pub:      pub,
		prefix:   strings.TrimSuffix(prefix, "."),
		instance: instance,
		logger:   logger,
	}, nil
}

// Subject returns the subject an event is published on.
func (m *Mirror) Subject(event string) string {
	if m.instance == "" {
		return m.prefix + "." + event
	}
	return m.prefix + "." + m.instance + "." + event
}

// Publish sends one event.
func (m *Mirror) Publish(ev eventbus.Event) error {
	env := Envelope{Event: ev.Name, Instance: m.instance, Time: ev.Time, Payload: ev.Payload}
	if carrier, ok := ev.Payload.(interface{ Unwrap() error }); ok {
		if err := carrier.Unwrap(); err != nil {
			env.Error = err.Error()
		}
	}
	data, err := json.Marshal(env)
	if err != nil {
		m.failed.Add(1)
		return fmt.Errorf("failed to marshal event %s: %w", ev.Name, err)
	}
	if err := m.pub.Publish(m.Subject(ev.Name), data); err != nil {
		m.failed.Add(1)
		return fmt.Errorf("failed to publish event %s: %w", ev.Name, err)
	}
	m.published.Add(1)
	return nil
}

// Run mirrors events from src until ctx is done or the source closes its
// channel. With no names every event is mirrored.
func (m *Mirror) Run(ctx context.Context, src Source, names ...string) error {
	events, cancel := src.Events(names...)
	defer cancel()

	m.logger.Info("Mirror: started", "prefix", m.prefix, "instance", m.instance)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := m.Publish(ev); err != nil {
				m.logger.Warn("Mirror: publish failed", "event", ev.Name, "error", err)
			}
		}
	}
}

// Stats returns how many events were published and how many failed.
func (m *Mirror) Stats() (published, failed int64) {
	return m.published.Load(), m.failed.Load()
}

// Close flushes and closes the NATS connection when the mirror owns one.
func (m *Mirror) Close() error {
	if m.conn == nil {
		return nil
	}
	if err := m.conn.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		m.logger.Warn("Mirror: flush failed", "error", err)
	}
	m.conn.Close()
	return nil
}

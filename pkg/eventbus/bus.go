// Package eventbus delivers named events to subscribers over cskr/pubsub.
//
// Every subscription is a channel drained by its own goroutine, so a
// subscriber sees events in publish order per name. There is no replay:
// events published before a subscription exists are lost.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cskr/pubsub"
)

// DefaultCapacity is the per-subscription buffer. Publish blocks once an On
// handler falls this far behind, so handlers must not block on the
// publisher. Channel subscribers drop instead.
const DefaultCapacity = 256

// Event is one published occurrence.
type Event struct {
	Name    string
	Payload any
	Time    time.Time
}

// Handler consumes events for a subscription.
type Handler func(Event)

// Subscription is returned by On and passed to Off.
type Subscription struct {
	names   []string
	ch      chan interface{}
	stopped atomic.Bool
}

// Names returns the event names the subscription listens to.
func (s *Subscription) Names() []string { return append([]string(nil), s.names...) }

type busConfig struct {
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Bus.
type Option func(*busConfig)

// WithCapacity sets the per-subscription buffer.
func WithCapacity(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(c *busConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Bus is safe for concurrent use.
type Bus struct {
	cfg busConfig
	ps  *pubsub.PubSub

	mu     sync.RWMutex
	closed bool
}

// New creates a bus.
func New(opts ...Option) *Bus {
	cfg := busConfig{capacity: DefaultCapacity, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	return &Bus{cfg: cfg, ps: pubsub.New(cfg.capacity)}
}

// Publish stamps and delivers an event to every current subscriber of name.
// It is a no-op after Close.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ps.Pub(Event{Name: name, Payload: payload, Time: b.cfg.now()}, name)
}

// On runs h for every event published under any of names until Off is called.
// On a closed bus the returned subscription never fires.
func (b *Bus) On(h Handler, names ...string) *Subscription {
	sub := &Subscription{names: append([]string(nil), names...)}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || len(names) == 0 || h == nil {
		sub.stopped.Store(true)
		return sub
	}
	sub.ch = b.ps.Sub(names...)
	go b.drain(sub, h)
	return sub
}

func (b *Bus) drain(sub *Subscription, h Handler) {
	for msg := range sub.ch {
		if sub.stopped.Load() {
			continue
		}
		ev, ok := msg.(Event)
		if !ok {
			continue
		}
		b.invoke(h, ev)
	}
}

func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.cfg.logger.Error("eventbus: handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h(ev)
}

// Off stops a subscription. Events already buffered for it are discarded. It
// may be called from inside the subscription's own handler.
func (b *Bus) Off(sub *Subscription) {
	if sub == nil || sub.stopped.Swap(true) {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || sub.ch == nil {
		return
	}
	// Unsub must not run on the subscriber's goroutine; pubsub may be
	// blocked delivering to it.
	go b.ps.Unsub(sub.ch, sub.names...)
}

// Channel subscribes to names and returns the events as a channel along with
// a cancel func. The channel is closed after cancel or Close. Events that
// arrive while the channel is full are dropped and logged, so a reader that
// stops never stalls Publish.
func (b *Bus) Channel(names ...string) (<-chan Event, func()) {
	out := make(chan Event, b.cfg.capacity)
	b.mu.RLock()
	if b.closed || len(names) == 0 {
		b.mu.RUnlock()
		close(out)
		return out, func() {}
	}
	ch := b.ps.Sub(names...)
	b.mu.RUnlock()

	go func() {
		defer close(out)
		for msg := range ch {
			ev, ok := msg.(Event)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			default:
				b.cfg.logger.Warn("eventbus: channel subscriber full, dropping event", "event", ev.Name, "capacity", cap(out))
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.RLock()
			defer b.mu.RUnlock()
			if !b.closed {
				go b.ps.Unsub(ch, names...)
			}
		})
	}
	return out, cancel
}

// Close shuts the bus down. Subscriber goroutines exit once their buffers
// are drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}

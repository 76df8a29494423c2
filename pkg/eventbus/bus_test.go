package eventbus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) waitLen(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return c.snapshot()
}

func TestOrderedPerName(t *testing.T) {
	stamp := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	bus := New(WithClock(func() time.Time { return stamp }))
	defer bus.Close()

	var c collector
	bus.On(c.handle, "command_sent")

	for i := 0; i < 50; i++ {
		bus.Publish("command_sent", i)
	}
	bus.Publish("other", "ignored")

	events := c.waitLen(t, 50)
	for i, ev := range events {
		assert.Equal(t, "command_sent", ev.Name)
		assert.Equal(t, i, ev.Payload)
		assert.Equal(t, stamp, ev.Time)
	}
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.Publish("connected", nil)

	var c collector
	bus.On(c.handle, "connected")
	bus.Publish("connected", "second")

	events := c.waitLen(t, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "second", events[0].Payload)
}

func TestOffStopsDelivery(t *testing.T) {
	bus := New()
	defer bus.Close()

	var c collector
	sub := bus.On(c.handle, "pong")
	bus.Publish("pong", 1)
	c.waitLen(t, 1)

	bus.Off(sub)
	bus.Off(sub)
	bus.Publish("pong", 2)

	// A second subscriber proves the later event was published.
	var probe collector
	bus.On(probe.handle, "pong")
	bus.Publish("pong", 3)
	probe.waitLen(t, 1)

	assert.Len(t, c.snapshot(), 1)
}

func TestOffFromInsideHandler(t *testing.T) {
	bus := New(WithCapacity(1))
	defer bus.Close()

	var (
		c   collector
		sub *Subscription
		mu  sync.Mutex
	)
	mu.Lock()
	sub = bus.On(func(ev Event) {
		c.handle(ev)
		mu.Lock()
		s := sub
		mu.Unlock()
		bus.Off(s)
	}, "error")
	mu.Unlock()

	for i := 0; i < 5; i++ {
		bus.Publish("error", i)
	}
	c.waitLen(t, 1)
	assert.Len(t, c.snapshot(), 1)
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := New()
	defer bus.Close()

	var c collector
	bus.On(func(ev Event) {
		if ev.Payload == "boom" {
			panic("boom")
		}
		c.handle(ev)
	}, "system_state")

	bus.Publish("system_state", "boom")
	bus.Publish("system_state", "ok")

	events := c.waitLen(t, 1)
	assert.Equal(t, "ok", events[0].Payload)
}

func TestChannel(t *testing.T) {
	bus := New()

	ch, cancel := bus.Channel("connected", "disconnected")
	bus.Publish("connected", nil)
	bus.Publish("command_ack", nil)
	bus.Publish("disconnected", nil)

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Name)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.ElementsMatch(t, []string{"connected", "disconnected"}, got)

	cancel()
	cancel()
	bus.Close()
	bus.Publish("connected", nil)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestChannelReaderThatStopsDoesNotBlockPublish(t *testing.T) {
	bus := New(WithCapacity(4), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer bus.Close()

	ch, cancel := bus.Channel("state")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish("state", i)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a channel nobody reads")
	}

	ev := <-ch
	assert.Equal(t, 0, ev.Payload, "buffered events are the oldest")
	assert.LessOrEqual(t, len(ch), 3)
}

func TestClosedBus(t *testing.T) {
	bus := New()
	bus.Close()
	bus.Close()

	sub := bus.On(func(Event) { t.Error("handler ran on closed bus") }, "connected")
	bus.Publish("connected", nil)
	bus.Off(sub)

	ch, cancel := bus.Channel("connected")
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

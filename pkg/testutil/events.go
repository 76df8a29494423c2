package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-panelsync/pkg/eventbus"
)

// Recorder collects events from a bus channel.
type Recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
	done   chan struct{}
}

// RecordEvents drains ch in the background until it is closed.
func RecordEvents(ch <-chan eventbus.Event) *Recorder {
	r := &Recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for ev := range ch {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

// All returns every event recorded so far.
func (r *Recorder) All() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Event(nil), r.events...)
}

// Named returns the recorded events called name, in order.
func (r *Recorder) Named(name string) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Count is len(Named(name)).
func (r *Recorder) Count(name string) int { return len(r.Named(name)) }

// Names returns the names of all recorded events, in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

// Wait blocks until at least n events called name were recorded and returns
// them. It fails the test after two seconds.
func (r *Recorder) Wait(t *testing.T, name string, n int) []eventbus.Event {
	t.Helper()
	if err := WaitFor(t, name, 2*time.Second, func() bool { return r.Count(name) >= n }); err != nil {
		t.Fatalf("waiting for %d %q events, have %d: %v", n, name, r.Count(name), err)
	}
	return r.Named(name)
}

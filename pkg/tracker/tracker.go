// Package tracker correlates outgoing commands with their acknowledgments and
// expires the ones that are never acknowledged.
//
// A Tracker is not safe for concurrent use. It is owned by the client loop and
// its timeout callbacks must be scheduled back onto that loop (see Schedule).
package tracker

import (
	"sort"
	"time"

	"github.com/lightforgemedia/go-panelsync/pkg/clock"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

// DefaultTimeout is how long a command may stay unacknowledged.
const DefaultTimeout = 45 * time.Second

// PendingCommand is a transmitted command awaiting acknowledgment.
type PendingCommand struct {
	CommandID  string
	Name       string
	EnqueuedAt time.Time
	RetryCount int
}

// Listener receives the single terminal outcome of every tracked command.
type Listener interface {
	CommandAcked(cmd PendingCommand, ack *wire.CommandAck)
	CommandTimedOut(cmd PendingCommand)
}

// Schedule arms f to run after d. The client supplies one that runs f on its
// loop; tests can pass a clock's AfterFunc directly.
type Schedule func(d time.Duration, f func()) clock.Timer

type entry struct {
	cmd   PendingCommand
	timer clock.Timer
	// gen guards against a timer that fired after the entry was re-armed.
	gen uint64
	seq uint64
}

// Tracker holds at most one PendingCommand per command id.
type Tracker struct {
	now      func() time.Time
	schedule Schedule
	timeout  time.Duration
	listener Listener
	pending  map[string]*entry
	gen      uint64
}

// New creates a tracker. timeout <= 0 selects DefaultTimeout.
func New(now func() time.Time, schedule Schedule, timeout time.Duration, listener Listener) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		now:      now,
		schedule: schedule,
		timeout:  timeout,
		listener: listener,
		pending:  make(map[string]*entry),
	}
}

// Track records a transmitted command and arms its timeout. Tracking an id
// that is already pending re-arms it and counts a retry.
func (t *Tracker) Track(id, name string) PendingCommand {
	t.gen++
	gen := t.gen
	if e, ok := t.pending[id]; ok {
		e.timer.Stop()
		e.cmd.RetryCount++
		e.cmd.EnqueuedAt = t.now()
		e.gen = gen
		e.timer = t.schedule(t.timeout, func() { t.expire(id, gen) })
		return e.cmd
	}
	e := &entry{
		cmd: PendingCommand{CommandID: id, Name: name, EnqueuedAt: t.now()},
		gen: gen,
		seq: gen,
	}
	e.timer = t.schedule(t.timeout, func() { t.expire(id, gen) })
	t.pending[id] = e
	return e.cmd
}

// Acknowledge resolves a pending command. Unknown ids (late or duplicate
// acknowledgments) are ignored and reported as false.
func (t *Tracker) Acknowledge(id string, ack *wire.CommandAck) (PendingCommand, bool) {
	e, ok := t.pending[id]
	if !ok {
		return PendingCommand{}, false
	}
	delete(t.pending, id)
	e.timer.Stop()
	if t.listener != nil {
		t.listener.CommandAcked(e.cmd, ack)
	}
	return e.cmd, true
}

func (t *Tracker) expire(id string, gen uint64) {
	e, ok := t.pending[id]
	if !ok || e.gen != gen {
		return
	}
	delete(t.pending, id)
	if t.listener != nil {
		t.listener.CommandTimedOut(e.cmd)
	}
}

// Settle times out every pending command now, oldest first. It is used when
// the owner cancels its timers.
func (t *Tracker) Settle() []PendingCommand {
	settled := t.Pending()
	for _, cmd := range settled {
		e := t.pending[cmd.CommandID]
		e.timer.Stop()
		delete(t.pending, cmd.CommandID)
		if t.listener != nil {
			t.listener.CommandTimedOut(cmd)
		}
	}
	return settled
}

// IsPending reports whether id awaits acknowledgment.
func (t *Tracker) IsPending(id string) bool {
	_, ok := t.pending[id]
	return ok
}

// Len is the number of pending commands.
func (t *Tracker) Len() int { return len(t.pending) }

// Pending returns a snapshot in the order commands were first tracked.
func (t *Tracker) Pending() []PendingCommand {
	entries := make([]*entry, 0, len(t.pending))
	for _, e := range t.pending {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]PendingCommand, len(entries))
	for i, e := range entries {
		out[i] = e.cmd
	}
	return out
}

// Package outbound buffers commands issued while no connection is open.
package outbound

import "time"

// QueuedCommand is a command waiting for the next open connection. The id is
// assigned when the caller submits it so the caller can correlate later
// events.
type QueuedCommand struct {
	Name      string
	CommandID string
	TargetID  string
	IssuedAt  time.Time
}

// Queue is a FIFO of QueuedCommand. It never reorders and only loses entries
// through Drain or Clear. It is not safe for concurrent use.
type Queue struct {
	items []QueuedCommand
	limit int
}

// New returns a queue holding at most limit commands; limit <= 0 means
// unbounded.
func New(limit int) *Queue {
	return &Queue{limit: limit}
}

// Push appends cmd. It returns false when the queue is full.
func (q *Queue) Push(cmd QueuedCommand) bool {
	if q.limit > 0 && len(q.items) >= q.limit {
		return false
	}
	q.items = append(q.items, cmd)
	return true
}

// Drain removes and returns every queued command in submission order.
func (q *Queue) Drain() []QueuedCommand {
	out := q.items
	q.items = nil
	return out
}

// Requeue puts cmds back at the head of the queue, ahead of anything pushed
// since they were drained.
func (q *Queue) Requeue(cmds []QueuedCommand) {
	if len(cmds) == 0 {
		return
	}
	items := make([]QueuedCommand, 0, len(cmds)+len(q.items))
	items = append(items, cmds...)
	q.items = append(items, q.items...)
}

// Clear discards every queued command and reports how many were dropped.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = nil
	return n
}

// Len is the number of queued commands.
func (q *Queue) Len() int { return len(q.items) }

// Snapshot copies the queue contents.
func (q *Queue) Snapshot() []QueuedCommand {
	out := make([]QueuedCommand, len(q.items))
	copy(out, q.items)
	return out
}

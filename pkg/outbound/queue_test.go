package outbound

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(cmds []QueuedCommand) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Name
	}
	return out
}

func TestQueueKeepsSubmissionOrder(t *testing.T) {
	q := New(0)
	now := time.Now()
	for i, name := range []string{"Arm Away", "Disarm", "GetStatus"} {
		require.True(t, q.Push(QueuedCommand{Name: name, CommandID: name, IssuedAt: now.Add(time.Duration(i))}))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"Arm Away", "Disarm", "GetStatus"}, names(q.Snapshot()))

	drained := q.Drain()
	assert.Equal(t, []string{"Arm Away", "Disarm", "GetStatus"}, names(drained))
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}

func TestQueueRequeueGoesToHead(t *testing.T) {
	q := New(0)
	q.Push(QueuedCommand{Name: "a"})
	q.Push(QueuedCommand{Name: "b"})
	drained := q.Drain()
	q.Push(QueuedCommand{Name: "c"})

	q.Requeue(drained[1:])
	assert.Equal(t, []string{"b", "c"}, names(q.Snapshot()))
}

func TestQueueLimitAndClear(t *testing.T) {
	q := New(2)
	assert.True(t, q.Push(QueuedCommand{Name: "a"}))
	assert.True(t, q.Push(QueuedCommand{Name: "b"}))
	assert.False(t, q.Push(QueuedCommand{Name: "c"}))
	assert.Equal(t, []string{"a", "b"}, names(q.Snapshot()))

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	q := New(0)
	q.Push(QueuedCommand{Name: "a"})
	snap := q.Snapshot()
	snap[0].Name = "changed"
	assert.Equal(t, "a", q.Snapshot()[0].Name)
}

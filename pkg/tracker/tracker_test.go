package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-panelsync/pkg/testutil"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

type recorder struct {
	acked    []PendingCommand
	acks     []*wire.CommandAck
	timedOut []PendingCommand
}

func (r *recorder) CommandAcked(cmd PendingCommand, ack *wire.CommandAck) {
	r.acked = append(r.acked, cmd)
	r.acks = append(r.acks, ack)
}

func (r *recorder) CommandTimedOut(cmd PendingCommand) {
	r.timedOut = append(r.timedOut, cmd)
}

func (r *recorder) terminal() int { return len(r.acked) + len(r.timedOut) }

func newTracker(t *testing.T) (*Tracker, *recorder, *testutil.ManualClock) {
	t.Helper()
	clk := testutil.NewManualClock(time.Time{})
	rec := &recorder{}
	return New(clk.Now, clk.AfterFunc, 0, rec), rec, clk
}

func TestAcknowledgeCarriesName(t *testing.T) {
	tr, rec, clk := newTracker(t)

	start := clk.Now()
	cmd := tr.Track("c1", "Arm Away")
	assert.Equal(t, start, cmd.EnqueuedAt)
	assert.True(t, tr.IsPending("c1"))

	ack := &wire.CommandAck{CommandID: "c1"}
	got, ok := tr.Acknowledge("c1", ack)
	require.True(t, ok)
	assert.Equal(t, "Arm Away", got.Name)

	require.Len(t, rec.acked, 1)
	assert.Equal(t, "Arm Away", rec.acked[0].Name)
	assert.Same(t, ack, rec.acks[0])
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 0, clk.PendingTimers(), "ack must stop the timeout")
}

func TestTimeoutAfterDefault(t *testing.T) {
	tr, rec, clk := newTracker(t)
	tr.Track("c1", "Disarm")

	clk.Advance(DefaultTimeout - time.Millisecond)
	assert.Empty(t, rec.timedOut)

	clk.Advance(time.Millisecond)
	require.Len(t, rec.timedOut, 1)
	assert.Equal(t, "c1", rec.timedOut[0].CommandID)
	assert.False(t, tr.IsPending("c1"))
}

func TestLateAndDuplicateAcksAreSilent(t *testing.T) {
	tr, rec, clk := newTracker(t)

	tr.Track("late", "Arm Stay")
	clk.Advance(DefaultTimeout)
	_, ok := tr.Acknowledge("late", &wire.CommandAck{CommandID: "late"})
	assert.False(t, ok)

	tr.Track("dup", "Disarm")
	_, ok = tr.Acknowledge("dup", &wire.CommandAck{CommandID: "dup"})
	require.True(t, ok)
	_, ok = tr.Acknowledge("dup", &wire.CommandAck{CommandID: "dup"})
	assert.False(t, ok)

	_, ok = tr.Acknowledge("never-tracked", &wire.CommandAck{})
	assert.False(t, ok)

	assert.Len(t, rec.timedOut, 1)
	assert.Len(t, rec.acked, 1)
}

func TestExactlyOneTerminalOutcome(t *testing.T) {
	tr, rec, clk := newTracker(t)

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		tr.Track(id, "GetStatus")
		clk.Advance(time.Second)
	}
	// Ack half of them, some twice.
	for _, id := range []string{"a", "c", "e", "c"} {
		tr.Acknowledge(id, &wire.CommandAck{CommandID: id})
	}
	clk.Advance(time.Hour)
	for _, id := range ids {
		tr.Acknowledge(id, &wire.CommandAck{CommandID: id})
	}

	assert.Equal(t, len(ids), rec.terminal())
	seen := map[string]int{}
	for _, c := range rec.acked {
		seen[c.CommandID]++
	}
	for _, c := range rec.timedOut {
		seen[c.CommandID]++
	}
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "command %s", id)
	}
}

func TestRetrackRearmsAndCountsRetry(t *testing.T) {
	tr, rec, clk := newTracker(t)

	tr.Track("c1", "Arm Away")
	clk.Advance(30 * time.Second)
	cmd := tr.Track("c1", "Arm Away")
	assert.Equal(t, 1, cmd.RetryCount)
	assert.Equal(t, 1, tr.Len())

	// The first deadline has passed; the re-armed one has not.
	clk.Advance(20 * time.Second)
	assert.Empty(t, rec.timedOut)

	clk.Advance(25 * time.Second)
	require.Len(t, rec.timedOut, 1)
	assert.Equal(t, 1, rec.timedOut[0].RetryCount)
}

func TestSettleTimesOutInTrackOrder(t *testing.T) {
	tr, rec, clk := newTracker(t)
	tr.Track("first", "Arm Away")
	tr.Track("second", "Disarm")
	tr.Track("third", "GetSystemState")

	settled := tr.Settle()
	require.Len(t, settled, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{
		rec.timedOut[0].CommandID, rec.timedOut[1].CommandID, rec.timedOut[2].CommandID,
	})
	assert.Equal(t, 0, clk.PendingTimers())

	clk.Advance(time.Hour)
	assert.Len(t, rec.timedOut, 3)
}

func TestCustomTimeout(t *testing.T) {
	clk := testutil.NewManualClock(time.Time{})
	rec := &recorder{}
	tr := New(clk.Now, clk.AfterFunc, 5*time.Second, rec)

	tr.Track("x", "GetStatus")
	clk.Advance(5 * time.Second)
	assert.Len(t, rec.timedOut, 1)
}

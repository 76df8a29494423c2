package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-panelsync/pkg/testutil"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

const (
	testURL   = "ws://panel.test/ws"
	syncEvent = "test.sync"
)

type harness struct {
	t      *testing.T
	clk    *testutil.ManualClock
	tr     *testutil.FakeTransport
	c      *Client
	events *testutil.Recorder
	syncs  int
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clk := testutil.NewManualClock(time.Time{})
	tr := testutil.NewFakeTransport()
	base := []Option{
		WithClock(clk),
		WithTransport(tr),
		WithLogger(testutil.DiscardLogger),
		WithInstanceID("panel-test"),
	}
	c, err := New(testURL, append(base, opts...)...)
	require.NoError(t, err)

	ch, _ := c.bus.Channel(append(append([]string(nil), AllEvents...), syncEvent)...)
	h := &harness{t: t, clk: clk, tr: tr, c: c, events: testutil.RecordEvents(ch)}
	t.Cleanup(func() { _ = c.Close() })
	return h
}

// open connects and accepts the dial, returning the open connection.
func (h *harness) open() *testutil.FakeConn {
	h.t.Helper()
	require.NoError(h.t, h.c.Connect())
	conn := h.tr.Last()
	require.NotNil(h.t, conn)
	conn.Accept()
	require.Equal(h.t, StateOpen, h.c.ConnState())
	return conn
}

// flush waits until every event published so far has been recorded.
func (h *harness) flush() {
	h.t.Helper()
	h.syncs++
	h.c.bus.Publish(syncEvent, h.syncs)
	h.events.Wait(h.t, syncEvent, h.syncs)
}

func (h *harness) send(name string) string {
	h.t.Helper()
	id, err := h.c.SendCommand(context.Background(), name)
	require.NoError(h.t, err)
	return id
}

// advanceUntilDial moves the clock in small steps until a new connection is
// opened and returns how long that took.
func (h *harness) advanceUntilDial(step, limit time.Duration) time.Duration {
	h.t.Helper()
	before := h.tr.Dials()
	var elapsed time.Duration
	for h.tr.Dials() == before {
		if elapsed >= limit {
			h.t.Fatalf("no dial within %v", limit)
		}
		h.clk.Advance(step)
		elapsed += step
	}
	return elapsed
}

func ack(id string, state string) map[string]any {
	m := map[string]any{
		"type":      wire.TypeCommandAck,
		"commandId": id,
		"success":   true,
		"timestamp": "2025-05-10T12:00:00.123456",
	}
	if state != "" {
		m["state"] = state
	}
	return m
}

func commandNames(cmds []*wire.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Command
	}
	return out
}

func commandIDs(cmds []*wire.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.CommandID
	}
	return out
}

var errRefused = errors.New("dial tcp: connection refused")

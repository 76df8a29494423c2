package eventmirror

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-panelsync/pkg/eventbus"
	"github.com/lightforgemedia/go-panelsync/pkg/testutil"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, append([]byte(nil), data...)})
	return nil
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

type busSource struct{ bus *eventbus.Bus }

func (s busSource) Events(names ...string) (<-chan eventbus.Event, func()) {
	if len(names) == 0 {
		names = []string{"connected", "error"}
	}
	return s.bus.Channel(names...)
}

type failure struct {
	Kind string `json:"kind"`
	Err  error  `json:"-"`
}

func (f failure) Unwrap() error { return f.Err }

func TestSubject(t *testing.T) {
	m, err := New(&fakePublisher{}, "", "panel-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "panelsync.panel-1.command_ack", m.Subject("command_ack"))

	m, err = New(&fakePublisher{}, "home.", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "home.connected", m.Subject("connected"))

	_, err = New(nil, "", "", nil)
	assert.ErrorIs(t, err, ErrNoPublisher)
}

func TestPublishEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	m, err := New(pub, "panelsync", "panel-1", testutil.DiscardLogger)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.Publish(eventbus.Event{
		Name:    "error",
		Payload: failure{Kind: "transport", Err: errors.New("connection refused")},
		Time:    at,
	}))

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "panelsync.panel-1.error", msgs[0].subject)

	var env map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].data, &env))
	assert.Equal(t, "error", env["event"])
	assert.Equal(t, "panel-1", env["instance"])
	assert.Equal(t, "connection refused", env["error"])
	assert.Equal(t, map[string]any{"kind": "transport"}, env["payload"])

	ok, failed := m.Stats()
	assert.Equal(t, int64(1), ok)
	assert.Zero(t, failed)
}

func TestPublishFailureIsCounted(t *testing.T) {
	pub := &fakePublisher{err: nats.ErrConnectionClosed}
	m, err := New(pub, "", "", testutil.DiscardLogger)
	require.NoError(t, err)

	err = m.Publish(eventbus.Event{Name: "connected"})
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	_, failed := m.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestRunMirrorsUntilCancelled(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(testutil.DiscardLogger))
	defer bus.Close()
	pub := &fakePublisher{}
	m, err := New(pub, "", "p", testutil.DiscardLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, busSource{bus}) }()

	// Run subscribes asynchronously; keep publishing until the first event lands.
	require.NoError(t, testutil.WaitFor(t, "mirror subscribed", 2*time.Second, func() bool {
		bus.Publish("connected", map[string]int{"generation": 1})
		return len(pub.all()) > 0
	}))
	bus.Publish("ignored", nil)
	bus.Publish("error", failure{Kind: "decode"})
	require.NoError(t, testutil.WaitFor(t, "error mirrored", 2*time.Second, func() bool {
		for _, msg := range pub.all() {
			if msg.subject == "panelsync.p.error" {
				return true
			}
		}
		return false
	}))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	for _, msg := range pub.all() {
		assert.NotEqual(t, "panelsync.p.ignored", msg.subject)
	}
}

func isNATSServerRunning() bool {
	nc, err := nats.Connect(nats.DefaultURL, nats.Timeout(500*time.Millisecond))
	if err != nil {
		return false
	}
	nc.Close()
	return true
}

func TestConnectLive(t *testing.T) {
	if !isNATSServerRunning() {
		t.Skip("Skipping test because no NATS server is running")
	}

	m, err := Connect(Options{Instance: "live", Logger: testutil.DiscardLogger})
	require.NoError(t, err)
	defer m.Close()

	sub, err := nats.Connect(nats.DefaultURL)
	require.NoError(t, err)
	defer sub.Close()
	got := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(m.Subject("connected"), got)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	require.NoError(t, m.Publish(eventbus.Event{Name: "connected", Time: time.Now()}))
	select {
	case msg := <-got:
		assert.Contains(t, string(msg.Data), `"event":"connected"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received from NATS")
	}
}

func TestConnectInvalidURL(t *testing.T) {
	_, err := Connect(Options{URL: "invalid-url", ConnectionOptions: []nats.Option{nats.Timeout(200 * time.Millisecond)}})
	assert.Error(t, err)
}

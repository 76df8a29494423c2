package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-panelsync/pkg/transport"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

var _ transport.Transport = (*FakeTransport)(nil)

// FakeTransport records every Open and hands the test a FakeConn to drive.
type FakeTransport struct {
	mu      sync.Mutex
	conns   []*FakeConn
	openErr error
}

// NewFakeTransport returns an empty fake.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

// FailNextOpen makes the next Open fail synchronously with err.
func (f *FakeTransport) FailNextOpen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// Open implements transport.Transport. Nothing is reported through sink
// until the test calls a FakeConn driver method.
func (f *FakeTransport) Open(_ context.Context, url string, sink transport.Sink) (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr; err != nil {
		f.openErr = nil
		return nil, &transport.TransportError{URL: url, Err: err}
	}
	c := &FakeConn{URL: url, sink: sink}
	f.conns = append(f.conns, c)
	return c, nil
}

// Dials is the number of successful Open calls.
func (f *FakeTransport) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Conn returns the i-th opened connection (0-based).
func (f *FakeTransport) Conn(i int) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.conns) {
		return nil
	}
	return f.conns[i]
}

// Last returns the most recently opened connection.
func (f *FakeTransport) Last() *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// WaitDials waits until at least n connections were opened and returns the
// n-th one.
func (f *FakeTransport) WaitDials(t *testing.T, n int, timeout time.Duration) *FakeConn {
	t.Helper()
	if err := WaitFor(t, fmt.Sprintf("%d dials", n), timeout, func() bool { return f.Dials() >= n }); err != nil {
		t.Fatal(err)
	}
	return f.Conn(n - 1)
}

// FakeConn is a transport.Conn whose lifecycle is driven by the test.
type FakeConn struct {
	URL  string
	sink transport.Sink

	mu        sync.Mutex
	open      bool
	closed    bool
	closeCode int
	sent      [][]byte
	rejects   int
	rejectErr error
}

// Send records data when the connection is open.
func (c *FakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return transport.ErrNotOpen
	}
	if c.rejects > 0 {
		c.rejects--
		return c.rejectErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

// RejectSends makes the next n sends fail with err, as a saturated write
// buffer would.
func (c *FakeConn) RejectSends(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects = n
	c.rejectErr = err
}

// Close records the close. It reports nothing through the sink.
func (c *FakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.open = false
		c.closeCode = code
	}
	return nil
}

// Accept reports EventOpen.
func (c *FakeConn) Accept() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.sink(transport.Event{Kind: transport.EventOpen})
}

// Fail reports a failed dial or a broken connection: EventError then EventClose.
func (c *FakeConn) Fail(err error) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.sink(transport.Event{Kind: transport.EventError, Err: err})
	c.sink(transport.Event{Kind: transport.EventClose, Code: transport.CloseUnknown})
}

// Drop reports a close initiated by the peer.
func (c *FakeConn) Drop(code int) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.sink(transport.Event{Kind: transport.EventClose, Code: code})
}

// Deliver reports an inbound frame.
func (c *FakeConn) Deliver(data []byte) {
	c.sink(transport.Event{Kind: transport.EventMessage, Data: data})
}

// DeliverJSON marshals v and delivers it.
func (c *FakeConn) DeliverJSON(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("FakeConn: marshal %T: %v", v, err)
	}
	c.Deliver(b)
}

// Sent returns a copy of every frame sent so far.
func (c *FakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentCommands decodes the command envelopes sent so far, in order.
func (c *FakeConn) SentCommands() []*wire.Command {
	var out []*wire.Command
	for _, frame := range c.Sent() {
		msg, err := wire.Decode(frame)
		if err != nil {
			continue
		}
		if cmd, ok := msg.(*wire.Command); ok {
			out = append(out, cmd)
		}
	}
	return out
}

// SentKeepalives counts the pings and pongs sent so far.
func (c *FakeConn) SentKeepalives(event string) int {
	n := 0
	for _, frame := range c.Sent() {
		msg, err := wire.Decode(frame)
		if err != nil {
			continue
		}
		if ka, ok := msg.(*wire.Keepalive); ok && ka.Event == event {
			n++
		}
	}
	return n
}

// Closed reports whether the owner closed the connection, and with which code.
func (c *FakeConn) Closed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

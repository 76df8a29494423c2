// Package transport owns one duplex connection at a time and reports its
// lifecycle to the layer above. It never retries and never buffers beyond a
// bounded write queue.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotOpen is returned by Conn.Send when the handle is not open.
var ErrNotOpen = errors.New("transport: connection not open")

// TransportError reports a failure to start opening a connection.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: open %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EventKind enumerates what a connection reports.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is one lifecycle report from a connection.
type Event struct {
	Kind EventKind
	Data []byte // EventMessage
	Err  error  // EventError
	Code int    // EventClose, websocket close status or -1 when unknown
}

// Sink receives the events of one connection, in order. It may block. It is
// never called on the goroutine that called Open or a Conn method.
type Sink func(Event)

// Conn is an opened (or opening) connection handle.
type Conn interface {
	// Send queues one frame. It fails with ErrNotOpen unless the connection
	// has reported EventOpen and not yet closed.
	Send(data []byte) error
	// Close starts closing the connection and returns without waiting.
	Close(code int, reason string) error
}

// Transport opens connections.
type Transport interface {
	// Open starts connecting to url. The outcome is reported through sink:
	// EventOpen on success, EventError then EventClose on failure.
	Open(ctx context.Context, url string, sink Sink) (Conn, error)
}

// Status codes used when closing.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseUnknown   = -1
)

package client

import (
	"encoding/json"
	"time"

	"github.com/lightforgemedia/go-panelsync/pkg/model"
	"github.com/lightforgemedia/go-panelsync/pkg/statecache"
)

// Event names published on the client's bus.
const (
	EventConnected                   = "connected"
	EventDisconnected                = "disconnected"
	EventCommandSent                 = "command_sent"
	EventCommandQueued               = "command_queued"
	EventCommandAck                  = "command_ack"
	EventCommandTimeout              = "command_timeout"
	EventSystemState                 = "system_state"
	EventStaleSystemState            = "stale_system_state"
	EventSystemStateTimeout          = "system_state_timeout"
	EventError                       = "error"
	EventConnectionFailedPermanently = "connection_failed_permanently"
	EventPong                        = "pong"
)

// AllEvents lists every event name the client publishes.
var AllEvents = []string{
	EventConnected,
	EventDisconnected,
	EventCommandSent,
	EventCommandQueued,
	EventCommandAck,
	EventCommandTimeout,
	EventSystemState,
	EventStaleSystemState,
	EventSystemStateTimeout,
	EventError,
	EventConnectionFailedPermanently,
	EventPong,
}

// ConnectedEvent is the payload of EventConnected.
type ConnectedEvent struct {
	URL        string `json:"url"`
	Generation uint64 `json:"generation"`
	Flushed    int    `json:"flushed"`
}

// DisconnectedEvent is the payload of EventDisconnected.
type DisconnectedEvent struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	WasOpen bool   `json:"wasOpen"`
	Err     error  `json:"-"`
}

// Unwrap returns the transport error behind the close, if any.
func (e DisconnectedEvent) Unwrap() error { return e.Err }

// CommandEvent is the payload of EventCommandSent and EventCommandQueued.
type CommandEvent struct {
	CommandID  string      `json:"commandId"`
	Name       string      `json:"name"`
	TargetID   string      `json:"targetId,omitempty"`
	Class      model.Class `json:"class"`
	RetryCount int         `json:"retryCount,omitempty"`
}

// CommandAckEvent is the payload of EventCommandAck. A negative
// acknowledgment has Success false.
type CommandAckEvent struct {
	CommandID  string          `json:"commandId"`
	Name       string          `json:"name"`
	Success    bool            `json:"success"`
	State      json.RawMessage `json:"state,omitempty"`
	Latency    time.Duration   `json:"latency"`
	RetryCount int             `json:"retryCount,omitempty"`
}

// CommandTimeoutEvent is the payload of EventCommandTimeout. Settled is set
// when the command was resolved by Disconnect or Close rather than by its
// timer.
type CommandTimeoutEvent struct {
	CommandID string        `json:"commandId"`
	Name      string        `json:"name"`
	Elapsed   time.Duration `json:"elapsed"`
	Settled   bool          `json:"settled,omitempty"`
}

// SystemStateEvent is the payload of EventSystemState. Source is one of
// "push", "ack", "pong" or "cache".
type SystemStateEvent struct {
	Snapshot statecache.Snapshot `json:"snapshot"`
	Cached   bool                `json:"cached"`
	Source   string              `json:"source"`
}

// StaleStateEvent is the payload of EventStaleSystemState.
type StaleStateEvent struct {
	Last    statecache.Snapshot `json:"last"`
	HasLast bool                `json:"hasLast"`
	Age     time.Duration       `json:"age"`
}

// StateTimeoutEvent is the payload of EventSystemStateTimeout.
type StateTimeoutEvent struct {
	CommandID string `json:"commandId"`
}

// Error kinds carried by ErrorEvent.
const (
	ErrorKindTransport = "transport"
	ErrorKindDecode    = "decode"
	ErrorKindSend      = "send"
)

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Kind string `json:"kind"`
	Err  error  `json:"-"`
}

func (e ErrorEvent) Unwrap() error { return e.Err }

// PermanentFailureEvent is the payload of EventConnectionFailedPermanently.
type PermanentFailureEvent struct {
	Attempts int   `json:"attempts"`
	LastErr  error `json:"-"`
}

func (e PermanentFailureEvent) Unwrap() error { return e.LastErr }

// PongEvent is the payload of EventPong.
type PongEvent struct {
	Latency  time.Duration `json:"latency"`
	HasState bool          `json:"hasState"`
}

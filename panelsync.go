// Package panelsync is the top-level entry point for the control-panel
// session client. It re-exports the types most callers need from pkg/client.
package panelsync

import (
	"github.com/lightforgemedia/go-panelsync/pkg/client"
	"github.com/lightforgemedia/go-panelsync/pkg/eventbus"
	"github.com/lightforgemedia/go-panelsync/pkg/model"
	"github.com/lightforgemedia/go-panelsync/pkg/statecache"
)

// Re-export core types
type (
	Client       = client.Client
	Option       = client.Option
	Options      = client.Options
	Status       = client.Status
	ConnState    = client.ConnState
	Event        = eventbus.Event
	Handler      = eventbus.Handler
	Subscription = eventbus.Subscription
	Snapshot     = statecache.Snapshot
	Mode         = model.Mode
)

// Re-export error types
var (
	ErrClientClosed      = client.ErrClientClosed
	ErrEmptyCommand      = client.ErrEmptyCommand
	ErrPermanentlyFailed = client.ErrPermanentlyFailed
	ErrQueueFull         = client.ErrQueueFull
	ErrNoURL             = client.ErrNoURL
)

// Device commands and the modes they select.
const (
	CommandArmStay        = model.CommandArmStay
	CommandArmAway        = model.CommandArmAway
	CommandDisarm         = model.CommandDisarm
	CommandGetSystemState = model.CommandGetSystemState

	ModeDisarm  = model.ModeDisarm
	ModeArmStay = model.ModeArmStay
	ModeArmAway = model.ModeArmAway
)

// Connection states.
const (
	StateIdle              = client.StateIdle
	StateConnecting        = client.StateConnecting
	StateOpen              = client.StateOpen
	StateClosing           = client.StateClosing
	StatePermanentlyFailed = client.StatePermanentlyFailed
)

// Event names.
const (
	EventConnected                   = client.EventConnected
	EventDisconnected                = client.EventDisconnected
	EventCommandSent                 = client.EventCommandSent
	EventCommandQueued               = client.EventCommandQueued
	EventCommandAck                  = client.EventCommandAck
	EventCommandTimeout              = client.EventCommandTimeout
	EventSystemState                 = client.EventSystemState
	EventStaleSystemState            = client.EventStaleSystemState
	EventSystemStateTimeout          = client.EventSystemStateTimeout
	EventError                       = client.EventError
	EventConnectionFailedPermanently = client.EventConnectionFailedPermanently
	EventPong                        = client.EventPong
)

// New creates a client for url without connecting.
func New(url string, opts ...client.Option) (*client.Client, error) {
	return client.New(url, opts...)
}

// Connect creates a client and starts connecting.
func Connect(url string, opts ...client.Option) (*client.Client, error) {
	return client.Connect(url, opts...)
}

// NewWithOptions creates a client from an Options struct.
func NewWithOptions(url string, o client.Options) (*client.Client, error) {
	return client.NewWithOptions(url, o)
}

// DefaultOptions returns the library defaults.
func DefaultOptions() client.Options {
	return client.DefaultOptions()
}

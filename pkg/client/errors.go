package client

import "errors"

var (
	// ErrClientClosed is returned by every operation after Close.
	ErrClientClosed = errors.New("client: closed")
	// ErrEmptyCommand is returned by SendCommand for a blank command name.
	ErrEmptyCommand = errors.New("client: empty command name")
	// ErrPermanentlyFailed is returned by Connect once the reconnect budget
	// is spent. ResetReconnection clears it.
	ErrPermanentlyFailed = errors.New("client: reconnection permanently failed")
	// ErrQueueFull is returned when an offline command does not fit in the
	// outbound queue.
	ErrQueueFull = errors.New("client: outbound queue full")
	// ErrNoURL is returned by New when no service URL is given.
	ErrNoURL = errors.New("client: no service url")
)

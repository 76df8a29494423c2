// Package wire defines the JSON messages exchanged with the command/state
// service and decodes inbound frames into a closed set of message types.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Discriminator values used on the wire.
const (
	TypeCommandAck  = "command_ack"
	TypeSystemState = "system_state"
	EventPing       = "ping"
	EventPong       = "pong"

	// ServerErrorMessage is what the gateway sends when the backend failed.
	ServerErrorMessage = "Internal server error"
)

// ErrEmptyFrame is returned by Decode for an empty or blank frame.
var ErrEmptyFrame = errors.New("wire: empty frame")

// Message is implemented by every message type in this package.
type Message interface {
	wireMessage()
}

// Command is the outbound command envelope.
type Command struct {
	Command   string    `json:"command"`
	CommandID string    `json:"commandId"`
	TargetID  string    `json:"targetId,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// CommandAck acknowledges a command by id. State is present when the
// acknowledgment carries the resulting system state.
type CommandAck struct {
	CommandID string          `json:"commandId"`
	State     json.RawMessage `json:"state,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	HomeID    string          `json:"homeId,omitempty"`
	Timestamp Timestamp       `json:"timestamp"`
}

// Succeeded reports whether the ack is positive. A missing success flag counts
// as success.
func (a *CommandAck) Succeeded() bool {
	return a.Success == nil || *a.Success
}

// StatePush is an unsolicited system state update.
type StatePush struct {
	State     json.RawMessage `json:"state"`
	Timestamp Timestamp       `json:"timestamp"`
}

// Keepalive is a ping or pong. Pongs sent by the device carry its current
// mode in SystemState.
type Keepalive struct {
	Event       string          `json:"event"`
	SystemState json.RawMessage `json:"systemState,omitempty"`
	HomeID      string          `json:"homeId,omitempty"`
	InstanceID  string          `json:"instanceId,omitempty"`
	Timestamp   Timestamp       `json:"timestamp"`
}

// ServerError is the transient failure notice emitted by the gateway.
type ServerError struct {
	Message string `json:"message"`
}

// Unknown wraps a frame that matched no known shape.
type Unknown struct {
	Raw json.RawMessage
}

func (*Command) wireMessage()     {}
func (*CommandAck) wireMessage()  {}
func (*StatePush) wireMessage()   {}
func (*Keepalive) wireMessage()   {}
func (*ServerError) wireMessage() {}
func (*Unknown) wireMessage()     {}

// MarshalJSON adds the type discriminator.
func (a CommandAck) MarshalJSON() ([]byte, error) {
	type plain CommandAck
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeCommandAck, plain(a)})
}

// MarshalJSON adds the type discriminator.
func (p StatePush) MarshalJSON() ([]byte, error) {
	type plain StatePush
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeSystemState, plain(p)})
}

// frame is the union of every field any message may carry.
type frame struct {
	Type        string          `json:"type"`
	Event       string          `json:"event"`
	Message     string          `json:"message"`
	Command     string          `json:"command"`
	CommandID   string          `json:"commandId"`
	TargetID    string          `json:"targetId"`
	State       json.RawMessage `json:"state"`
	SystemState json.RawMessage `json:"systemState"`
	Success     *bool           `json:"success"`
	HomeID      string          `json:"homeId"`
	InstanceID  string          `json:"instanceId"`
	Timestamp   Timestamp       `json:"timestamp"`
}

// Decode classifies a frame. Frames that parse as JSON but match no known
// shape decode to *Unknown.
func Decode(data []byte) (Message, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFrame
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}

	switch {
	case f.Type == TypeCommandAck:
		return &CommandAck{
			CommandID: f.CommandID,
			State:     nullToNil(f.State),
			Success:   f.Success,
			HomeID:    f.HomeID,
			Timestamp: f.Timestamp,
		}, nil
	case f.Type == TypeSystemState:
		return &StatePush{State: nullToNil(f.State), Timestamp: f.Timestamp}, nil
	case f.Event == EventPing || f.Event == EventPong:
		return &Keepalive{
			Event:       f.Event,
			SystemState: nullToNil(f.SystemState),
			HomeID:      f.HomeID,
			InstanceID:  f.InstanceID,
			Timestamp:   f.Timestamp,
		}, nil
	case IsServerError(f.Message):
		return &ServerError{Message: f.Message}, nil
	case f.Command != "":
		return &Command{
			Command:   f.Command,
			CommandID: f.CommandID,
			TargetID:  f.TargetID,
			Timestamp: f.Timestamp,
		}, nil
	}
	return &Unknown{Raw: append(json.RawMessage(nil), data...)}, nil
}

// Encode marshals a message into a frame.
func Encode(m Message) ([]byte, error) {
	if u, ok := m.(*Unknown); ok {
		return u.Raw, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %T: %w", m, err)
	}
	return b, nil
}

// IsServerError matches the gateway's transient failure text.
func IsServerError(msg string) bool {
	return strings.EqualFold(strings.TrimSpace(msg), ServerErrorMessage)
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

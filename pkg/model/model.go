// Package model holds the command vocabulary and system modes shared by the
// client, the device simulator and the CLI.
package model

import "strings"

// Command names understood by the alarm device.
const (
	CommandArmStay        = "Arm Stay"
	CommandArmAway        = "Arm Away"
	CommandDisarm         = "Disarm"
	CommandGetSystemState = "GetSystemState"
)

// Mode is the alarm system mode reported by the device.
type Mode string

const (
	ModeDisarm  Mode = CommandDisarm
	ModeArmStay Mode = CommandArmStay
	ModeArmAway Mode = CommandArmAway
)

// Valid reports whether m is one of the modes the device can be in.
func (m Mode) Valid() bool {
	switch m {
	case ModeDisarm, ModeArmStay, ModeArmAway:
		return true
	}
	return false
}

// Armed reports whether the mode arms any zone.
func (m Mode) Armed() bool {
	return m == ModeArmStay || m == ModeArmAway
}

// Class decides which rate-limit policy applies to a command.
type Class int

const (
	// ClassQuery is an informational request other than the primary state query.
	ClassQuery Class = iota
	// ClassControl changes device state.
	ClassControl
	// ClassStateQuery is the primary state query, throttled on its own.
	ClassStateQuery
)

func (c Class) String() string {
	switch c {
	case ClassControl:
		return "control"
	case ClassStateQuery:
		return "state_query"
	default:
		return "query"
	}
}

// MarshalText encodes the class by name.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Classifier maps command names to classes.
type Classifier struct {
	control    map[string]struct{}
	stateQuery string
}

// NewClassifier builds a classifier. With no control names the device's mode
// commands are used.
func NewClassifier(stateQuery string, control ...string) *Classifier {
	if stateQuery == "" {
		stateQuery = CommandGetSystemState
	}
	if len(control) == 0 {
		control = []string{CommandArmStay, CommandArmAway, CommandDisarm}
	}
	c := &Classifier{control: make(map[string]struct{}, len(control)), stateQuery: stateQuery}
	for _, name := range control {
		c.control[strings.TrimSpace(name)] = struct{}{}
	}
	return c
}

// Classify returns the class for the command name.
func (c *Classifier) Classify(name string) Class {
	if name == c.stateQuery {
		return ClassStateQuery
	}
	if _, ok := c.control[name]; ok {
		return ClassControl
	}
	return ClassQuery
}

// StateQuery is the name of the primary state query command.
func (c *Classifier) StateQuery() string { return c.stateQuery }

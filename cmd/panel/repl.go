package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lightforgemedia/go-panelsync/pkg/model"
)

type action int

const (
	actionSend action = iota
	actionState
	actionStatus
	actionConnect
	actionDisconnect
	actionReset
	actionURL
	actionHelp
	actionQuit
)

type request struct {
	action  action
	command string
	target  string
	arg     string
}

var errUnknownInput = errors.New("unknown input, type help")

// aliases maps shorthand input to device command names.
var aliases = map[string]string{
	"stay":     model.CommandArmStay,
	"arm stay": model.CommandArmStay,
	"away":     model.CommandArmAway,
	"arm away": model.CommandArmAway,
	"disarm":   model.CommandDisarm,
	"off":      model.CommandDisarm,
	"refresh":  model.CommandGetSystemState,
	"query":    model.CommandGetSystemState,
}

const helpText = `commands:
  stay | away | disarm      change the alarm mode
  refresh                   ask the device for its state
  send <name> [@target]     send any command by name
  state                     print the cached state
  status                    print connection status
  connect | disconnect      open or close the session
  reset                     clear backoff and reconnect
  url <ws-url>              switch to another service URL
  quit`

func parseLine(line string) (request, error) {
	line = strings.TrimSpace(line)
	lower := strings.ToLower(line)
	if name, ok := aliases[lower]; ok {
		return request{action: actionSend, command: name}, nil
	}

	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(word) {
	case "send":
		if rest == "" {
			return request{}, fmt.Errorf("send needs a command name")
		}
		name, target := rest, ""
		if i := strings.LastIndex(rest, " @"); i >= 0 {
			name, target = strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+2:])
		}
		return request{action: actionSend, command: name, target: target}, nil
	case "state":
		return request{action: actionState}, nil
	case "status":
		return request{action: actionStatus}, nil
	case "connect":
		return request{action: actionConnect}, nil
	case "disconnect":
		return request{action: actionDisconnect}, nil
	case "reset":
		return request{action: actionReset}, nil
	case "url":
		if rest == "" {
			return request{}, fmt.Errorf("url needs an address")
		}
		return request{action: actionURL, arg: rest}, nil
	case "help", "?", "":
		return request{action: actionHelp}, nil
	case "quit", "exit":
		return request{action: actionQuit}, nil
	}
	return request{}, errUnknownInput
}

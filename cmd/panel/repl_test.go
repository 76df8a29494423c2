package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-panelsync/pkg/model"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		in   string
		want request
	}{
		{"away", request{action: actionSend, command: model.CommandArmAway}},
		{"  Arm Stay ", request{action: actionSend, command: model.CommandArmStay}},
		{"DISARM", request{action: actionSend, command: model.CommandDisarm}},
		{"refresh", request{action: actionSend, command: model.CommandGetSystemState}},
		{"send Bypass Zone 3", request{action: actionSend, command: "Bypass Zone 3"}},
		{"send Arm Away @garage", request{action: actionSend, command: "Arm Away", target: "garage"}},
		{"url ws://other/ws", request{action: actionURL, arg: "ws://other/ws"}},
		{"status", request{action: actionStatus}},
		{"", request{action: actionHelp}},
		{"exit", request{action: actionQuit}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLine(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	for _, in := range []string{"send", "url", "launch"} {
		_, err := parseLine(in)
		assert.Error(t, err, in)
	}
	_, err := parseLine("launch rockets")
	assert.ErrorIs(t, err, errUnknownInput)
}

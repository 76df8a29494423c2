package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommandAck(t *testing.T) {
	msg, err := Decode([]byte(`{"id":"1","type":"command_ack","commandId":"abc","success":true,"homeId":"720frontrd","state":"Arm Away","timestamp":"2025-05-10T12:00:00.123456"}`))
	require.NoError(t, err)

	ack, ok := msg.(*CommandAck)
	require.True(t, ok, "expected *CommandAck, got %T", msg)
	assert.Equal(t, "abc", ack.CommandID)
	assert.JSONEq(t, `"Arm Away"`, string(ack.State))
	assert.True(t, ack.Succeeded())
	assert.Equal(t, "720frontrd", ack.HomeID)
	assert.Equal(t, time.Date(2025, 5, 10, 12, 0, 0, 123456000, time.UTC), ack.Timestamp.Time)
}

func TestDecodeNegativeAckWithoutState(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"command_ack","commandId":"x","success":false,"state":null}`))
	require.NoError(t, err)

	ack := msg.(*CommandAck)
	assert.False(t, ack.Succeeded())
	assert.Nil(t, ack.State)
	assert.True(t, ack.Timestamp.IsZero())
}

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Message
	}{
		{"state push", `{"type":"system_state","state":{"mode":"Disarm"},"timestamp":1715342400000}`, &StatePush{}},
		{"ping", `{"event":"ping"}`, &Keepalive{}},
		{"pong", `{"event":"pong","systemState":"Disarm"}`, &Keepalive{}},
		{"server error", `{"message": "Internal server error", "connectionId":"c1", "requestId":"r1"}`, &ServerError{}},
		{"server error case", `{"message":"internal server error"}`, &ServerError{}},
		{"command", `{"command":"Arm Stay","commandId":"1","targetId":"home"}`, &Command{}},
		{"unknown", `{"hello":"world"}`, &Unknown{}},
		{"other message", `{"message":"Forbidden"}`, &Unknown{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.IsType(t, tt.want, msg)
		})
	}
}

func TestDecodeStatePushEpochMillis(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"system_state","state":{"mode":"Disarm"},"timestamp":1715342400000}`))
	require.NoError(t, err)
	push := msg.(*StatePush)
	assert.Equal(t, int64(1715342400000), push.Timestamp.UnixMilli())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte("  "))
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Decode([]byte("{not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"command_ack","timestamp":"yesterday"}`))
	assert.Error(t, err)
}

func TestEncodeCommand(t *testing.T) {
	ts := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	b, err := Encode(&Command{Command: "Arm Away", CommandID: "id-1", TargetID: "home", Timestamp: At(ts)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"Arm Away","commandId":"id-1","targetId":"home","timestamp":"2025-05-10T12:00:00Z"}`, string(b))
}

func TestEncodeAckCarriesType(t *testing.T) {
	ok := true
	b, err := Encode(&CommandAck{CommandID: "id-1", Success: &ok, State: json.RawMessage(`"Disarm"`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"command_ack","commandId":"id-1","success":true,"state":"Disarm","timestamp":null}`, string(b))

	msg, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "id-1", msg.(*CommandAck).CommandID)
}

func TestEncodeStatePushCarriesType(t *testing.T) {
	b, err := Encode(&StatePush{State: json.RawMessage(`"Arm Stay"`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"system_state","state":"Arm Stay","timestamp":null}`, string(b))
}

func TestCompact(t *testing.T) {
	assert.Equal(t, `{"mode":"Disarm","zones":[1,2]}`, string(Compact(json.RawMessage("{ \"mode\" : \"Disarm\",\n \"zones\": [1, 2] }"))))
	assert.Equal(t, "{broken", string(Compact(json.RawMessage("{broken"))))
	assert.Nil(t, Compact(nil))
}

func TestNewCommandIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewCommandID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

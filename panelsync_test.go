package panelsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-panelsync/pkg/client"
	"github.com/lightforgemedia/go-panelsync/pkg/testutil"
)

func TestNewRequiresURL(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 45*time.Second, o.CommandTimeout)
	assert.Equal(t, CommandGetSystemState, o.StateQuery)
	assert.ElementsMatch(t, []string{CommandArmStay, CommandArmAway, CommandDisarm}, o.ControlCommands)
}

func TestConnectAgainstDevice(t *testing.T) {
	ds := testutil.NewDeviceServer(t)

	c, err := Connect(ds.WsURL, client.WithLogger(testutil.DiscardLogger), client.WithSettleDelay(time.Hour))
	require.NoError(t, err)
	defer c.Close()

	acks, cancel := c.Events(EventCommandAck)
	defer cancel()

	_, err = c.SendCommand(context.Background(), CommandArmStay)
	require.NoError(t, err)

	select {
	case ev := <-acks:
		assert.True(t, ev.Payload.(client.CommandAckEvent).Success)
	case <-time.After(5 * time.Second):
		t.Fatal("no acknowledgment")
	}
	assert.Equal(t, ModeArmStay, ds.Device.Mode())

	require.NoError(t, c.Close())
	_, err = c.SendCommand(context.Background(), CommandDisarm)
	assert.ErrorIs(t, err, ErrClientClosed)
}

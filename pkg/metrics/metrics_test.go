package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CommandSent("control")
	m.CommandResult(ResultAcked, time.Second)
	m.CommandQueued(1)
	m.QueueDepth(0)
	m.StateQuery("send")
	m.ConnState("open", "idle", "open")
	m.ReconnectScheduled()
	m.ForcedReconnect(ReasonStale)
	m.ServerError()
	m.PermanentFailure()
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommandSent("control")
	m.CommandSent("control")
	m.CommandSent("query")
	m.CommandResult(ResultAcked, 200*time.Millisecond)
	m.CommandResult(ResultTimeout, 45*time.Second)
	m.CommandQueued(3)
	m.ServerError()
	m.ForcedReconnect(ReasonServerErrors)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsSent.WithLabelValues("control")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsSent.WithLabelValues("query")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandResults.WithLabelValues(ResultTimeout)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.serverErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.forcedRecycles.WithLabelValues(ReasonServerErrors)))

	n, err := testutil.GatherAndCount(reg, metricPrefix+"command_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConnStateIsOneHot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	states := []string{"idle", "connecting", "open"}

	m.ConnState("connecting", states...)
	m.ConnState("open", states...)

	expected := `
# HELP panelsync_connection_state 1 for the current connection state, 0 otherwise
# TYPE panelsync_connection_state gauge
panelsync_connection_state{state="connecting"} 0
panelsync_connection_state{state="idle"} 0
panelsync_connection_state{state="open"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), metricPrefix+"connection_state"))
}

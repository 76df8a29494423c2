// Package metrics exposes the client's Prometheus instruments. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "panelsync_"

// Command outcomes.
const (
	ResultAcked   = "acked"
	ResultFailed  = "failed"
	ResultTimeout = "timeout"
)

// Reasons a connection is recycled by the client itself.
const (
	ReasonServerErrors = "server_errors"
	ReasonStale        = "stale"
)

// Metrics holds the instruments registered for one client.
type Metrics struct {
	commandsSent    *prometheus.CounterVec
	commandResults  *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	commandsQueued  prometheus.Counter
	queueDepth      prometheus.Gauge
	stateQueries    *prometheus.CounterVec
	connState       *prometheus.GaugeVec
	reconnects      prometheus.Counter
	forcedRecycles  *prometheus.CounterVec
	serverErrors    prometheus.Counter
	permanentFailed prometheus.Counter
}

// New creates the instruments and registers them with reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_sent_total",
				Help: "Commands written to the connection by class",
			},
			[]string{"class"},
		),
		commandResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Terminal command outcomes by status",
			},
			[]string{"status"},
		),
		commandLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_latency_seconds",
				Help:    "Time from transmission to terminal outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		commandsQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_queued_total",
				Help: "Commands queued while no connection was open",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "outbound_queue_depth",
				Help: "Commands waiting for the next open connection",
			},
		),
		stateQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "state_queries_total",
				Help: "Primary state query requests by decision",
			},
			[]string{"decision"},
		),
		connState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "connection_state",
				Help: "1 for the current connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconnects_scheduled_total",
				Help: "Reconnect attempts scheduled after a failure",
			},
		),
		forcedRecycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "forced_reconnects_total",
				Help: "Connections closed by the client itself by reason",
			},
			[]string{"reason"},
		),
		serverErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "server_errors_total",
				Help: "Internal server error notices received",
			},
		),
		permanentFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "permanent_failures_total",
				Help: "Times the reconnect budget was exhausted",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.commandsSent,
			m.commandResults,
			m.commandLatency,
			m.commandsQueued,
			m.queueDepth,
			m.stateQueries,
			m.connState,
			m.reconnects,
			m.forcedRecycles,
			m.serverErrors,
			m.permanentFailed,
		)
	}
	return m
}

// CommandSent counts a transmitted command of class.
func (m *Metrics) CommandSent(class string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(class).Inc()
}

// CommandResult records a terminal outcome and how long it took.
func (m *Metrics) CommandResult(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commandResults.WithLabelValues(status).Inc()
	if elapsed >= 0 {
		m.commandLatency.WithLabelValues(status).Observe(elapsed.Seconds())
	}
}

// CommandQueued counts an offline submission and sets the queue depth.
func (m *Metrics) CommandQueued(depth int) {
	if m == nil {
		return
	}
	m.commandsQueued.Inc()
	m.queueDepth.Set(float64(depth))
}

// QueueDepth sets the outbound queue depth.
func (m *Metrics) QueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// StateQuery counts a primary state query decision.
func (m *Metrics) StateQuery(decision string) {
	if m == nil {
		return
	}
	m.stateQueries.WithLabelValues(decision).Inc()
}

// ConnState marks current as the active state among all.
func (m *Metrics) ConnState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connState.WithLabelValues(s).Set(v)
	}
}

// ReconnectScheduled counts a scheduled reconnect.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ForcedReconnect counts a connection the client closed itself.
func (m *Metrics) ForcedReconnect(reason string) {
	if m == nil {
		return
	}
	m.forcedRecycles.WithLabelValues(reason).Inc()
}

// ServerError counts a server error notice.
func (m *Metrics) ServerError() {
	if m == nil {
		return
	}
	m.serverErrors.Inc()
}

// PermanentFailure counts an exhausted reconnect budget.
func (m *Metrics) PermanentFailure() {
	if m == nil {
		return
	}
	m.permanentFailed.Inc()
}

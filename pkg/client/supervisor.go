package client

import (
	"context"
	"time"

	"github.com/lightforgemedia/go-panelsync/pkg/clock"
	"github.com/lightforgemedia/go-panelsync/pkg/metrics"
	"github.com/lightforgemedia/go-panelsync/pkg/outbound"
	"github.com/lightforgemedia/go-panelsync/pkg/transport"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

// ConnState is the connection lifecycle state.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StatePermanentlyFailed
)

var allStates = []string{
	StateIdle.String(),
	StateConnecting.String(),
	StateOpen.String(),
	StateClosing.String(),
	StatePermanentlyFailed.String(),
}

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StatePermanentlyFailed:
		return "permanently_failed"
	}
	return "unknown"
}

// flushRetryDelay spaces flush attempts while the transport's send buffer
// is saturated.
const flushRetryDelay = 50 * time.Millisecond

// loopTimer is a clock timer whose callback runs on the loop. Once stopped
// from the loop it never runs, even if the clock already fired it.
type loopTimer struct {
	t       clock.Timer
	stopped bool
}

func (c *Client) after(d time.Duration, f func()) *loopTimer {
	lt := &loopTimer{}
	lt.t = c.clock.AfterFunc(d, func() {
		_ = c.exec(func() {
			if lt.stopped {
				return
			}
			lt.stopped = true
			f()
		})
	})
	return lt
}

// Stop must be called on the loop.
func (lt *loopTimer) Stop() bool {
	if lt == nil || lt.stopped {
		return false
	}
	lt.stopped = true
	lt.t.Stop()
	return true
}

func (c *Client) scheduleTimer(d time.Duration, f func()) clock.Timer {
	return c.after(d, f)
}

func (c *Client) setState(s ConnState) {
	if c.state == s {
		return
	}
	c.logger.Debug("Connection state changed", "from", c.state, "to", s)
	c.state = s
	c.metrics.ConnState(s.String(), allStates...)
}

func (c *Client) connect() error {
	switch c.state {
	case StateConnecting, StateOpen, StateClosing:
		return nil
	case StatePermanentlyFailed:
		return ErrPermanentlyFailed
	}
	c.reconnectTimer.Stop()
	c.reconnectTimer = nil
	return c.dial()
}

// dial opens a new connection generation. Events from older generations are
// ignored from here on.
func (c *Client) dial() error {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.setState(StateConnecting)
	c.logger.Info("Connecting", "url", c.url, "generation", gen, "attempt", c.backoff.State().ReconnectAttempts+1)

	conn, err := c.cfg.transport.Open(ctx, c.url, c.sinkFor(gen))
	if err != nil {
		cancel()
		c.logger.Warn("Connection attempt rejected", "url", c.url, "error", err)
		c.lastErr = err
		c.publish(EventError, ErrorEvent{Kind: ErrorKindTransport, Err: err})
		c.setState(StateIdle)
		c.scheduleReconnect()
		return err
	}
	c.conn = conn
	c.connCancel = cancel
	return nil
}

func (c *Client) sinkFor(gen uint64) transport.Sink {
	return func(ev transport.Event) {
		_ = c.exec(func() { c.handleTransport(gen, ev) })
	}
}

func (c *Client) handleTransport(gen uint64, ev transport.Event) {
	if gen != c.gen || c.conn == nil {
		c.logger.Debug("Ignoring event from previous connection", "event", ev.Kind, "generation", gen)
		return
	}
	switch ev.Kind {
	case transport.EventOpen:
		c.onOpen()
	case transport.EventMessage:
		c.route(ev.Data)
	case transport.EventError:
		c.lastErr = ev.Err
		c.publish(EventError, ErrorEvent{Kind: ErrorKindTransport, Err: ev.Err})
		c.lost(transport.CloseUnknown, "transport error", ev.Err)
	case transport.EventClose:
		c.lost(ev.Code, "connection closed", c.lastErr)
	}
}

func (c *Client) onOpen() {
	if c.state != StateConnecting {
		return
	}
	now := c.clock.Now()
	c.setState(StateOpen)
	c.openedAt = now
	c.lastRecv = now
	c.lastErr = nil
	c.notified = false
	c.backoff.Opened()
	c.decayTimer.Stop()
	c.decayTimer = nil
	c.logger.Info("Connected", "url", c.url, "generation", c.gen)

	c.keepaliveTimer = c.after(c.cfg.keepalive, c.keepalive)
	c.healthTimer = c.after(c.cfg.healthInterval, c.checkHealth)

	flushed := c.flushQueue()
	c.publish(EventConnected, ConnectedEvent{URL: c.url, Generation: c.gen, Flushed: flushed})

	c.settleTimer = c.after(c.cfg.settleDelay, func() {
		c.settleTimer = nil
		if c.state == StateOpen {
			c.requestState(true)
		}
	})
}

// flushQueue hands every queued command to the tracked send path in FIFO
// order. It stops at the first failed send, puts the rest back at the head
// and retries after flushRetryDelay.
func (c *Client) flushQueue() int {
	items := c.queue.Drain()
	for i, q := range items {
		class := c.classifier.Classify(q.Name)
		if err := c.transmit(q.Name, q.CommandID, q.TargetID, class); err != nil {
			c.logger.Warn("Flush interrupted", "sent", i, "remaining", len(items)-i, "error", err)
			c.queue.Requeue(items[i:])
			c.metrics.QueueDepth(c.queue.Len())
			c.scheduleFlush()
			return i
		}
	}
	if len(items) > 0 {
		c.logger.Info("Flushed outbound queue", "count", len(items))
	}
	c.metrics.QueueDepth(c.queue.Len())
	return len(items)
}

// scheduleFlush arms a single pending flush of the outbound queue.
func (c *Client) scheduleFlush() {
	if c.flushTimer != nil || c.state != StateOpen {
		return
	}
	c.flushTimer = c.after(flushRetryDelay, func() {
		c.flushTimer = nil
		if c.state == StateOpen {
			c.flushQueue()
		}
	})
}

// releaseConn detaches the current connection. Later events from it are
// ignored.
func (c *Client) releaseConn(code int, reason string) {
	c.keepaliveTimer.Stop()
	c.healthTimer.Stop()
	c.settleTimer.Stop()
	c.limiterTimer.Stop()
	c.flushTimer.Stop()
	c.keepaliveTimer, c.healthTimer, c.settleTimer, c.limiterTimer = nil, nil, nil, nil
	c.flushTimer = nil

	if c.conn != nil {
		if code != transport.CloseUnknown {
			_ = c.conn.Close(code, reason)
		}
		c.conn = nil
	}
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.gen++
	c.throttle.Reset()
	c.deferToQueue()
}

// deferToQueue moves rate-limited commands into the outbound queue so they
// survive until the next open.
func (c *Client) deferToQueue() {
	for _, it := range c.limiter.Drain() {
		q := outbound.QueuedCommand{Name: it.Name, CommandID: it.CommandID, TargetID: it.TargetID, IssuedAt: it.SubmittedAt}
		if !c.queue.Push(q) {
			c.logger.Warn("Outbound queue full, dropping deferred command", "command", it.Name, "commandId", it.CommandID)
			c.publish(EventError, ErrorEvent{Kind: ErrorKindSend, Err: ErrQueueFull})
			continue
		}
		c.publish(EventCommandQueued, CommandEvent{CommandID: it.CommandID, Name: it.Name, TargetID: it.TargetID, Class: it.Class})
	}
	c.metrics.QueueDepth(c.queue.Len())
}

// lost handles a connection that failed or closed underneath us.
func (c *Client) lost(code int, reason string, err error) {
	wasOpen := c.state == StateOpen
	c.releaseConn(transport.CloseUnknown, "")
	c.setState(StateIdle)
	c.logger.Info("Disconnected", "code", code, "reason", reason, "wasOpen", wasOpen, "error", err)
	c.publish(EventDisconnected, DisconnectedEvent{Code: code, Reason: reason, WasOpen: wasOpen, Err: err})
	c.scheduleReconnect()
}

// recycle closes a connection the client no longer trusts and takes the
// normal reconnect path.
func (c *Client) recycle(reason string) {
	if c.state != StateOpen {
		return
	}
	c.logger.Warn("Recycling connection", "reason", reason)
	c.metrics.ForcedReconnect(reason)
	c.setState(StateClosing)
	c.releaseConn(transport.CloseGoingAway, reason)
	c.setState(StateIdle)
	c.publish(EventDisconnected, DisconnectedEvent{Code: transport.CloseGoingAway, Reason: reason, WasOpen: true})
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	delay, exhausted := c.backoff.Failure()
	attempts := c.backoff.State().ReconnectAttempts
	if exhausted {
		c.setState(StatePermanentlyFailed)
		if !c.notified {
			c.notified = true
			c.logger.Error("Reconnection permanently failed", "attempts", attempts, "error", c.lastErr)
			c.metrics.PermanentFailure()
			c.publish(EventConnectionFailedPermanently, PermanentFailureEvent{Attempts: attempts, LastErr: c.lastErr})
		}
		return
	}
	c.metrics.ReconnectScheduled()
	c.logger.Info("Reconnect scheduled", "delay", delay, "attempt", attempts)
	c.reconnectTimer.Stop()
	c.reconnectTimer = c.after(delay, func() {
		c.reconnectTimer = nil
		if c.state == StateIdle {
			_ = c.dial()
		}
	})
}

// disconnect is the caller-level close. Commands awaiting acknowledgment are
// settled as timed out so each still gets exactly one outcome.
func (c *Client) disconnect(reason string, final bool) {
	wasOpen := c.state == StateOpen
	hadConn := c.conn != nil

	c.reconnectTimer.Stop()
	c.decayTimer.Stop()
	c.reconnectTimer, c.decayTimer = nil, nil

	if hadConn {
		c.setState(StateClosing)
	}
	c.releaseConn(transport.CloseNormal, reason)
	c.settlePending()
	if c.state != StatePermanentlyFailed {
		c.setState(StateIdle)
	}
	if hadConn {
		c.logger.Info("Disconnected by caller", "reason", reason, "queued", c.queue.Len())
		c.publish(EventDisconnected, DisconnectedEvent{Code: transport.CloseNormal, Reason: reason, WasOpen: wasOpen})
	}
	if final {
		c.logger.Debug("Client shutting down", "queued", c.queue.Len())
	}
}

func (c *Client) settlePending() {
	settled := c.tracker.Pending()
	if len(settled) == 0 {
		return
	}
	c.settling = true
	c.tracker.Settle()
	c.settling = false
	c.logger.Info("Settled pending commands", "count", len(settled))
}

func (c *Client) resetReconnection() error {
	c.logger.Info("Reconnection reset", "state", c.state, "attempts", c.backoff.State().ReconnectAttempts)
	c.backoff.Reset()
	c.notified = false
	c.lastErr = nil
	c.reconnectTimer.Stop()
	c.reconnectTimer = nil
	switch c.state {
	case StateOpen, StateConnecting, StateClosing:
		return nil
	}
	c.setState(StateIdle)
	return c.dial()
}

func (c *Client) setURL(url string) error {
	if url == c.url {
		return nil
	}
	c.logger.Info("Service URL changed", "from", c.url, "to", url)
	c.url = url
	switch c.state {
	case StateOpen, StateConnecting:
		wasOpen := c.state == StateOpen
		c.setState(StateClosing)
		c.releaseConn(transport.CloseNormal, "url changed")
		c.setState(StateIdle)
		c.publish(EventDisconnected, DisconnectedEvent{Code: transport.CloseNormal, Reason: "url changed", WasOpen: wasOpen})
		return c.dial()
	case StateIdle:
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
			return c.dial()
		}
	}
	return nil
}

func (c *Client) keepalive() {
	c.keepaliveTimer = nil
	if c.state != StateOpen {
		return
	}
	now := c.clock.Now()
	frame, err := wire.Encode(&wire.Keepalive{Event: wire.EventPing, InstanceID: c.id, Timestamp: wire.At(now)})
	if err == nil {
		err = c.conn.Send(frame)
	}
	if err != nil {
		c.logger.Warn("Keepalive failed", "error", err)
	} else {
		c.lastPing = now
	}
	c.keepaliveTimer = c.after(c.cfg.keepalive, c.keepalive)
}

func (c *Client) checkHealth() {
	c.healthTimer = nil
	if c.state != StateOpen {
		return
	}
	silent := c.clock.Now().Sub(c.lastRecv)
	if silent > c.cfg.staleAfter {
		c.logger.Warn("Connection silent too long", "silent", silent, "ceiling", c.cfg.staleAfter)
		c.recycle(metrics.ReasonStale)
		return
	}
	c.healthTimer = c.after(c.cfg.healthInterval, c.checkHealth)
}

func (c *Client) serverError(msg string) {
	c.metrics.ServerError()
	over := c.backoff.ServerError()
	st := c.backoff.State()
	c.logger.Warn("Server error", "message", msg, "consecutive", st.ConsecutiveServerErrors, "backoff", st.ServerErrorBackoff)

	c.decayTimer.Stop()
	c.decayTimer = c.after(c.backoff.Policy().DecayInterval, c.decayServerErrors)

	if over && c.state == StateOpen {
		c.recycle(metrics.ReasonServerErrors)
	}
}

func (c *Client) decayServerErrors() {
	c.decayTimer = nil
	remaining := c.backoff.Decay()
	st := c.backoff.State()
	c.logger.Debug("Server error pressure decayed", "consecutive", st.ConsecutiveServerErrors, "backoff", st.ServerErrorBackoff)
	if remaining {
		c.decayTimer = c.after(c.backoff.Policy().DecayInterval, c.decayServerErrors)
	}
}

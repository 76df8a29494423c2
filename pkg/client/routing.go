package client

import (
	"github.com/lightforgemedia/go-panelsync/pkg/metrics"
	"github.com/lightforgemedia/go-panelsync/pkg/tracker"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

// route decodes one inbound frame and dispatches it by type.
func (c *Client) route(data []byte) {
	now := c.clock.Now()
	c.lastRecv = now

	msg, err := wire.Decode(data)
	if err != nil {
		c.logger.Warn("Dropping undecodable frame", "error", err, "size", len(data))
		c.publish(EventError, ErrorEvent{Kind: ErrorKindDecode, Err: err})
		return
	}

	switch m := msg.(type) {
	case *wire.CommandAck:
		c.onAck(m)
	case *wire.StatePush:
		if len(m.State) == 0 {
			c.logger.Debug("State push without state")
			return
		}
		snap := c.cache.Put(m.State, now)
		c.publish(EventSystemState, SystemStateEvent{Snapshot: snap, Source: "push"})
	case *wire.Keepalive:
		c.onKeepalive(m)
	case *wire.ServerError:
		c.serverError(m.Message)
	case *wire.Command:
		c.logger.Debug("Ignoring command addressed to the device", "command", m.Command, "commandId", m.CommandID)
	case *wire.Unknown:
		c.logger.Debug("Ignoring unrecognised frame", "frame", string(m.Raw))
	}
}

func (c *Client) onAck(ack *wire.CommandAck) {
	c.throttle.Resolved(ack.CommandID)
	if _, ok := c.tracker.Acknowledge(ack.CommandID, ack); !ok {
		c.logger.Debug("Ignoring late or duplicate acknowledgment", "commandId", ack.CommandID)
		return
	}
	if len(ack.State) > 0 {
		snap := c.cache.Put(ack.State, c.clock.Now())
		c.publish(EventSystemState, SystemStateEvent{Snapshot: snap, Source: "ack"})
	}
}

func (c *Client) onKeepalive(k *wire.Keepalive) {
	now := c.clock.Now()
	switch k.Event {
	case wire.EventPing:
		frame, err := wire.Encode(&wire.Keepalive{Event: wire.EventPong, InstanceID: c.id, Timestamp: wire.At(now)})
		if err == nil && c.conn != nil {
			err = c.conn.Send(frame)
		}
		if err != nil {
			c.logger.Warn("Pong failed", "error", err)
		}
	case wire.EventPong:
		ev := PongEvent{HasState: len(k.SystemState) > 0}
		if !c.lastPing.IsZero() {
			ev.Latency = now.Sub(c.lastPing)
		}
		c.publish(EventPong, ev)
		if ev.HasState {
			snap := c.cache.Put(k.SystemState, now)
			c.publish(EventSystemState, SystemStateEvent{Snapshot: snap, Source: "pong"})
		}
	}
}

// trackerEvents turns tracker outcomes into bus events.
type trackerEvents struct{ c *Client }

func (t trackerEvents) CommandAcked(cmd tracker.PendingCommand, ack *wire.CommandAck) {
	c := t.c
	latency := c.clock.Now().Sub(cmd.EnqueuedAt)
	success := ack.Succeeded()
	result := metrics.ResultAcked
	if !success {
		result = metrics.ResultFailed
		c.logger.Warn("Command rejected", "command", cmd.Name, "commandId", cmd.CommandID)
	}
	c.metrics.CommandResult(result, latency)
	c.publish(EventCommandAck, CommandAckEvent{
		CommandID:  cmd.CommandID,
		Name:       cmd.Name,
		Success:    success,
		State:      ack.State,
		Latency:    latency,
		RetryCount: cmd.RetryCount,
	})
}

func (t trackerEvents) CommandTimedOut(cmd tracker.PendingCommand) {
	c := t.c
	elapsed := c.clock.Now().Sub(cmd.EnqueuedAt)
	c.metrics.CommandResult(metrics.ResultTimeout, elapsed)
	if !c.settling {
		c.logger.Warn("Command timed out", "command", cmd.Name, "commandId", cmd.CommandID, "elapsed", elapsed)
	}
	c.publish(EventCommandTimeout, CommandTimeoutEvent{
		CommandID: cmd.CommandID,
		Name:      cmd.Name,
		Elapsed:   elapsed,
		Settled:   c.settling,
	})
	if cmd.Name == c.classifier.StateQuery() {
		c.throttle.Resolved(cmd.CommandID)
		c.publish(EventSystemStateTimeout, StateTimeoutEvent{CommandID: cmd.CommandID})
	}
}

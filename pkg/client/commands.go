package client

import (
	"github.com/lightforgemedia/go-panelsync/pkg/model"
	"github.com/lightforgemedia/go-panelsync/pkg/outbound"
	"github.com/lightforgemedia/go-panelsync/pkg/ratelimit"
	"github.com/lightforgemedia/go-panelsync/pkg/transport"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

// submit routes one caller command: the primary state query goes through its
// throttle, anything else is queued while offline or rate limited while open.
func (c *Client) submit(name, targetID string) (string, error) {
	class := c.classifier.Classify(name)
	if class == model.ClassStateQuery {
		return c.requestState(false), nil
	}

	now := c.clock.Now()
	id := wire.NewCommandID()
	// While a flush is still draining, new commands line up behind it.
	if c.state != StateOpen || c.queue.Len() > 0 {
		q := outbound.QueuedCommand{Name: name, CommandID: id, TargetID: targetID, IssuedAt: now}
		if !c.queue.Push(q) {
			return "", ErrQueueFull
		}
		c.metrics.CommandQueued(c.queue.Len())
		c.logger.Debug("Command queued", "command", name, "commandId", id, "queued", c.queue.Len(), "state", c.state)
		c.publish(EventCommandQueued, CommandEvent{CommandID: id, Name: name, TargetID: targetID, Class: class})
		c.scheduleFlush()
		return id, nil
	}

	it := ratelimit.Item{Name: name, CommandID: id, TargetID: targetID, Class: class, SubmittedAt: now}
	if !c.limiter.Offer(now, it) {
		c.logger.Debug("Command deferred by rate limit", "command", name, "commandId", id, "class", class)
		c.armLimiter()
		return id, nil
	}
	if err := c.transmit(name, id, targetID, class); err != nil {
		c.requeue(it)
	}
	return id, nil
}

// transmit writes the command and starts tracking it. The frame is written
// first so a failed write leaves nothing tracked.
func (c *Client) transmit(name, id, targetID string, class model.Class) error {
	if c.conn == nil || c.state != StateOpen {
		return transport.ErrNotOpen
	}
	frame, err := wire.Encode(&wire.Command{
		Command:   name,
		CommandID: id,
		TargetID:  targetID,
		Timestamp: wire.At(c.clock.Now()),
	})
	if err != nil {
		return err
	}
	if err := c.conn.Send(frame); err != nil {
		c.logger.Warn("Command send failed", "command", name, "commandId", id, "error", err)
		return err
	}
	pc := c.tracker.Track(id, name)
	c.metrics.CommandSent(class.String())
	c.logger.Debug("Command sent", "command", name, "commandId", id, "retry", pc.RetryCount)
	c.publish(EventCommandSent, CommandEvent{CommandID: id, Name: name, TargetID: targetID, Class: class, RetryCount: pc.RetryCount})
	return nil
}

// requeue puts a command that could not be written into the outbound queue.
func (c *Client) requeue(it ratelimit.Item) {
	q := outbound.QueuedCommand{Name: it.Name, CommandID: it.CommandID, TargetID: it.TargetID, IssuedAt: it.SubmittedAt}
	if !c.queue.Push(q) {
		c.publish(EventError, ErrorEvent{Kind: ErrorKindSend, Err: ErrQueueFull})
		return
	}
	c.metrics.CommandQueued(c.queue.Len())
	c.publish(EventCommandQueued, CommandEvent{CommandID: it.CommandID, Name: it.Name, TargetID: it.TargetID, Class: it.Class})
	c.scheduleFlush()
}

func (c *Client) armLimiter() {
	at, ok := c.limiter.NextAt()
	if !ok {
		return
	}
	c.limiterTimer.Stop()
	d := at.Sub(c.clock.Now())
	if d < 0 {
		d = 0
	}
	c.limiterTimer = c.after(d, c.releaseDeferred)
}

func (c *Client) releaseDeferred() {
	c.limiterTimer = nil
	if c.state != StateOpen {
		return
	}
	for _, it := range c.limiter.Due(c.clock.Now()) {
		if err := c.transmit(it.Name, it.CommandID, it.TargetID, it.Class); err != nil {
			c.requeue(it)
		}
	}
	c.armLimiter()
}

// requestState runs the primary state query through its throttle. It returns
// the id of the query put on the wire, or "" when answered from cache or
// dropped. force skips the throttle window but not an in-flight query.
func (c *Client) requestState(force bool) string {
	now := c.clock.Now()
	fresh := c.cache.Fresh(now)
	decision := c.throttle.Decide(now, fresh, force)
	if decision == ratelimit.Send && c.state != StateOpen {
		// Never queued: serve what we have or drop.
		decision = ratelimit.Drop
		if fresh {
			decision = ratelimit.ServeCached
		}
	}
	c.metrics.StateQuery(decision.String())

	switch decision {
	case ratelimit.ServeCached:
		snap, _ := c.cache.Get(now)
		c.logger.Debug("State query served from cache", "age", snap.Age(now))
		c.publish(EventSystemState, SystemStateEvent{Snapshot: snap, Cached: true, Source: "cache"})
		return ""
	case ratelimit.Drop:
		c.logger.Debug("State query dropped", "inFlight", c.throttle.InFlight(), "state", c.state)
		return ""
	}

	id := wire.NewCommandID()
	if err := c.transmit(c.classifier.StateQuery(), id, "", model.ClassStateQuery); err != nil {
		return ""
	}
	c.throttle.Sent(now, id)
	return id
}

// staleRead runs on the loop after a caller found the cache stale.
func (c *Client) staleRead() {
	now := c.clock.Now()
	if c.cache.Fresh(now) {
		return
	}
	last, ok := c.cache.Last()
	ev := StaleStateEvent{Last: last, HasLast: ok}
	if ok {
		ev.Age = last.Age(now)
	}
	c.publish(EventStaleSystemState, ev)
	c.requestState(false)
}

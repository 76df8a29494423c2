// Package backoff computes reconnect delays and tracks server-error pressure.
package backoff

import (
	"math"
	"time"
)

// Defaults for Policy fields left at zero.
const (
	DefaultBase             = time.Second
	DefaultMaxDelay         = 30 * time.Second
	DefaultFactor           = 1.5
	DefaultMaxAttempts      = 20
	DefaultServerErrorStart = time.Second
	DefaultServerErrorCap   = 30 * time.Second
	DefaultServerErrorLimit = 5
	DefaultDecayInterval    = 30 * time.Second
)

// Policy configures reconnect and server-error backoff.
type Policy struct {
	Base        time.Duration
	MaxDelay    time.Duration
	Factor      float64
	MaxAttempts int

	// ServerErrorStart is the backoff after the first server error; each
	// further error doubles it up to ServerErrorCap.
	ServerErrorStart time.Duration
	ServerErrorCap   time.Duration
	// ServerErrorLimit is how many consecutive server errors are tolerated on
	// an open connection before it is recycled.
	ServerErrorLimit int
	DecayInterval    time.Duration
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		Base:             DefaultBase,
		MaxDelay:         DefaultMaxDelay,
		Factor:           DefaultFactor,
		MaxAttempts:      DefaultMaxAttempts,
		ServerErrorStart: DefaultServerErrorStart,
		ServerErrorCap:   DefaultServerErrorCap,
		ServerErrorLimit: DefaultServerErrorLimit,
		DecayInterval:    DefaultDecayInterval,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.Base {
		p.MaxDelay = p.Base
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.ServerErrorStart <= 0 {
		p.ServerErrorStart = d.ServerErrorStart
	}
	if p.ServerErrorCap <= 0 {
		p.ServerErrorCap = d.ServerErrorCap
	}
	if p.ServerErrorLimit <= 0 {
		p.ServerErrorLimit = d.ServerErrorLimit
	}
	if p.DecayInterval <= 0 {
		p.DecayInterval = d.DecayInterval
	}
	return p
}

// State is the observable backoff bookkeeping.
type State struct {
	ReconnectAttempts       int
	ConsecutiveServerErrors int
	ServerErrorBackoff      time.Duration
}

// Backoff is owned by a single goroutine; it is not safe for concurrent use.
type Backoff struct {
	policy Policy
	state  State
}

// New returns a Backoff for p. Zero fields in p take their defaults.
func New(p Policy) *Backoff {
	return &Backoff{policy: p.withDefaults()}
}

// Policy returns the effective policy.
func (b *Backoff) Policy() Policy { return b.policy }

// State returns a copy of the current counters.
func (b *Backoff) State() State { return b.state }

// Failure records a failed or lost connection. It returns the delay before the
// next attempt, or exhausted=true when no further attempt should be made.
func (b *Backoff) Failure() (delay time.Duration, exhausted bool) {
	b.state.ReconnectAttempts++
	if b.Exhausted() {
		return 0, true
	}
	return b.Delay(), false
}

// Exhausted reports whether the attempt budget is spent.
func (b *Backoff) Exhausted() bool {
	return b.state.ReconnectAttempts >= b.policy.MaxAttempts
}

// Delay is the wait before the next attempt:
// min(MaxDelay, base * Factor^(attempts-1)), where base is raised to the
// current server-error backoff when that is larger.
func (b *Backoff) Delay() time.Duration {
	base := b.policy.Base
	if b.state.ServerErrorBackoff > base {
		base = b.state.ServerErrorBackoff
	}
	n := b.state.ReconnectAttempts - 1
	if n < 0 {
		n = 0
	}
	d := float64(base) * math.Pow(b.policy.Factor, float64(n))
	if d >= float64(b.policy.MaxDelay) {
		return b.policy.MaxDelay
	}
	return time.Duration(d)
}

// Opened records a clean open. All counters return to zero.
func (b *Backoff) Opened() {
	b.state = State{}
}

// Reset clears every counter, as a manual reset does.
func (b *Backoff) Reset() {
	b.state = State{}
}

// ServerError records one server error notice and reports whether the limit
// of consecutive errors has been exceeded.
func (b *Backoff) ServerError() (overLimit bool) {
	b.state.ConsecutiveServerErrors++
	switch {
	case b.state.ServerErrorBackoff <= 0:
		b.state.ServerErrorBackoff = b.policy.ServerErrorStart
	case b.state.ServerErrorBackoff*2 > b.policy.ServerErrorCap:
		b.state.ServerErrorBackoff = b.policy.ServerErrorCap
	default:
		b.state.ServerErrorBackoff *= 2
	}
	return b.state.ConsecutiveServerErrors > b.policy.ServerErrorLimit
}

// Decay halves the server-error backoff and count. A backoff that falls below
// ServerErrorStart is cleared. It reports whether any pressure remains.
func (b *Backoff) Decay() (remaining bool) {
	b.state.ServerErrorBackoff /= 2
	if b.state.ServerErrorBackoff < b.policy.ServerErrorStart {
		b.state.ServerErrorBackoff = 0
	}
	b.state.ConsecutiveServerErrors /= 2
	return b.state.ServerErrorBackoff > 0 || b.state.ConsecutiveServerErrors > 0
}

package ratelimit

import "time"

// Decision is what to do with a primary state query.
type Decision int

const (
	// Send puts the query on the wire.
	Send Decision = iota
	// ServeCached answers from the state cache.
	ServeCached
	// Drop discards the request; one is already in flight and the cache
	// cannot answer it.
	Drop
)

func (d Decision) String() string {
	switch d {
	case ServeCached:
		return "cached"
	case Drop:
		return "drop"
	default:
		return "send"
	}
}

// StateThrottle gates the primary state query. Requests are never queued: a
// newer query supersedes an older one.
type StateThrottle struct {
	window   time.Duration
	lastSent time.Time
	inFlight string
}

// NewStateThrottle returns a throttle with the given window; window <= 0
// selects DefaultStateWindow.
func NewStateThrottle(window time.Duration) *StateThrottle {
	if window <= 0 {
		window = DefaultStateWindow
	}
	return &StateThrottle{window: window}
}

// Decide classifies a request made at now. cacheFresh reports whether the
// state cache currently holds a usable snapshot; a fresh cache answers
// unforced requests before an in-flight query can drop them. force skips the
// window, as the post-open refresh does, but never overrides an in-flight
// query.
func (s *StateThrottle) Decide(now time.Time, cacheFresh, force bool) Decision {
	inWindow := !s.lastSent.IsZero() && now.Sub(s.lastSent) < s.window
	if !force && cacheFresh && (inWindow || s.inFlight != "") {
		return ServeCached
	}
	if s.inFlight != "" {
		return Drop
	}
	return Send
}

// Sent records that the query with id went out at now.
func (s *StateThrottle) Sent(now time.Time, id string) {
	s.lastSent = now
	s.inFlight = id
}

// Resolved clears the in-flight marker when id is the query in flight. It
// reports whether it was.
func (s *StateThrottle) Resolved(id string) bool {
	if id == "" || id != s.inFlight {
		return false
	}
	s.inFlight = ""
	return true
}

// InFlight returns the id of the query awaiting an answer, if any.
func (s *StateThrottle) InFlight() string { return s.inFlight }

// Reset forgets the in-flight query, used when its connection is gone.
func (s *StateThrottle) Reset() { s.inFlight = "" }

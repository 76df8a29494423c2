// Package statecache keeps the most recently observed system state with an
// age ceiling.
package statecache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/lightforgemedia/go-panelsync/pkg/model"
	"github.com/lightforgemedia/go-panelsync/pkg/wire"
)

// DefaultMaxAge is how long an observed state is served as current.
const DefaultMaxAge = 60 * time.Second

// Snapshot is one observation of the system state.
type Snapshot struct {
	// Payload is the state as received, compacted.
	Payload json.RawMessage
	// Mode is set when the payload names a known mode.
	Mode       model.Mode
	ObservedAt time.Time
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration { return now.Sub(s.ObservedAt) }

// Cache is written by one owner and read by many. A read past the maximum
// age reports no state rather than old state.
type Cache struct {
	mu     sync.RWMutex
	maxAge time.Duration
	snap   Snapshot
	have   bool
}

// New returns an empty cache; maxAge <= 0 selects DefaultMaxAge.
func New(maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{maxAge: maxAge}
}

// MaxAge is the staleness ceiling.
func (c *Cache) MaxAge() time.Duration { return c.maxAge }

// Put overwrites the cached state with payload observed at observedAt and
// returns the stored snapshot.
func (c *Cache) Put(payload []byte, observedAt time.Time) Snapshot {
	compact := wire.Compact(payload)
	s := Snapshot{Payload: compact, Mode: ParseMode(compact), ObservedAt: observedAt}
	c.mu.Lock()
	c.snap = s
	c.have = true
	c.mu.Unlock()
	return s
}

// Get returns the cached state if it is no older than the maximum age at now.
func (c *Cache) Get(now time.Time) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.have || now.Sub(c.snap.ObservedAt) > c.maxAge {
		return Snapshot{}, false
	}
	return c.snap, true
}

// Last returns the most recent snapshot regardless of age.
func (c *Cache) Last() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.have
}

// Fresh reports whether Get would succeed at now.
func (c *Cache) Fresh(now time.Time) bool {
	_, ok := c.Get(now)
	return ok
}

// ParseMode extracts a mode from a state payload. The device reports either a
// bare string ("Arm Away") or an object with a mode field.
func ParseMode(payload []byte) model.Mode {
	if len(payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return normalize(s)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"mode", "systemState", "systemMode", "state"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if m := ParseMode(raw); m != "" {
			return m
		}
	}
	return ""
}

func normalize(s string) model.Mode {
	s = strings.TrimSpace(s)
	for _, m := range []model.Mode{model.ModeDisarm, model.ModeArmStay, model.ModeArmAway} {
		if strings.EqualFold(s, string(m)) {
			return m
		}
	}
	return ""
}

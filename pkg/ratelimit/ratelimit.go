// Package ratelimit spaces outgoing commands per class and throttles the
// primary state query.
//
// Nothing here owns a timer. The client asks NextAt when to come back and
// calls Due at that time, so every decision runs on the client loop.
package ratelimit

import (
	"sort"
	"time"

	"github.com/lightforgemedia/go-panelsync/pkg/model"
)

// Default spacing per class.
const (
	DefaultControlInterval = 1000 * time.Millisecond
	DefaultQueryInterval   = 1500 * time.Millisecond
	DefaultStateWindow     = 30 * time.Second
)

// Item is a command waiting for its slot.
type Item struct {
	Name        string
	CommandID   string
	TargetID    string
	Class       model.Class
	SubmittedAt time.Time

	seq uint64
}

type lane struct {
	interval time.Duration
	last     time.Time
	items    []Item
}

func (l *lane) readyAt() time.Time {
	if l.last.IsZero() {
		return time.Time{}
	}
	return l.last.Add(l.interval)
}

// Limiter defers commands that arrive sooner than their class allows. Deferred
// commands keep their submission order within a class. Not safe for
// concurrent use.
type Limiter struct {
	lanes map[model.Class]*lane
	seq   uint64
}

// NewLimiter returns a limiter with the given spacing for control commands and
// for other queries. Non-positive intervals select the defaults.
func NewLimiter(control, query time.Duration) *Limiter {
	if control <= 0 {
		control = DefaultControlInterval
	}
	if query <= 0 {
		query = DefaultQueryInterval
	}
	return &Limiter{lanes: map[model.Class]*lane{
		model.ClassControl: {interval: control},
		model.ClassQuery:   {interval: query},
	}}
}

func (l *Limiter) lane(c model.Class) *lane {
	if ln, ok := l.lanes[c]; ok {
		return ln
	}
	return l.lanes[model.ClassQuery]
}

// Offer admits it at now when its class is idle long enough and nothing of
// that class is already waiting. Otherwise it is deferred and Offer returns
// false.
func (l *Limiter) Offer(now time.Time, it Item) bool {
	l.seq++
	it.seq = l.seq
	ln := l.lane(it.Class)
	if len(ln.items) == 0 && !now.Before(ln.readyAt()) {
		ln.last = now
		return true
	}
	ln.items = append(ln.items, it)
	return false
}

// Due releases the deferred items whose slot has arrived, at most one per
// class, in submission order.
func (l *Limiter) Due(now time.Time) []Item {
	var out []Item
	for _, ln := range l.lanes {
		if len(ln.items) == 0 || now.Before(ln.readyAt()) {
			continue
		}
		out = append(out, ln.items[0])
		ln.items = ln.items[1:]
		ln.last = now
	}
	sortBySeq(out)
	return out
}

// NextAt is the earliest time a deferred item becomes due. ok is false when
// nothing is deferred.
func (l *Limiter) NextAt() (at time.Time, ok bool) {
	for _, ln := range l.lanes {
		if len(ln.items) == 0 {
			continue
		}
		r := ln.readyAt()
		if !ok || r.Before(at) {
			at, ok = r, true
		}
	}
	return at, ok
}

// Drain removes every deferred item, in submission order across classes.
// Spacing history is kept.
func (l *Limiter) Drain() []Item {
	var out []Item
	for _, ln := range l.lanes {
		out = append(out, ln.items...)
		ln.items = nil
	}
	sortBySeq(out)
	return out
}

// Len is the number of deferred items.
func (l *Limiter) Len() int {
	n := 0
	for _, ln := range l.lanes {
		n += len(ln.items)
	}
	return n
}

func sortBySeq(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
}

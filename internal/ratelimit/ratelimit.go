// Package ratelimit implements a sliding-window limiter keyed by actor and
// action kind. Each key keeps the timestamps of its accepted events inside the
// window; an event is accepted while fewer than Limit timestamps remain.
package ratelimit

import (
	"sync"
	"time"
)

// Policy is a named limit: at most Limit events per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Default policies.
var (
	MessagePolicy = Policy{Limit: 30, Window: time.Minute}
	UploadPolicy  = Policy{Limit: 5, Window: 5 * time.Minute}
	LoginPolicy   = Policy{Limit: 5, Window: 5 * time.Minute}
)

type window struct {
	mu     sync.Mutex
	stamps []time.Time
	// dead is set once Sweep has removed the window from the map.
	dead bool
}

// Limiter is safe for concurrent use. Unrelated keys never share a lock.
type Limiter struct {
	keys sync.Map // string -> *window
	now  func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the limiter key of an (actor, action) pair.
func Key(actor, action string) string {
	return actor + "|" + action
}

// Allow records an event for key and reports whether it fits in the window.
// Rejected events are not recorded.
func (l *Limiter) Allow(key string, limit int, win time.Duration) bool {
	if limit <= 0 {
		return false
	}
	for {
		v, _ := l.keys.LoadOrStore(key, &window{})
		w := v.(*window)
		if ok, live := w.record(l.now(), limit, win); live {
			return ok
		}
	}
}

// record reports whether the event fits, and whether w was still live. A dead
// window records nothing; the caller retries on a fresh one.
func (w *window) record(now time.Time, limit int, win time.Duration) (ok, live bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dead {
		return false, false
	}
	w.stamps = prune(w.stamps, now.Add(-win))
	if len(w.stamps) >= limit {
		return false, true
	}
	w.stamps = append(w.stamps, now)
	return true, true
}

// AllowPolicy is Allow for the key of (actor, action) under p.
func (l *Limiter) AllowPolicy(actor, action string, p Policy) bool {
	return l.Allow(Key(actor, action), p.Limit, p.Window)
}

// Sweep drops keys whose newest event is older than idle and returns how many
// were removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	removed := 0
	l.keys.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		defer w.mu.Unlock()
		stale := len(w.stamps) == 0 || !w.stamps[len(w.stamps)-1].After(cutoff)
		if stale && l.keys.CompareAndDelete(k, w) {
			w.dead = true
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	l.keys.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// prune drops timestamps at or before cutoff. stamps is ordered oldest first.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

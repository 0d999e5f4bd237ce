// Package presence tracks which users are connected, through which session,
// and in which room. There is at most one entry per username.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomcast/internal/model"
)

// Registry is the in-memory presence table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*model.Presence
	now     func() time.Time
}

// NewRegistry returns an empty registry. A nil now uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{entries: make(map[string]*model.Presence), now: now}
}

// Register records username as connected through sessionID, placed in the
// default room. An existing entry for the same username is overwritten and
// returned as replaced.
func (r *Registry) Register(username, sessionID string) (p model.Presence, replaced *model.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[username]; ok {
		prev := *old
		replaced = &prev
	}
	now := r.now()
	entry := &model.Presence{
		Username:     username,
		SessionID:    sessionID,
		Room:         model.DefaultRoom,
		JoinTime:     now,
		LastActivity: now,
	}
	r.entries[username] = entry
	return *entry, replaced
}

// Unregister removes the entry of username if it still belongs to sessionID.
// An empty sessionID removes the entry unconditionally. It reports whether an
// entry was removed.
func (r *Registry) Unregister(username, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[username]
	if !ok {
		return false
	}
	if sessionID != "" && p.SessionID != sessionID {
		return false
	}
	delete(r.entries, username)
	return true
}

// SetRoom moves username to room and refreshes its activity time.
func (r *Registry) SetRoom(username, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[username]
	if !ok {
		return false
	}
	p.Room = room
	p.LastActivity = r.now()
	return true
}

// Touch refreshes the activity time of username.
func (r *Registry) Touch(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.entries[username]; ok {
		p.LastActivity = r.now()
	}
}

// Get returns a copy of the entry of username.
func (r *Registry) Get(username string) (model.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.entries[username]
	if !ok {
		return model.Presence{}, false
	}
	return *p, true
}

// IsOnline reports whether username has a live entry.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[username]
	return ok
}

// ListActive returns the connected usernames in lexical order.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Expired returns the entries idle for longer than maxIdle. They are not removed.
func (r *Registry) Expired(maxIdle time.Duration) []model.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-maxIdle)
	var out []model.Presence
	for _, p := range r.entries {
		if p.LastActivity.Before(cutoff) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

package store

import (
	"sort"
	"time"

	"github.com/Tyrowin/roomcast/internal/model"
)

// UserUpdate carries the optional profile fields to change.
type UserUpdate struct {
	Status   *string
	Bio      *string
	IsAdmin  *bool
	LastSeen *time.Time
}

// CreateUser registers a new user with default preferences and zero stats.
func (s *Store) CreateUser(u model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Users[u.Username]; ok {
		return nil, ErrUserExists
	}
	if u.JoinDate.IsZero() {
		u.JoinDate = s.now()
	}
	s.commit(&createUser{User: u, Prefs: model.DefaultPreferences()})
	return s.doc.Users[u.Username].Clone(), nil
}

// EnsureUser returns the user, creating a bare account first if the name is
// unknown. created reports whether a new account was made.
func (s *Store) EnsureUser(username string) (u *model.User, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.doc.Users[username]; ok {
		return existing.Clone(), false
	}
	s.commit(&createUser{
		User:  model.User{Username: username, JoinDate: s.now()},
		Prefs: model.DefaultPreferences(),
	})
	return s.doc.Users[username].Clone(), true
}

// GetUser returns a copy of the user.
func (s *Store) GetUser(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.doc.Users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

// UserExists reports whether username is registered.
func (s *Store) UserExists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.Users[username]
	return ok
}

// ListUsers returns every user sorted by username.
func (s *Store) ListUsers() []*model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.User, 0, len(s.doc.Users))
	for _, u := range s.doc.Users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// UpdateUser applies the non-nil fields of upd.
func (s *Store) UpdateUser(username string, upd UserUpdate) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Users[username]; !ok {
		return nil, ErrUserNotFound
	}
	s.commit(&updateUser{
		Username: username,
		Status:   upd.Status,
		Bio:      upd.Bio,
		IsAdmin:  upd.IsAdmin,
		LastSeen: upd.LastSeen,
	})
	return s.doc.Users[username].Clone(), nil
}

// SetBlocked adds target to (or removes it from) the block list of username.
func (s *Store) SetBlocked(username, target string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Users[username]; !ok {
		return ErrUserNotFound
	}
	if _, ok := s.doc.Users[target]; !ok {
		return ErrUserNotFound
	}
	s.commit(&blockUser{Username: username, Target: target, Block: blocked})
	return nil
}

// RecordLogin bumps the login counter and the last-seen time.
func (s *Store) RecordLogin(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(&recordLogin{Username: username, At: s.now()})
}

// MarkRead stores the time username last read room.
func (s *Store) MarkRead(username, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Users[username]; !ok {
		return ErrUserNotFound
	}
	s.commit(&markRead{Username: username, Room: room, At: s.now()})
	return nil
}

// Preferences returns the stored preferences, or the defaults if none exist.
func (s *Store) Preferences(username string) model.Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.doc.UserPreferences[username]; ok {
		return p
	}
	return model.DefaultPreferences()
}

// UpdatePreferences replaces the preferences of username.
func (s *Store) UpdatePreferences(username string, prefs model.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Users[username]; !ok {
		return ErrUserNotFound
	}
	s.commit(&updatePrefs{Username: username, Prefs: prefs})
	return nil
}

// Stats returns a copy of the counters of username; zero if none recorded.
func (s *Store) Stats(username string) model.UserStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.doc.UserStats[username]; ok {
		return *st
	}
	return model.UserStats{}
}

// IncrementMessageCount counts one sent message for username.
func (s *Store) IncrementMessageCount(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(&countMessage{Username: username, At: s.now()})
}

// Ban adds username to the ban list. Banning twice is a no-op.
func (s *Store) Ban(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.isBanned(username) {
		return
	}
	s.commit(&setBan{Username: username, Banned: true})
}

// Unban removes username from the ban list and reports whether it was there.
func (s *Store) Unban(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.doc.isBanned(username) {
		return false
	}
	s.commit(&setBan{Username: username, Banned: false})
	return true
}

// IsBanned reports whether username is on the ban list.
func (s *Store) IsBanned(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.isBanned(username)
}

// BannedUsers returns a copy of the ban list.
func (s *Store) BannedUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.doc.BannedUsers...)
}

package store

import (
	"sort"

	"github.com/Tyrowin/roomcast/internal/model"
)

// CreateRoom stores a new room. The creator becomes its first member.
func (s *Store) CreateRoom(r model.Room) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Rooms[r.ID]; ok {
		return nil, ErrRoomExists
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.Members == nil {
		r.Members = []string{}
	}
	if r.CreatedBy != "" {
		r.Members = setMember(r.Members, r.CreatedBy, true)
	}
	s.commit(&createRoom{Room: r})
	return s.doc.Rooms[r.ID].Clone(), nil
}

// GetRoom returns a copy of the room.
func (s *Store) GetRoom(id string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.doc.Rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.Clone(), nil
}

// RoomExists reports whether a room with id exists.
func (s *Store) RoomExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.Rooms[id]
	return ok
}

// ListRooms returns every room sorted by id.
func (s *Store) ListRooms() []*model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Room, 0, len(s.doc.Rooms))
	for _, r := range s.doc.Rooms {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddRoomMember records username as a member of room.
func (s *Store) AddRoomMember(roomID, username string) error {
	return s.setRoomMember(roomID, username, true)
}

// RemoveRoomMember drops username from the members of room.
func (s *Store) RemoveRoomMember(roomID, username string) error {
	return s.setRoomMember(roomID, username, false)
}

func (s *Store) setRoomMember(roomID, username string, join bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.doc.Rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	isMember := false
	for _, m := range r.Members {
		if m == username {
			isMember = true
			break
		}
	}
	if isMember == join {
		return nil
	}
	s.commit(&roomMember{RoomID: roomID, Username: username, Join: join})
	return nil
}

// Package model defines the chat entities owned by the store and exchanged
// with the coordinator and the wire protocol.
package model

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Message types.
const (
	MessageText = "text"
	MessageFile = "file"
	MessagePoll = "poll"
)

// DefaultRoom is the room every new session is placed in.
const DefaultRoom = "general"

// User is a registered account. Username never changes after creation.
type User struct {
	Username     string               `json:"username"`
	PasswordHash string               `json:"password_hash,omitempty"`
	JoinDate     time.Time            `json:"join_date"`
	LastSeen     time.Time            `json:"last_seen,omitempty"`
	IsAdmin      bool                 `json:"is_admin"`
	Status       string               `json:"status,omitempty"`
	Bio          string               `json:"bio,omitempty"`
	Blocked      []string             `json:"blocked,omitempty"`
	CreatedRooms []string             `json:"created_rooms,omitempty"`
	LastRead     map[string]time.Time `json:"last_read,omitempty"`
}

// HasBlocked reports whether u has blocked other.
func (u *User) HasBlocked(other string) bool {
	for _, b := range u.Blocked {
		if b == other {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Blocked = append([]string(nil), u.Blocked...)
	c.CreatedRooms = append([]string(nil), u.CreatedRooms...)
	if u.LastRead != nil {
		c.LastRead = make(map[string]time.Time, len(u.LastRead))
		for k, v := range u.LastRead {
			c.LastRead[k] = v
		}
	}
	return &c
}

// Presence is the live session metadata of a connected user.
type Presence struct {
	Username     string    `json:"username"`
	SessionID    string    `json:"session_id"`
	Room         string    `json:"room"`
	JoinTime     time.Time `json:"join_time"`
	LastActivity time.Time `json:"last_activity"`
}

// Room is a named broadcast channel. ID is derived from Name once and is immutable.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Members     []string  `json:"members"`
}

// Clone returns a deep copy of r.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Members = append([]string{}, r.Members...)
	return &c
}

// RoomID derives the room identifier from a display name.
func RoomID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Poll is carried as the payload of a poll message. Votes maps every option to
// the users currently voting for it.
type Poll struct {
	ID        string              `json:"id"`
	Question  string              `json:"question"`
	Options   []string            `json:"options"`
	Votes     map[string][]string `json:"votes"`
	CreatedBy string              `json:"created_by"`
	CreatedAt time.Time           `json:"created_at"`
	Room      string              `json:"room"`
	Active    bool                `json:"active"`
}

// Clone returns a deep copy of p.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	c := *p
	c.Options = append([]string(nil), p.Options...)
	c.Votes = make(map[string][]string, len(p.Votes))
	for opt, voters := range p.Votes {
		c.Votes[opt] = append([]string{}, voters...)
	}
	return &c
}

// VoteOf returns the option user currently votes for, if any.
func (p *Poll) VoteOf(user string) (string, bool) {
	for opt, voters := range p.Votes {
		for _, v := range voters {
			if v == user {
				return opt, true
			}
		}
	}
	return "", false
}

// Message is an entry of the global room history.
type Message struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Room      string    `json:"room"`
	Type      string    `json:"type"`
	FileID    string    `json:"file_id,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	FileSize  int64     `json:"file_size,omitempty"`
	Poll      *Poll     `json:"poll,omitempty"`
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Poll = m.Poll.Clone()
	return &c
}

// PrivateMessage is a direct message between two users.
type PrivateMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// PairKey returns the unordered conversation key for two users, so that
// PairKey(a, b) == PairKey(b, a). The first name is length-prefixed, which
// keeps the key unambiguous even when a name contains the separator.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strconv.Itoa(len(pair[0])) + ":" + pair[0] + ":" + pair[1]
}

// Reaction is a single (user, symbol) mark on a message.
type Reaction struct {
	Username  string    `json:"username"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
}

// FileShare is the metadata of an uploaded file.
type FileShare struct {
	ID           string    `json:"id"`
	StoredName   string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadTime   time.Time `json:"upload_time"`
	Size         int64     `json:"file_size"`
	Downloads    int       `json:"downloads"`
}

// UserStats holds monotonically increasing activity counters.
type UserStats struct {
	MessageCount int       `json:"message_count"`
	LoginCount   int       `json:"login_count"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// Preferences are per-user client settings.
type Preferences struct {
	Theme         string `json:"theme"`
	Notifications bool   `json:"notifications"`
	Sound         bool   `json:"sound"`
	ShowOnline    bool   `json:"show_online"`
	AllowPrivate  bool   `json:"allow_private"`
}

// DefaultPreferences returns the settings a new user starts with.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:         "light",
		Notifications: true,
		Sound:         true,
		ShowOnline:    true,
		AllowPrivate:  true,
	}
}

package store

import (
	"time"

	"github.com/Tyrowin/roomcast/internal/model"
)

// DefaultMaxHistory bounds the global message history.
const DefaultMaxHistory = 1000

// Document is the whole persisted state. Seq is the sequence number of the
// last mutation folded into it and lets journal replay skip records that a
// snapshot already contains.
type Document struct {
	Seq             uint64                             `json:"seq"`
	Users           map[string]*model.User             `json:"users"`
	MessageHistory  []*model.Message                   `json:"message_history"`
	PrivateMessages map[string][]*model.PrivateMessage `json:"private_messages"`
	Rooms           map[string]*model.Room             `json:"rooms"`
	UserPreferences map[string]model.Preferences       `json:"user_preferences"`
	UserStats       map[string]*model.UserStats        `json:"user_stats"`
	FileShares      map[string]*model.FileShare        `json:"file_shares"`
	Reactions       map[string][]model.Reaction        `json:"reactions"`
	BannedUsers     []string                           `json:"banned_users"`

	maxHistory int
}

func newDocument(maxHistory int) *Document {
	d := &Document{maxHistory: maxHistory}
	d.normalize()
	return d
}

// normalize replaces nil collections left by decoding an older or partial
// document.
func (d *Document) normalize() {
	if d.Users == nil {
		d.Users = make(map[string]*model.User)
	}
	if d.MessageHistory == nil {
		d.MessageHistory = make([]*model.Message, 0)
	}
	if d.PrivateMessages == nil {
		d.PrivateMessages = make(map[string][]*model.PrivateMessage)
	}
	if d.Rooms == nil {
		d.Rooms = make(map[string]*model.Room)
	}
	if d.UserPreferences == nil {
		d.UserPreferences = make(map[string]model.Preferences)
	}
	if d.UserStats == nil {
		d.UserStats = make(map[string]*model.UserStats)
	}
	if d.FileShares == nil {
		d.FileShares = make(map[string]*model.FileShare)
	}
	if d.Reactions == nil {
		d.Reactions = make(map[string][]model.Reaction)
	}
	if d.BannedUsers == nil {
		d.BannedUsers = make([]string, 0)
	}
}

// statsFor returns the stats entry of username, inserting a zero entry first.
// Only mutation paths call it.
func (d *Document) statsFor(username string) *model.UserStats {
	st, ok := d.UserStats[username]
	if !ok {
		st = &model.UserStats{}
		d.UserStats[username] = st
	}
	return st
}

// reactionsFor returns the reaction list of a message, inserting an empty list first.
func (d *Document) reactionsFor(messageID string) []model.Reaction {
	rs, ok := d.Reactions[messageID]
	if !ok {
		rs = make([]model.Reaction, 0)
		d.Reactions[messageID] = rs
	}
	return rs
}

func (d *Document) findMessage(id string) *model.Message {
	for i := len(d.MessageHistory) - 1; i >= 0; i-- {
		if d.MessageHistory[i].ID == id {
			return d.MessageHistory[i]
		}
	}
	return nil
}

func (d *Document) findPoll(pollID string) *model.Poll {
	for i := len(d.MessageHistory) - 1; i >= 0; i-- {
		m := d.MessageHistory[i]
		if m.Type == model.MessagePoll && m.Poll != nil && m.Poll.ID == pollID {
			return m.Poll
		}
	}
	return nil
}

func (d *Document) isBanned(username string) bool {
	for _, b := range d.BannedUsers {
		if b == username {
			return true
		}
	}
	return false
}

func defaultRooms(now time.Time) map[string]*model.Room {
	mk := func(id, name, desc string) *model.Room {
		return &model.Room{
			ID:          id,
			Name:        name,
			Description: desc,
			CreatedBy:   "system",
			CreatedAt:   now,
			Members:     []string{},
		}
	}
	return map[string]*model.Room{
		"general": mk("general", "General", "General chat room"),
		"tech":    mk("tech", "Tech", "Talk about technology"),
		"random":  mk("random", "Random", "Free conversation"),
	}
}

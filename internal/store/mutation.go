package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tyrowin/roomcast/internal/model"
)

// mutation is a single journaled change to the document. apply must be
// deterministic so that replaying a journal rebuilds the same state, and it
// must tolerate a missing target instead of failing.
type mutation interface {
	op() string
	apply(d *Document)
}

// record is one line of the journal.
type record struct {
	Seq  uint64          `json:"seq"`
	Op   string          `json:"op"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

var mutationTypes = map[string]func() mutation{
	"user.create":     func() mutation { return &createUser{} },
	"user.update":     func() mutation { return &updateUser{} },
	"user.block":      func() mutation { return &blockUser{} },
	"user.login":      func() mutation { return &recordLogin{} },
	"user.read":       func() mutation { return &markRead{} },
	"prefs.update":    func() mutation { return &updatePrefs{} },
	"ban.set":         func() mutation { return &setBan{} },
	"room.create":     func() mutation { return &createRoom{} },
	"room.member":     func() mutation { return &roomMember{} },
	"message.append":  func() mutation { return &appendMessage{} },
	"private.append":  func() mutation { return &appendPrivate{} },
	"reaction.toggle": func() mutation { return &toggleReaction{} },
	"file.add":        func() mutation { return &addFile{} },
	"file.download":   func() mutation { return &recordDownload{} },
	"poll.vote":       func() mutation { return &castVote{} },
	"stats.message":   func() mutation { return &countMessage{} },
	"history.cleanup": func() mutation { return &cleanupHistory{} },
}

func decodeMutation(r record) (mutation, error) {
	factory, ok := mutationTypes[r.Op]
	if !ok {
		return nil, fmt.Errorf("unknown mutation %q", r.Op)
	}
	m := factory()
	if err := json.Unmarshal(r.Data, m); err != nil {
		return nil, fmt.Errorf("decode %s #%d: %w", r.Op, r.Seq, err)
	}
	return m, nil
}

type createUser struct {
	User  model.User        `json:"user"`
	Prefs model.Preferences `json:"prefs"`
}

func (*createUser) op() string { return "user.create" }

func (m *createUser) apply(d *Document) {
	if _, ok := d.Users[m.User.Username]; ok {
		return
	}
	d.Users[m.User.Username] = m.User.Clone()
	d.UserPreferences[m.User.Username] = m.Prefs
	d.statsFor(m.User.Username)
}

type updateUser struct {
	Username string     `json:"username"`
	Status   *string    `json:"status,omitempty"`
	Bio      *string    `json:"bio,omitempty"`
	IsAdmin  *bool      `json:"is_admin,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (*updateUser) op() string { return "user.update" }

func (m *updateUser) apply(d *Document) {
	u, ok := d.Users[m.Username]
	if !ok {
		return
	}
	if m.Status != nil {
		u.Status = *m.Status
	}
	if m.Bio != nil {
		u.Bio = *m.Bio
	}
	if m.IsAdmin != nil {
		u.IsAdmin = *m.IsAdmin
	}
	if m.LastSeen != nil {
		u.LastSeen = *m.LastSeen
	}
}

type blockUser struct {
	Username string `json:"username"`
	Target   string `json:"target"`
	Block    bool   `json:"block"`
}

func (*blockUser) op() string { return "user.block" }

func (m *blockUser) apply(d *Document) {
	u, ok := d.Users[m.Username]
	if !ok {
		return
	}
	u.Blocked = setMember(u.Blocked, m.Target, m.Block)
}

type recordLogin struct {
	Username string    `json:"username"`
	At       time.Time `json:"at"`
}

func (*recordLogin) op() string { return "user.login" }

func (m *recordLogin) apply(d *Document) {
	if u, ok := d.Users[m.Username]; ok {
		u.LastSeen = m.At
	}
	st := d.statsFor(m.Username)
	st.LoginCount++
	st.LastActivity = m.At
}

type markRead struct {
	Username string    `json:"username"`
	Room     string    `json:"room"`
	At       time.Time `json:"at"`
}

func (*markRead) op() string { return "user.read" }

func (m *markRead) apply(d *Document) {
	u, ok := d.Users[m.Username]
	if !ok {
		return
	}
	if u.LastRead == nil {
		u.LastRead = make(map[string]time.Time)
	}
	u.LastRead[m.Room] = m.At
}

type updatePrefs struct {
	Username string            `json:"username"`
	Prefs    model.Preferences `json:"prefs"`
}

func (*updatePrefs) op() string { return "prefs.update" }

func (m *updatePrefs) apply(d *Document) {
	d.UserPreferences[m.Username] = m.Prefs
}

type setBan struct {
	Username string `json:"username"`
	Banned   bool   `json:"banned"`
}

func (*setBan) op() string { return "ban.set" }

func (m *setBan) apply(d *Document) {
	d.BannedUsers = setMember(d.BannedUsers, m.Username, m.Banned)
}

type createRoom struct {
	Room model.Room `json:"room"`
}

func (*createRoom) op() string { return "room.create" }

func (m *createRoom) apply(d *Document) {
	if _, ok := d.Rooms[m.Room.ID]; ok {
		return
	}
	d.Rooms[m.Room.ID] = m.Room.Clone()
	if u, ok := d.Users[m.Room.CreatedBy]; ok {
		u.CreatedRooms = append(u.CreatedRooms, m.Room.ID)
	}
}

type roomMember struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
	Join     bool   `json:"join"`
}

func (*roomMember) op() string { return "room.member" }

func (m *roomMember) apply(d *Document) {
	r, ok := d.Rooms[m.RoomID]
	if !ok {
		return
	}
	r.Members = setMember(r.Members, m.Username, m.Join)
}

type appendMessage struct {
	Message model.Message `json:"message"`
}

func (*appendMessage) op() string { return "message.append" }

func (m *appendMessage) apply(d *Document) {
	d.MessageHistory = append(d.MessageHistory, m.Message.Clone())
	if limit := d.maxHistory; limit > 0 && len(d.MessageHistory) > limit {
		// Evict from the head; copy so the dropped prefix can be collected.
		kept := make([]*model.Message, limit)
		copy(kept, d.MessageHistory[len(d.MessageHistory)-limit:])
		d.MessageHistory = kept
	}
}

type appendPrivate struct {
	Message model.PrivateMessage `json:"message"`
}

func (*appendPrivate) op() string { return "private.append" }

func (m *appendPrivate) apply(d *Document) {
	key := model.PairKey(m.Message.Sender, m.Message.Recipient)
	msg := m.Message
	d.PrivateMessages[key] = append(d.PrivateMessages[key], &msg)
}

type toggleReaction struct {
	MessageID string         `json:"message_id"`
	Reaction  model.Reaction `json:"reaction"`
}

func (*toggleReaction) op() string { return "reaction.toggle" }

func (m *toggleReaction) apply(d *Document) {
	rs := d.reactionsFor(m.MessageID)
	for i, r := range rs {
		if r.Username == m.Reaction.Username && r.Symbol == m.Reaction.Symbol {
			d.Reactions[m.MessageID] = append(rs[:i:i], rs[i+1:]...)
			return
		}
	}
	d.Reactions[m.MessageID] = append(rs, m.Reaction)
}

type addFile struct {
	File model.FileShare `json:"file"`
}

func (*addFile) op() string { return "file.add" }

func (m *addFile) apply(d *Document) {
	f := m.File
	d.FileShares[f.ID] = &f
}

type recordDownload struct {
	FileID string `json:"file_id"`
}

func (*recordDownload) op() string { return "file.download" }

func (m *recordDownload) apply(d *Document) {
	if f, ok := d.FileShares[m.FileID]; ok {
		f.Downloads++
	}
}

type castVote struct {
	PollID   string `json:"poll_id"`
	Username string `json:"username"`
	Option   string `json:"option"`
}

func (*castVote) op() string { return "poll.vote" }

func (m *castVote) apply(d *Document) {
	p := d.findPoll(m.PollID)
	if p == nil {
		return
	}
	if _, ok := p.Votes[m.Option]; !ok {
		return
	}
	for opt, voters := range p.Votes {
		p.Votes[opt] = setMember(voters, m.Username, false)
	}
	p.Votes[m.Option] = append(p.Votes[m.Option], m.Username)
}

type countMessage struct {
	Username string    `json:"username"`
	At       time.Time `json:"at"`
}

func (*countMessage) op() string { return "stats.message" }

func (m *countMessage) apply(d *Document) {
	st := d.statsFor(m.Username)
	st.MessageCount++
	st.LastActivity = m.At
}

type cleanupHistory struct {
	Cutoff time.Time `json:"cutoff"`
}

func (*cleanupHistory) op() string { return "history.cleanup" }

func (m *cleanupHistory) apply(d *Document) {
	kept := make([]*model.Message, 0, len(d.MessageHistory))
	ids := make(map[string]struct{}, len(d.MessageHistory))
	for _, msg := range d.MessageHistory {
		if msg.Timestamp.After(m.Cutoff) {
			kept = append(kept, msg)
			ids[msg.ID] = struct{}{}
		}
	}
	d.MessageHistory = kept
	for id := range d.Reactions {
		if _, ok := ids[id]; !ok {
			delete(d.Reactions, id)
		}
	}
}

// setMember adds name to set when present is true and removes every
// occurrence otherwise. Insertion order is kept.
func setMember(set []string, name string, present bool) []string {
	if present {
		for _, v := range set {
			if v == name {
				return set
			}
		}
		return append(set, name)
	}
	out := set[:0:0]
	for _, v := range set {
		if v != name {
			out = append(out, v)
		}
	}
	return out
}

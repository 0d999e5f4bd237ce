package protocol

import (
	"encoding/json"
	"time"

	"github.com/Tyrowin/roomcast/internal/model"
)

// Outbound is a server event.
type Outbound interface {
	EventType() string
}

// Encode wraps ev in an envelope and marshals it.
func Encode(ev Outbound) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: ev.EventType(), Data: data})
}

// MessageEvent carries a room message, including file and poll messages.
type MessageEvent struct {
	*model.Message
}

func (MessageEvent) EventType() string { return "message" }

// PrivateMessageEvent is delivered to the two participants only.
type PrivateMessageEvent struct {
	model.PrivateMessage
}

func (PrivateMessageEvent) EventType() string { return "private_message" }

// UserJoined is broadcast when a user comes online.
type UserJoined struct {
	Username    string   `json:"username"`
	ActiveUsers []string `json:"active_users"`
}

func (UserJoined) EventType() string { return "user_joined" }

// UserLeft is broadcast when a user's last session ends.
type UserLeft struct {
	Username    string   `json:"username"`
	ActiveUsers []string `json:"active_users"`
}

func (UserLeft) EventType() string { return "user_left" }

// RoomJoined is sent to a room when a member subscribes.
type RoomJoined struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

func (RoomJoined) EventType() string { return "room_joined" }

// RoomLeft is sent to a room when a member leaves.
type RoomLeft struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

func (RoomLeft) EventType() string { return "room_left" }

// UserTyping relays a typing indicator to the rest of the room.
type UserTyping struct {
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
	Room     string `json:"room"`
}

func (UserTyping) EventType() string { return "user_typing" }

// ReactionChanged reports a toggled reaction and the new total.
type ReactionChanged struct {
	MessageID string `json:"message_id"`
	Username  string `json:"username"`
	Symbol    string `json:"symbol"`
	Action    string `json:"action"`
	Total     int    `json:"total"`
}

func (ReactionChanged) EventType() string { return "reaction_changed" }

// NewRoom announces a created room to everyone.
type NewRoom struct {
	RoomID   string      `json:"room_id"`
	RoomData *model.Room `json:"room_data"`
}

func (NewRoom) EventType() string { return "new_room" }

// PollUpdated carries the current voters of every option.
type PollUpdated struct {
	PollID  string              `json:"poll_id"`
	Room    string              `json:"room"`
	Options map[string][]string `json:"options"`
}

func (PollUpdated) EventType() string { return "poll_updated" }

// StatusUpdated is broadcast after a status change.
type StatusUpdated struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

func (StatusUpdated) EventType() string { return "status_updated" }

// ProfileUpdated is broadcast after a profile change.
type ProfileUpdated struct {
	Username string `json:"username"`
	Status   string `json:"status"`
	Bio      string `json:"bio"`
}

func (ProfileUpdated) EventType() string { return "profile_updated" }

// PreferencesChanged echoes the stored preferences to their owner.
type PreferencesChanged struct {
	model.Preferences
}

func (PreferencesChanged) EventType() string { return "preferences" }

// OnlineUsers answers ListOnline.
type OnlineUsers struct {
	Users []string `json:"users"`
}

func (OnlineUsers) EventType() string { return "online_users" }

// History answers FetchHistory, oldest message first.
type History struct {
	Room     string           `json:"room"`
	Messages []*model.Message `json:"messages"`
}

func (History) EventType() string { return "history" }

// PrivateHistory answers FetchPrivateHistory in send order.
type PrivateHistory struct {
	With     string                 `json:"with"`
	Messages []model.PrivateMessage `json:"messages"`
}

func (PrivateHistory) EventType() string { return "private_history" }

// SearchResults answers Search, newest hit first.
type SearchResults struct {
	Query   string           `json:"query"`
	Results []*model.Message `json:"results"`
}

func (SearchResults) EventType() string { return "search_results" }

// UserInfo is the public profile of a user. It never carries credentials.
type UserInfo struct {
	Username     string    `json:"username"`
	Status       string    `json:"status"`
	Bio          string    `json:"bio"`
	JoinDate     time.Time `json:"join_date"`
	IsAdmin      bool      `json:"is_admin"`
	MessageCount int       `json:"message_count"`
	IsOnline     bool      `json:"is_online"`
}

func (UserInfo) EventType() string { return "user_info" }

// ReadMarked confirms MarkRead.
type ReadMarked struct {
	Room string    `json:"room"`
	At   time.Time `json:"at"`
}

func (ReadMarked) EventType() string { return "read_marked" }

// BlockList is the sender's block list after a change.
type BlockList struct {
	Blocked []string `json:"blocked"`
}

func (BlockList) EventType() string { return "block_list" }

// UserBanned is broadcast when an admin bans a user.
type UserBanned struct {
	Username string `json:"username"`
}

func (UserBanned) EventType() string { return "user_banned" }

// UserUnbanned is broadcast when a ban is lifted.
type UserUnbanned struct {
	Username string `json:"username"`
}

func (UserUnbanned) EventType() string { return "user_unbanned" }

// IncomingCall relays a CallRequest to its target.
type IncomingCall struct {
	Caller string `json:"caller"`
	CallID string `json:"call_id"`
	Media  string `json:"media"`
}

func (IncomingCall) EventType() string { return "call_request" }

// CallAnswered relays a CallResponse to the caller.
type CallAnswered struct {
	Responder string `json:"responder"`
	CallID    string `json:"call_id"`
	Accepted  bool   `json:"accepted"`
	Media     string `json:"media"`
}

func (CallAnswered) EventType() string { return "call_response" }

// ScreenShareChanged relays a ScreenShare to the room.
type ScreenShareChanged struct {
	Username string `json:"username"`
	Room     string `json:"room"`
	Active   bool   `json:"active"`
}

func (ScreenShareChanged) EventType() string { return "screen_share" }

// Error is sent only to the session whose event failed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Error) EventType() string { return "error" }

// Package protocol defines the JSON wire format spoken over the WebSocket:
// every frame is an envelope {"type": kind, "data": payload}. Inbound frames
// decode into a closed set of variants that validate themselves before the
// coordinator sees them.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/roomcast/internal/model"
)

// Limits enforced at the boundary.
const (
	MaxMessageLength = 1000
	MaxStatusLength  = 100
	MaxBioLength     = 500
	MinRoomName      = 2
	MaxRoomName      = 50
	MinPollOptions   = 2
	MaxPollOptions   = 10
	MinSearchQuery   = 2
	MaxHistoryFetch  = 100
)

var (
	// ErrInvalid marks a frame that is well-formed JSON but fails validation.
	ErrInvalid = errors.New("invalid event")
	// ErrUnknownType marks an envelope whose type is not part of the protocol.
	ErrUnknownType = errors.New("unknown event type")
	// ErrMalformed marks a frame that is not a valid envelope.
	ErrMalformed = errors.New("malformed frame")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Envelope is the outer frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound is a decoded client event.
type Inbound interface {
	Kind() string
	Validate() error
}

// Inbound event kinds.
const (
	KindMessage        = "message"
	KindPrivateMessage = "private_message"
	KindJoinRoom       = "join_room"
	KindLeaveRoom      = "leave_room"
	KindTyping         = "typing"
	KindReact          = "react"
	KindCreateRoom     = "create_room"
	KindCreatePoll     = "create_poll"
	KindVotePoll       = "vote_poll"
	KindStatusChange   = "status_change"
	KindFileShare      = "file_share"
	KindOnlineUsers    = "online_users"
	KindHistory        = "history"
	KindPrivateHistory = "private_history"
	KindSearch         = "search"
	KindUserInfo       = "user_info"
	KindMarkRead       = "mark_read"
	KindBlockUser      = "block_user"
	KindUnblockUser    = "unblock_user"
	KindUpdateProfile  = "update_profile"
	KindUpdatePrefs    = "update_preferences"
	KindBanUser        = "ban_user"
	KindUnbanUser      = "unban_user"
	KindCallRequest    = "call_request"
	KindCallResponse   = "call_response"
	KindScreenShare    = "screen_share"
)

var inboundTypes = map[string]func() Inbound{
	KindMessage:        func() Inbound { return &SendMessage{} },
	KindPrivateMessage: func() Inbound { return &SendPrivate{} },
	KindJoinRoom:       func() Inbound { return &JoinRoom{} },
	KindLeaveRoom:      func() Inbound { return &LeaveRoom{} },
	KindTyping:         func() Inbound { return &Typing{} },
	KindReact:          func() Inbound { return &React{} },
	KindCreateRoom:     func() Inbound { return &CreateRoom{} },
	KindCreatePoll:     func() Inbound { return &CreatePoll{} },
	KindVotePoll:       func() Inbound { return &VotePoll{} },
	KindStatusChange:   func() Inbound { return &StatusChange{} },
	KindFileShare:      func() Inbound { return &ShareFile{} },
	KindOnlineUsers:    func() Inbound { return &ListOnline{} },
	KindHistory:        func() Inbound { return &FetchHistory{} },
	KindPrivateHistory: func() Inbound { return &FetchPrivateHistory{} },
	KindSearch:         func() Inbound { return &Search{} },
	KindUserInfo:       func() Inbound { return &GetUserInfo{} },
	KindMarkRead:       func() Inbound { return &MarkRead{} },
	KindBlockUser:      func() Inbound { return &BlockUser{} },
	KindUnblockUser:    func() Inbound { return &UnblockUser{} },
	KindUpdateProfile:  func() Inbound { return &UpdateProfile{} },
	KindUpdatePrefs:    func() Inbound { return &UpdatePreferences{} },
	KindBanUser:        func() Inbound { return &BanUser{} },
	KindUnbanUser:      func() Inbound { return &UnbanUser{} },
	KindCallRequest:    func() Inbound { return &CallRequest{} },
	KindCallResponse:   func() Inbound { return &CallResponse{} },
	KindScreenShare:    func() Inbound { return &ScreenShare{} },
}

// Decode parses one frame into its variant and validates it.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	factory, ok := inboundTypes[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	ev := factory()
	if data := bytes.TrimSpace(env.Data); len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
		}
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

// SendMessage posts to a room. Type defaults to text.
type SendMessage struct {
	Body   string `json:"body"`
	Room   string `json:"room"`
	Type   string `json:"type,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

func (*SendMessage) Kind() string { return KindMessage }

func (m *SendMessage) Validate() error {
	if m.Room == "" {
		m.Room = model.DefaultRoom
	}
	switch m.Type {
	case "":
		m.Type = model.MessageText
	case model.MessageText:
	case model.MessageFile:
		return required("file_id", m.FileID)
	default:
		return invalid("unsupported message type %q", m.Type)
	}
	return required("body", m.Body)
}

// SendPrivate is a direct message.
type SendPrivate struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

func (*SendPrivate) Kind() string { return KindPrivateMessage }

func (m *SendPrivate) Validate() error {
	if err := required("recipient", m.Recipient); err != nil {
		return err
	}
	return required("body", m.Body)
}

// JoinRoom subscribes the sender to a room and sends its recent history.
type JoinRoom struct {
	Room string `json:"room"`
}

func (*JoinRoom) Kind() string      { return KindJoinRoom }
func (m *JoinRoom) Validate() error { return required("room", m.Room) }

// LeaveRoom unsubscribes the sender from a room.
type LeaveRoom struct {
	Room string `json:"room"`
}

func (*LeaveRoom) Kind() string      { return KindLeaveRoom }
func (m *LeaveRoom) Validate() error { return required("room", m.Room) }

// Typing is an ephemeral indicator; it is never stored.
type Typing struct {
	Room   string `json:"room"`
	Typing bool   `json:"typing"`
}

func (*Typing) Kind() string { return KindTyping }

func (m *Typing) Validate() error {
	if m.Room == "" {
		m.Room = model.DefaultRoom
	}
	return nil
}

// React toggles the sender's reaction symbol on a message.
type React struct {
	MessageID string `json:"message_id"`
	Symbol    string `json:"symbol"`
}

func (*React) Kind() string { return KindReact }

func (m *React) Validate() error {
	if err := required("message_id", m.MessageID); err != nil {
		return err
	}
	if err := required("symbol", m.Symbol); err != nil {
		return err
	}
	if len(m.Symbol) > 32 {
		return invalid("symbol too long")
	}
	return nil
}

// CreateRoom creates a room named by the sender, who becomes its first member.
type CreateRoom struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (*CreateRoom) Kind() string { return KindCreateRoom }

func (m *CreateRoom) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	m.Description = strings.TrimSpace(m.Description)
	if n := len([]rune(m.Name)); n < MinRoomName || n > MaxRoomName {
		return invalid("room name must be %d to %d characters", MinRoomName, MaxRoomName)
	}
	return nil
}

// CreatePoll posts a poll message with 2 to 10 options.
type CreatePoll struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Room     string   `json:"room"`
}

func (*CreatePoll) Kind() string { return KindCreatePoll }

// Validate trims the options and drops blanks and duplicates before counting.
func (m *CreatePoll) Validate() error {
	m.Question = strings.TrimSpace(m.Question)
	if m.Question == "" {
		return invalid("question is required")
	}
	if m.Room == "" {
		m.Room = model.DefaultRoom
	}
	seen := make(map[string]struct{}, len(m.Options))
	opts := make([]string, 0, len(m.Options))
	for _, o := range m.Options {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		opts = append(opts, o)
	}
	if len(opts) < MinPollOptions {
		return invalid("a poll needs at least %d distinct options", MinPollOptions)
	}
	if len(opts) > MaxPollOptions {
		return invalid("a poll takes at most %d options", MaxPollOptions)
	}
	m.Options = opts
	return nil
}

// VotePoll casts or moves the sender's vote on an active poll.
type VotePoll struct {
	PollID string `json:"poll_id"`
	Option string `json:"option"`
}

func (*VotePoll) Kind() string { return KindVotePoll }

func (m *VotePoll) Validate() error {
	if err := required("poll_id", m.PollID); err != nil {
		return err
	}
	return required("option", m.Option)
}

// StatusChange sets the sender's presence status.
type StatusChange struct {
	Status string `json:"status"`
}

func (*StatusChange) Kind() string { return KindStatusChange }

func (m *StatusChange) Validate() error {
	m.Status = strings.TrimSpace(m.Status)
	if len([]rune(m.Status)) > MaxStatusLength {
		return invalid("status must be at most %d characters", MaxStatusLength)
	}
	return nil
}

// ShareFile announces a previously uploaded file in a room.
type ShareFile struct {
	FileID string `json:"file_id"`
	Room   string `json:"room"`
}

func (*ShareFile) Kind() string { return KindFileShare }

func (m *ShareFile) Validate() error {
	if m.Room == "" {
		m.Room = model.DefaultRoom
	}
	return required("file_id", m.FileID)
}

// ListOnline asks for the usernames currently online.
type ListOnline struct{}

func (*ListOnline) Kind() string    { return KindOnlineUsers }
func (*ListOnline) Validate() error { return nil }

// FetchHistory asks for the recent messages of a room.
type FetchHistory struct {
	Room  string `json:"room"`
	Limit int    `json:"limit"`
}

func (*FetchHistory) Kind() string { return KindHistory }

func (m *FetchHistory) Validate() error {
	if m.Room == "" {
		m.Room = model.DefaultRoom
	}
	if m.Limit <= 0 || m.Limit > MaxHistoryFetch {
		m.Limit = MaxHistoryFetch
	}
	return nil
}

// FetchPrivateHistory asks for the conversation with another user.
type FetchPrivateHistory struct {
	With string `json:"with"`
}

func (*FetchPrivateHistory) Kind() string      { return KindPrivateHistory }
func (m *FetchPrivateHistory) Validate() error { return required("with", m.With) }

// Search runs a substring query over recent history.
type Search struct {
	Query string `json:"query"`
}

func (*Search) Kind() string { return KindSearch }

func (m *Search) Validate() error {
	m.Query = strings.TrimSpace(m.Query)
	if len([]rune(m.Query)) < MinSearchQuery {
		return invalid("query must be at least %d characters", MinSearchQuery)
	}
	return nil
}

// GetUserInfo asks for a user's public profile and statistics.
type GetUserInfo struct {
	Username string `json:"username"`
}

func (*GetUserInfo) Kind() string      { return KindUserInfo }
func (m *GetUserInfo) Validate() error { return required("username", m.Username) }

// MarkRead records that the sender has read a room up to now.
type MarkRead struct {
	Room string `json:"room"`
}

func (*MarkRead) Kind() string      { return KindMarkRead }
func (m *MarkRead) Validate() error { return required("room", m.Room) }

// BlockUser stops private messages from a user.
type BlockUser struct {
	Username string `json:"username"`
}

func (*BlockUser) Kind() string      { return KindBlockUser }
func (m *BlockUser) Validate() error { return required("username", m.Username) }

// UnblockUser reverses BlockUser.
type UnblockUser struct {
	Username string `json:"username"`
}

func (*UnblockUser) Kind() string      { return KindUnblockUser }
func (m *UnblockUser) Validate() error { return required("username", m.Username) }

// UpdateProfile changes the fields that are present.
type UpdateProfile struct {
	Status *string `json:"status,omitempty"`
	Bio    *string `json:"bio,omitempty"`
}

func (*UpdateProfile) Kind() string { return KindUpdateProfile }

func (m *UpdateProfile) Validate() error {
	if m.Status == nil && m.Bio == nil {
		return invalid("nothing to update")
	}
	if m.Status != nil {
		s := strings.TrimSpace(*m.Status)
		if len([]rune(s)) > MaxStatusLength {
			return invalid("status must be at most %d characters", MaxStatusLength)
		}
		m.Status = &s
	}
	if m.Bio != nil {
		b := strings.TrimSpace(*m.Bio)
		if len([]rune(b)) > MaxBioLength {
			return invalid("bio must be at most %d characters", MaxBioLength)
		}
		m.Bio = &b
	}
	return nil
}

// UpdatePreferences changes the client settings that are present.
type UpdatePreferences struct {
	Theme         *string `json:"theme,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
	Sound         *bool   `json:"sound,omitempty"`
	ShowOnline    *bool   `json:"show_online,omitempty"`
	AllowPrivate  *bool   `json:"allow_private,omitempty"`
}

func (*UpdatePreferences) Kind() string { return KindUpdatePrefs }

func (m *UpdatePreferences) Validate() error {
	if m.Theme != nil {
		switch *m.Theme {
		case "light", "dark":
		default:
			return invalid("unsupported theme %q", *m.Theme)
		}
	}
	return nil
}

// Apply returns p with the present fields overwritten.
func (m *UpdatePreferences) Apply(p model.Preferences) model.Preferences {
	if m.Theme != nil {
		p.Theme = *m.Theme
	}
	if m.Notifications != nil {
		p.Notifications = *m.Notifications
	}
	if m.Sound != nil {
		p.Sound = *m.Sound
	}
	if m.ShowOnline != nil {
		p.ShowOnline = *m.ShowOnline
	}
	if m.AllowPrivate != nil {
		p.AllowPrivate = *m.AllowPrivate
	}
	return p
}

// BanUser is an admin action that bans and disconnects a user.
type BanUser struct {
	Username string `json:"username"`
}

func (*BanUser) Kind() string      { return KindBanUser }
func (m *BanUser) Validate() error { return required("username", m.Username) }

// UnbanUser is an admin action that lifts a ban.
type UnbanUser struct {
	Username string `json:"username"`
}

func (*UnbanUser) Kind() string      { return KindUnbanUser }
func (m *UnbanUser) Validate() error { return required("username", m.Username) }

// Call media kinds.
const (
	MediaVoice = "voice"
	MediaVideo = "video"
)

func validMedia(media *string) error {
	switch *media {
	case "":
		*media = MediaVoice
	case MediaVoice, MediaVideo:
	default:
		return invalid("unsupported media %q", *media)
	}
	return nil
}

// CallRequest asks an online user to start a call. Only signalling is relayed.
type CallRequest struct {
	Target string `json:"target"`
	Media  string `json:"media"`
}

func (*CallRequest) Kind() string { return KindCallRequest }

func (m *CallRequest) Validate() error {
	if err := required("target", m.Target); err != nil {
		return err
	}
	return validMedia(&m.Media)
}

// CallResponse answers a CallRequest.
type CallResponse struct {
	Caller   string `json:"caller"`
	CallID   string `json:"call_id"`
	Accepted bool   `json:"accepted"`
	Media    string `json:"media"`
}

func (*CallResponse) Kind() string { return KindCallResponse }

func (m *CallResponse) Validate() error {
	if err := required("caller", m.Caller); err != nil {
		return err
	}
	if err := required("call_id", m.CallID); err != nil {
		return err
	}
	return validMedia(&m.Media)
}

// ScreenShare announces that the sender started or stopped sharing.
type ScreenShare struct {
	Room   string `json:"room"`
	Active bool   `json:"active"`
}

func (*ScreenShare) Kind() string { return KindScreenShare }

func (m *ScreenShare) Validate() error {
	if m.Room == "" {
		m.Room = model.DefaultRoom
	}
	return nil
}

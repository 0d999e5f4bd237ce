// Package chat is the message coordinator. It takes decoded client events,
// applies rate limits, validation and sanitization, persists the result in
// the store and fans it out through the broadcast hub.
//
// Every event follows the same order: check, persist, then publish. A
// rejected event produces an error event for the originating session only
// and leaves the store untouched.
package chat

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomcast/internal/broadcast"
	"github.com/Tyrowin/roomcast/internal/metrics"
	"github.com/Tyrowin/roomcast/internal/model"
	"github.com/Tyrowin/roomcast/internal/presence"
	"github.com/Tyrowin/roomcast/internal/protocol"
	"github.com/Tyrowin/roomcast/internal/ratelimit"
	"github.com/Tyrowin/roomcast/internal/store"
)

// Session is an authenticated connection.
type Session interface {
	broadcast.Subscriber
	Username() string
}

// Sanitizer cleans user-supplied text.
type Sanitizer interface {
	Sanitize(input string) string
}

// Rate-limited action kinds.
const (
	ActionMessage = "message"
	ActionUpload  = "upload"
	ActionLogin   = "login"
)

const searchLimit = 20

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// Limits groups the tunables of the coordinator.
type Limits struct {
	Message ratelimit.Policy
	Upload  ratelimit.Policy
	Login   ratelimit.Policy

	MaxUploadSize   int64
	SessionExpiry   time.Duration
	CleanupInterval time.Duration
	HistoryMaxAge   time.Duration
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		Message:         ratelimit.MessagePolicy,
		Upload:          ratelimit.UploadPolicy,
		Login:           ratelimit.LoginPolicy,
		MaxUploadSize:   16 << 20,
		SessionExpiry:   24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Options wires a Coordinator to its collaborators.
type Options struct {
	Store     *store.Store
	Limiter   *ratelimit.Limiter
	Presence  *presence.Registry
	Hub       *broadcast.Hub
	Sanitizer Sanitizer
	Limits    Limits
	// IsAdmin names the users promoted to admin on connect.
	IsAdmin func(username string) bool
	Logger     zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Coordinator is the single entry point for session lifecycle and events.
type Coordinator struct {
	store    *store.Store
	limiter  *ratelimit.Limiter
	presence *presence.Registry
	hub      *broadcast.Hub
	sanitize Sanitizer
	limits   Limits
	isAdmin  func(string) bool
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// New builds a Coordinator. Store, Limiter, Presence, Hub and Sanitizer are required.
func New(opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	def := DefaultLimits()
	if opts.Limits.Message.Limit <= 0 {
		opts.Limits.Message = def.Message
	}
	if opts.Limits.Upload.Limit <= 0 {
		opts.Limits.Upload = def.Upload
	}
	if opts.Limits.Login.Limit <= 0 {
		opts.Limits.Login = def.Login
	}
	if opts.Limits.MaxUploadSize <= 0 {
		opts.Limits.MaxUploadSize = def.MaxUploadSize
	}
	if opts.Limits.SessionExpiry <= 0 {
		opts.Limits.SessionExpiry = def.SessionExpiry
	}
	if opts.Limits.CleanupInterval <= 0 {
		opts.Limits.CleanupInterval = def.CleanupInterval
	}

	if opts.IsAdmin == nil {
		opts.IsAdmin = func(string) bool { return false }
	}

	return &Coordinator{
		store:    opts.Store,
		limiter:  opts.Limiter,
		presence: opts.Presence,
		hub:      opts.Hub,
		sanitize: opts.Sanitizer,
		limits:   opts.Limits,
		isAdmin:  opts.IsAdmin,
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Connect activates an authenticated session: the user record is created on
// first sight, presence is registered, the session joins the default room and
// everyone is told. A banned user is refused with a forbidden error.
//
// If the user already had a live session it is closed; the newest connection wins.
func (c *Coordinator) Connect(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	username := sess.Username()
	if !usernamePattern.MatchString(username) {
		c.securityEvent(username, "invalid username")
		return validationf("username must be 3-20 letters, digits or underscores")
	}
	if c.store.IsBanned(username) {
		c.securityEvent(username, "banned user tried to connect")
		return forbidden("you are banned")
	}

	u, created := c.store.EnsureUser(username)
	if c.isAdmin(username) && !u.IsAdmin {
		isAdmin := true
		if _, err := c.store.UpdateUser(username, store.UserUpdate{IsAdmin: &isAdmin}); err != nil {
			return internal("promote admin", err)
		}
	}
	c.store.RecordLogin(username)

	if !c.hub.Attach(sess) {
		return internal("server is shutting down", nil)
	}
	_, replaced := c.presence.Register(username, sess.ID())
	if replaced != nil && replaced.SessionID != sess.ID() {
		c.log.Info().Str("user", username).Str("session", replaced.SessionID).Msg("closing superseded session")
		c.hub.Close(replaced.SessionID)
	}
	c.hub.Subscribe(model.DefaultRoom, sess)
	metrics.ActiveUsers.Set(float64(c.presence.Count()))

	c.hub.PublishAll(protocol.UserJoined{Username: username, ActiveUsers: c.presence.ListActive()})
	c.log.Info().Str("user", username).Str("session", sess.ID()).Bool("new_user", created).Msg("session connected")
	return nil
}

// Disconnect tears a session down. It is safe to call more than once and for
// sessions that were superseded by a newer login.
func (c *Coordinator) Disconnect(sess Session) {
	c.hub.Detach(sess)

	username := sess.Username()
	if !c.presence.Unregister(username, sess.ID()) {
		return
	}
	now := c.now()
	if _, err := c.store.UpdateUser(username, store.UserUpdate{LastSeen: &now}); err != nil {
		c.log.Debug().Err(err).Str("user", username).Msg("last seen not recorded")
	}
	metrics.ActiveUsers.Set(float64(c.presence.Count()))

	c.hub.PublishAll(protocol.UserLeft{Username: username, ActiveUsers: c.presence.ListActive()})
	c.log.Info().Str("user", username).Str("session", sess.ID()).Msg("session disconnected")
}

// Handle processes one inbound event for sess. A failure is reported to the
// session as an error event and also returned.
func (c *Coordinator) Handle(ctx context.Context, sess Session, ev protocol.Inbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.presence.Touch(sess.Username())

	if err := c.dispatch(sess, ev); err != nil {
		return c.reject(sess, ev.Kind(), err)
	}
	return nil
}

// Reject reports an error to sess, such as a frame that failed to decode.
func (c *Coordinator) Reject(sess Session, err error) error {
	return c.reject(sess, "", err)
}

func (c *Coordinator) reject(sess Session, kind string, err error) error {
	e := AsError(err)
	metrics.HandlerErrorsTotal.WithLabelValues(string(e.Code)).Inc()

	switch e.Code {
	case CodeForbidden:
		c.securityEvent(sess.Username(), e.Message)
	case CodeInternal:
		c.log.Error().Err(e).Str("user", sess.Username()).Str("event", kind).Msg("event failed")
	default:
		c.log.Debug().Str("user", sess.Username()).Str("event", kind).Str("code", string(e.Code)).
			Msg(e.Message)
	}

	c.hub.SendTo(sess.ID(), protocol.Error{Code: string(e.Code), Message: e.Message})
	return e
}

func (c *Coordinator) securityEvent(username, msg string) {
	c.log.Warn().Str("security_event", msg).Str("user", username).Msg("security event")
}

func (c *Coordinator) dispatch(sess Session, ev protocol.Inbound) error {
	switch ev := ev.(type) {
	case *protocol.SendMessage:
		return c.handleMessage(sess, ev)
	case *protocol.SendPrivate:
		return c.handlePrivate(sess, ev)
	case *protocol.JoinRoom:
		return c.handleJoinRoom(sess, ev)
	case *protocol.LeaveRoom:
		return c.handleLeaveRoom(sess, ev)
	case *protocol.Typing:
		return c.handleTyping(sess, ev)
	case *protocol.React:
		return c.handleReact(sess, ev)
	case *protocol.CreateRoom:
		return c.handleCreateRoom(sess, ev)
	case *protocol.CreatePoll:
		return c.handleCreatePoll(sess, ev)
	case *protocol.VotePoll:
		return c.handleVote(sess, ev)
	case *protocol.StatusChange:
		return c.handleStatus(sess, ev)
	case *protocol.ShareFile:
		return c.handleMessage(sess, &protocol.SendMessage{Room: ev.Room, Type: model.MessageFile, FileID: ev.FileID})
	case *protocol.ListOnline:
		return c.reply(sess, protocol.OnlineUsers{Users: c.presence.ListActive()})
	case *protocol.FetchHistory:
		return c.handleHistory(sess, ev)
	case *protocol.FetchPrivateHistory:
		return c.reply(sess, protocol.PrivateHistory{
			With:     ev.With,
			Messages: c.store.PrivateMessages(sess.Username(), ev.With),
		})
	case *protocol.Search:
		return c.reply(sess, protocol.SearchResults{
			Query:   ev.Query,
			Results: c.store.SearchMessages(ev.Query, searchLimit),
		})
	case *protocol.GetUserInfo:
		return c.handleUserInfo(sess, ev)
	case *protocol.MarkRead:
		return c.handleMarkRead(sess, ev)
	case *protocol.BlockUser:
		return c.handleBlock(sess, ev.Username, true)
	case *protocol.UnblockUser:
		return c.handleBlock(sess, ev.Username, false)
	case *protocol.UpdateProfile:
		return c.handleProfile(sess, ev)
	case *protocol.UpdatePreferences:
		return c.handlePreferences(sess, ev)
	case *protocol.BanUser:
		return c.handleBan(sess, ev)
	case *protocol.UnbanUser:
		return c.handleUnban(sess, ev)
	case *protocol.CallRequest:
		return c.handleCallRequest(sess, ev)
	case *protocol.CallResponse:
		return c.handleCallResponse(sess, ev)
	case *protocol.ScreenShare:
		c.hub.Publish(ev.Room, protocol.ScreenShareChanged{
			Username: sess.Username(), Room: ev.Room, Active: ev.Active,
		}, sess.ID())
		return nil
	}
	return validationf("unsupported event %q", ev.Kind())
}

func (c *Coordinator) reply(sess Session, ev protocol.Outbound) error {
	c.hub.SendTo(sess.ID(), ev)
	return nil
}

// Run sweeps idle sessions, stale limiter keys and, when configured, old
// history until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.limits.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep runs one maintenance pass.
func (c *Coordinator) Sweep() {
	expired := 0
	for _, p := range c.presence.Expired(c.limits.SessionExpiry) {
		if !c.presence.Unregister(p.Username, p.SessionID) {
			continue
		}
		expired++
		c.hub.Close(p.SessionID)
		c.hub.PublishAll(protocol.UserLeft{Username: p.Username, ActiveUsers: c.presence.ListActive()})
	}
	if expired > 0 {
		metrics.ActiveUsers.Set(float64(c.presence.Count()))
	}

	keys := c.limiter.Sweep(c.longestWindow())

	pruned := 0
	if c.limits.HistoryMaxAge > 0 {
		pruned = c.store.Cleanup(c.limits.HistoryMaxAge)
	}

	c.log.Info().Int("expired_sessions", expired).Int("limiter_keys_swept", keys).
		Int("limiter_keys", c.limiter.Len()).Int("pruned", pruned).
		Msg("maintenance sweep finished")
}

func (c *Coordinator) longestWindow() time.Duration {
	w := c.limits.Message.Window
	for _, p := range []ratelimit.Policy{c.limits.Upload, c.limits.Login} {
		if p.Window > w {
			w = p.Window
		}
	}
	return w
}

// Stats reports store totals plus live session counts.
type Stats struct {
	store.Summary
	OnlineUsers int `json:"online_users"`
	Sessions    int `json:"sessions"`
}

// Stats returns a point-in-time summary.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Summary:     c.store.Summary(),
		OnlineUsers: c.presence.Count(),
		Sessions:    c.hub.Sessions(),
	}
}

// Shutdown closes every session without broadcasting departures.
func (c *Coordinator) Shutdown() {
	c.hub.Shutdown()
}

package chat

import (
	"errors"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/roomcast/internal/metrics"
	"github.com/Tyrowin/roomcast/internal/model"
	"github.com/Tyrowin/roomcast/internal/protocol"
	"github.com/Tyrowin/roomcast/internal/store"
)

func (c *Coordinator) checkNotBanned(username string) error {
	if c.store.IsBanned(username) {
		return forbidden("you are banned from sending messages")
	}
	return nil
}

func (c *Coordinator) allow(username, action string) error {
	policy := c.limits.Message
	if action == ActionUpload {
		policy = c.limits.Upload
	}
	if !c.limiter.AllowPolicy(username, action, policy) {
		metrics.RateLimitedTotal.WithLabelValues(action).Inc()
		return rateLimited("too many requests, slow down")
	}
	return nil
}

// cleanBody enforces the length limit on the submitted text, then sanitizes
// it. Entity escaping may lengthen the stored body.
func (c *Coordinator) cleanBody(raw string) (string, error) {
	if utf8.RuneCountInString(strings.TrimSpace(raw)) > protocol.MaxMessageLength {
		return "", validationf("message exceeds %d characters", protocol.MaxMessageLength)
	}
	body := c.sanitize.Sanitize(raw)
	if body == "" {
		return "", validationf("message is empty")
	}
	return body, nil
}

func (c *Coordinator) requireRoom(room string) error {
	if !c.store.RoomExists(room) {
		return validationf("unknown room %q", room)
	}
	return nil
}

func (c *Coordinator) handleMessage(sess Session, ev *protocol.SendMessage) error {
	username := sess.Username()
	if err := c.checkNotBanned(username); err != nil {
		return err
	}
	if err := c.allow(username, ActionMessage); err != nil {
		return err
	}

	msg := model.Message{
		ID:        c.newID(),
		Author:    username,
		Room:      ev.Room,
		Type:      ev.Type,
		Timestamp: c.now(),
	}

	if ev.Type == model.MessageFile {
		f, err := c.store.GetFileShare(ev.FileID)
		if err != nil {
			return notFound("file not found", err)
		}
		msg.FileID = f.ID
		msg.FileName = f.OriginalName
		msg.FileSize = f.Size
		msg.Body = c.sanitize.Sanitize(ev.Body)
		if msg.Body == "" {
			msg.Body = c.sanitize.Sanitize(f.OriginalName)
		}
	} else {
		body, err := c.cleanBody(ev.Body)
		if err != nil {
			return err
		}
		msg.Body = body
	}

	if err := c.requireRoom(ev.Room); err != nil {
		return err
	}

	saved := c.hub.PublishMessage(func() *model.Message { return c.store.AppendMessage(msg) })
	c.store.IncrementMessageCount(username)
	metrics.MessagesTotal.WithLabelValues(saved.Type).Inc()
	return nil
}

func (c *Coordinator) handlePrivate(sess Session, ev *protocol.SendPrivate) error {
	sender := sess.Username()
	if err := c.checkNotBanned(sender); err != nil {
		return err
	}
	if err := c.allow(sender, ActionMessage); err != nil {
		return err
	}
	if ev.Recipient == sender {
		return validationf("cannot send a private message to yourself")
	}
	recipient, err := c.store.GetUser(ev.Recipient)
	if err != nil {
		return validationf("unknown recipient %q", ev.Recipient)
	}
	if recipient.HasBlocked(sender) || !c.store.Preferences(recipient.Username).AllowPrivate {
		return forbidden("recipient does not accept private messages from you")
	}
	body, err := c.cleanBody(ev.Body)
	if err != nil {
		return err
	}

	pm := model.PrivateMessage{
		ID:        c.newID(),
		Sender:    sender,
		Recipient: recipient.Username,
		Body:      body,
		Timestamp: c.now(),
	}
	if err := c.store.AppendPrivateMessage(pm); err != nil {
		return internal("store private message", err)
	}
	metrics.PrivateMessagesTotal.Inc()

	out := protocol.PrivateMessageEvent{PrivateMessage: pm}
	c.hub.SendTo(sess.ID(), out)
	if p, ok := c.presence.Get(recipient.Username); ok {
		c.hub.SendTo(p.SessionID, out)
	}
	return nil
}

func (c *Coordinator) handleJoinRoom(sess Session, ev *protocol.JoinRoom) error {
	username := sess.Username()
	if err := c.requireRoom(ev.Room); err != nil {
		return err
	}

	c.hub.Subscribe(ev.Room, sess)
	c.presence.SetRoom(username, ev.Room)
	if err := c.store.AddRoomMember(ev.Room, username); err != nil {
		return internal("add room member", err)
	}

	c.hub.Publish(ev.Room, protocol.RoomJoined{Username: username, Room: ev.Room}, "")
	return nil
}

func (c *Coordinator) handleLeaveRoom(sess Session, ev *protocol.LeaveRoom) error {
	username := sess.Username()
	if err := c.requireRoom(ev.Room); err != nil {
		return err
	}

	c.hub.Unsubscribe(ev.Room, sess)
	if p, ok := c.presence.Get(username); ok && p.Room == ev.Room {
		c.presence.SetRoom(username, model.DefaultRoom)
	}
	if err := c.store.RemoveRoomMember(ev.Room, username); err != nil {
		return internal("remove room member", err)
	}

	left := protocol.RoomLeft{Username: username, Room: ev.Room}
	c.hub.Publish(ev.Room, left, "")
	c.hub.SendTo(sess.ID(), left)
	return nil
}

func (c *Coordinator) handleTyping(sess Session, ev *protocol.Typing) error {
	c.hub.Publish(ev.Room, protocol.UserTyping{
		Username: sess.Username(),
		Typing:   ev.Typing,
		Room:     ev.Room,
	}, sess.ID())
	return nil
}

func (c *Coordinator) handleReact(sess Session, ev *protocol.React) error {
	username := sess.Username()
	msg, err := c.store.GetMessage(ev.MessageID)
	if err != nil {
		return notFound("message not found", err)
	}
	action, total, err := c.store.ToggleReaction(ev.MessageID, username, ev.Symbol)
	if err != nil {
		return notFound("message not found", err)
	}

	c.hub.Publish(msg.Room, protocol.ReactionChanged{
		MessageID: ev.MessageID,
		Username:  username,
		Symbol:    ev.Symbol,
		Action:    action,
		Total:     total,
	}, "")
	return nil
}

func (c *Coordinator) handleCreateRoom(sess Session, ev *protocol.CreateRoom) error {
	username := sess.Username()
	if err := c.checkNotBanned(username); err != nil {
		return err
	}

	name := c.sanitize.Sanitize(ev.Name)
	// Length and id come from the unescaped text, so "R&D" is r&d, not r&amp;d.
	plain := html.UnescapeString(name)
	if n := utf8.RuneCountInString(plain); n < protocol.MinRoomName || n > protocol.MaxRoomName {
		return validationf("room name must be %d to %d characters", protocol.MinRoomName, protocol.MaxRoomName)
	}
	id := model.RoomID(plain)
	room, err := c.store.CreateRoom(model.Room{
		ID:          id,
		Name:        name,
		Description: c.sanitize.Sanitize(ev.Description),
		CreatedBy:   username,
	})
	if errors.Is(err, store.ErrRoomExists) {
		return validationf("room %q already exists", id)
	}
	if err != nil {
		return internal("create room", err)
	}

	c.hub.Subscribe(id, sess)
	c.hub.PublishAll(protocol.NewRoom{RoomID: id, RoomData: room})
	c.log.Info().Str("user", username).Str("room", id).Msg("room created")
	return nil
}

func (c *Coordinator) handleCreatePoll(sess Session, ev *protocol.CreatePoll) error {
	username := sess.Username()
	if err := c.checkNotBanned(username); err != nil {
		return err
	}
	if err := c.allow(username, ActionMessage); err != nil {
		return err
	}
	if err := c.requireRoom(ev.Room); err != nil {
		return err
	}

	question, err := c.cleanBody(ev.Question)
	if err != nil {
		return err
	}
	options := make([]string, 0, len(ev.Options))
	seen := make(map[string]struct{}, len(ev.Options))
	for _, o := range ev.Options {
		o = c.sanitize.Sanitize(o)
		if _, dup := seen[o]; o == "" || dup {
			continue
		}
		seen[o] = struct{}{}
		options = append(options, o)
	}
	if len(options) < protocol.MinPollOptions {
		return validationf("a poll needs at least %d distinct options", protocol.MinPollOptions)
	}

	now := c.now()
	poll := &model.Poll{
		ID:        c.newID(),
		Question:  question,
		Options:   options,
		CreatedBy: username,
		CreatedAt: now,
		Room:      ev.Room,
		Active:    true,
	}
	msg := model.Message{
		ID:        c.newID(),
		Author:    username,
		Body:      question,
		Timestamp: now,
		Room:      ev.Room,
		Type:      model.MessagePoll,
		Poll:      poll,
	}
	c.hub.PublishMessage(func() *model.Message { return c.store.AppendMessage(msg) })
	c.store.IncrementMessageCount(username)
	metrics.MessagesTotal.WithLabelValues(model.MessagePoll).Inc()
	return nil
}

func (c *Coordinator) handleVote(sess Session, ev *protocol.VotePoll) error {
	existing, err := c.store.FindPoll(ev.PollID)
	if err != nil {
		return notFound("poll not found", err)
	}
	if !existing.Active {
		return validationf("poll is closed")
	}
	poll, err := c.store.Vote(ev.PollID, sess.Username(), ev.Option)
	switch {
	case errors.Is(err, store.ErrInvalidOption):
		return validationf("%q is not an option of this poll", ev.Option)
	case err != nil:
		return notFound("poll not found", err)
	}

	c.hub.Publish(poll.Room, protocol.PollUpdated{PollID: poll.ID, Room: poll.Room, Options: poll.Votes}, "")
	return nil
}

func (c *Coordinator) handleStatus(sess Session, ev *protocol.StatusChange) error {
	username := sess.Username()
	status := c.sanitize.Sanitize(ev.Status)
	if _, err := c.store.UpdateUser(username, store.UserUpdate{Status: &status}); err != nil {
		return internal("update status", err)
	}
	c.hub.PublishAll(protocol.StatusUpdated{Username: username, Status: status})
	return nil
}

func (c *Coordinator) handleHistory(sess Session, ev *protocol.FetchHistory) error {
	if err := c.requireRoom(ev.Room); err != nil {
		return err
	}
	return c.reply(sess, protocol.History{Room: ev.Room, Messages: c.store.RecentInRoom(ev.Room, ev.Limit)})
}

func (c *Coordinator) handleUserInfo(sess Session, ev *protocol.GetUserInfo) error {
	u, err := c.store.GetUser(ev.Username)
	if err != nil {
		return notFound("user not found", err)
	}
	return c.reply(sess, protocol.UserInfo{
		Username:     u.Username,
		Status:       u.Status,
		Bio:          u.Bio,
		JoinDate:     u.JoinDate,
		IsAdmin:      u.IsAdmin,
		MessageCount: c.store.Stats(u.Username).MessageCount,
		IsOnline:     c.presence.IsOnline(u.Username),
	})
}

func (c *Coordinator) handleMarkRead(sess Session, ev *protocol.MarkRead) error {
	username := sess.Username()
	if err := c.requireRoom(ev.Room); err != nil {
		return err
	}
	if err := c.store.MarkRead(username, ev.Room); err != nil {
		return internal("mark read", err)
	}
	u, err := c.store.GetUser(username)
	if err != nil {
		return internal("mark read", err)
	}
	return c.reply(sess, protocol.ReadMarked{Room: ev.Room, At: u.LastRead[ev.Room]})
}

func (c *Coordinator) handleBlock(sess Session, target string, block bool) error {
	username := sess.Username()
	if target == username {
		return validationf("cannot block yourself")
	}
	if err := c.store.SetBlocked(username, target, block); err != nil {
		return notFound("user not found", err)
	}
	u, err := c.store.GetUser(username)
	if err != nil {
		return internal("load block list", err)
	}
	blocked := u.Blocked
	if blocked == nil {
		blocked = []string{}
	}
	return c.reply(sess, protocol.BlockList{Blocked: blocked})
}

func (c *Coordinator) handleProfile(sess Session, ev *protocol.UpdateProfile) error {
	username := sess.Username()
	upd := store.UserUpdate{}
	if ev.Status != nil {
		s := c.sanitize.Sanitize(*ev.Status)
		upd.Status = &s
	}
	if ev.Bio != nil {
		b := c.sanitize.Sanitize(*ev.Bio)
		upd.Bio = &b
	}
	u, err := c.store.UpdateUser(username, upd)
	if err != nil {
		return internal("update profile", err)
	}

	c.reply(sess, protocol.ProfileUpdated{Username: u.Username, Status: u.Status, Bio: u.Bio})
	if upd.Status != nil {
		c.hub.PublishAll(protocol.StatusUpdated{Username: u.Username, Status: u.Status})
	}
	return nil
}

func (c *Coordinator) handlePreferences(sess Session, ev *protocol.UpdatePreferences) error {
	username := sess.Username()
	prefs := ev.Apply(c.store.Preferences(username))
	if err := c.store.UpdatePreferences(username, prefs); err != nil {
		return internal("update preferences", err)
	}
	return c.reply(sess, protocol.PreferencesChanged{Preferences: prefs})
}

func (c *Coordinator) requireAdmin(username string) error {
	u, err := c.store.GetUser(username)
	if err != nil || !u.IsAdmin {
		return forbidden("admin privileges required")
	}
	return nil
}

func (c *Coordinator) handleBan(sess Session, ev *protocol.BanUser) error {
	admin := sess.Username()
	if err := c.requireAdmin(admin); err != nil {
		return err
	}
	if ev.Username == admin {
		return validationf("cannot ban yourself")
	}

	c.store.Ban(ev.Username)
	c.log.Warn().Str("security_event", "user banned").Str("user", ev.Username).Str("by", admin).Msg("security event")

	if p, ok := c.presence.Get(ev.Username); ok && c.presence.Unregister(ev.Username, p.SessionID) {
		c.hub.Close(p.SessionID)
		metrics.ActiveUsers.Set(float64(c.presence.Count()))
		c.hub.PublishAll(protocol.UserLeft{Username: ev.Username, ActiveUsers: c.presence.ListActive()})
	}
	c.hub.PublishAll(protocol.UserBanned{Username: ev.Username})
	return nil
}

func (c *Coordinator) handleUnban(sess Session, ev *protocol.UnbanUser) error {
	admin := sess.Username()
	if err := c.requireAdmin(admin); err != nil {
		return err
	}
	if !c.store.Unban(ev.Username) {
		return notFound("user is not banned", nil)
	}
	c.log.Info().Str("user", ev.Username).Str("by", admin).Msg("user unbanned")
	return c.reply(sess, protocol.UserUnbanned{Username: ev.Username})
}

func (c *Coordinator) handleCallRequest(sess Session, ev *protocol.CallRequest) error {
	caller := sess.Username()
	if ev.Target == caller {
		return validationf("cannot call yourself")
	}
	p, ok := c.presence.Get(ev.Target)
	if !ok {
		return notFound("user is not online", nil)
	}
	if target, err := c.store.GetUser(ev.Target); err == nil && target.HasBlocked(caller) {
		return forbidden("user does not accept calls from you")
	}
	c.hub.SendTo(p.SessionID, protocol.IncomingCall{Caller: caller, CallID: c.newID(), Media: ev.Media})
	return nil
}

func (c *Coordinator) handleCallResponse(sess Session, ev *protocol.CallResponse) error {
	p, ok := c.presence.Get(ev.Caller)
	if !ok {
		return notFound("caller is not online", nil)
	}
	c.hub.SendTo(p.SessionID, protocol.CallAnswered{
		Responder: sess.Username(),
		CallID:    ev.CallID,
		Accepted:  ev.Accepted,
		Media:     ev.Media,
	})
	return nil
}

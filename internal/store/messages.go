package store

import (
	"strings"
	"time"

	"github.com/Tyrowin/roomcast/internal/model"
)

// searchWindow is how far back SearchMessages looks.
const searchWindow = 200

// AppendMessage adds msg to the history, evicting the oldest entry once the
// history is full. The message must carry its id and timestamp.
func (s *Store) AppendMessage(msg model.Message) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Poll != nil && msg.Poll.Votes == nil {
		msg.Poll.Votes = make(map[string][]string, len(msg.Poll.Options))
		for _, opt := range msg.Poll.Options {
			msg.Poll.Votes[opt] = []string{}
		}
	}
	s.commit(&appendMessage{Message: msg})
	return msg.Clone()
}

// HistoryLen returns the number of stored room messages.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.MessageHistory)
}

// GetMessage returns a copy of a message still present in history.
func (s *Store) GetMessage(id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.doc.findMessage(id)
	if m == nil {
		return nil, ErrMessageNotFound
	}
	return m.Clone(), nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *Store) RecentMessages(limit int) []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.doc.MessageHistory
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]*model.Message, 0, limit)
	for _, m := range h[len(h)-limit:] {
		out = append(out, m.Clone())
	}
	return out
}

// RecentInRoom returns up to limit of the newest messages of room, oldest first.
func (s *Store) RecentInRoom(room string, limit int) []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil
	}
	var out []*model.Message
	for i := len(s.doc.MessageHistory) - 1; i >= 0 && len(out) < limit; i-- {
		if m := s.doc.MessageHistory[i]; m.Room == room {
			out = append(out, m.Clone())
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// SearchMessages does a case-insensitive substring match over the most recent
// history and returns at most limit hits, newest first.
func (s *Store) SearchMessages(query string, limit int) []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return nil
	}
	h := s.doc.MessageHistory
	start := len(h) - searchWindow
	if start < 0 {
		start = 0
	}
	var out []*model.Message
	for i := len(h) - 1; i >= start && len(out) < limit; i-- {
		if strings.Contains(strings.ToLower(h[i].Body), q) {
			out = append(out, h[i].Clone())
		}
	}
	return out
}

// AppendPrivateMessage stores msg under the unordered sender/recipient pair.
func (s *Store) AppendPrivateMessage(msg model.PrivateMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Users[msg.Sender]; !ok {
		return ErrUserNotFound
	}
	if _, ok := s.doc.Users[msg.Recipient]; !ok {
		return ErrUserNotFound
	}
	s.commit(&appendPrivate{Message: msg})
	return nil
}

// PrivateMessages returns the conversation between a and b in send order.
// The result does not depend on argument order.
func (s *Store) PrivateMessages(a, b string) []model.PrivateMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread := s.doc.PrivateMessages[model.PairKey(a, b)]
	out := make([]model.PrivateMessage, 0, len(thread))
	for _, m := range thread {
		out = append(out, *m)
	}
	return out
}

// ToggleReaction adds the (user, symbol) reaction to a message or removes it
// if already present. It returns "added" or "removed" and the resulting number
// of reactions on the message.
func (s *Store) ToggleReaction(messageID, username, symbol string) (action string, total int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.findMessage(messageID) == nil {
		return "", 0, ErrMessageNotFound
	}
	action = "added"
	for _, r := range s.doc.Reactions[messageID] {
		if r.Username == username && r.Symbol == symbol {
			action = "removed"
			break
		}
	}
	s.commit(&toggleReaction{
		MessageID: messageID,
		Reaction:  model.Reaction{Username: username, Symbol: symbol, Timestamp: s.now()},
	})
	return action, len(s.doc.Reactions[messageID]), nil
}

// Reactions returns a copy of the reactions on a message.
func (s *Store) Reactions(messageID string) []model.Reaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Reaction{}, s.doc.Reactions[messageID]...)
}

// FindPoll returns a copy of the poll carried by a message in history.
func (s *Store) FindPoll(pollID string) (*model.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.doc.findPoll(pollID)
	if p == nil {
		return nil, ErrPollNotFound
	}
	return p.Clone(), nil
}

// Vote records username's vote for option, withdrawing any earlier vote on
// the same poll first.
func (s *Store) Vote(pollID, username, option string) (*model.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.doc.findPoll(pollID)
	if p == nil {
		return nil, ErrPollNotFound
	}
	if _, ok := p.Votes[option]; !ok {
		return nil, ErrInvalidOption
	}
	if current, ok := p.VoteOf(username); ok && current == option {
		return p.Clone(), nil
	}
	s.commit(&castVote{PollID: pollID, Username: username, Option: option})
	return p.Clone(), nil
}

// Cleanup drops messages older than maxAge and reactions whose message is no
// longer in history. It returns the number of removed entries.
func (s *Store) Cleanup(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	live := make(map[string]struct{}, len(s.doc.MessageHistory))
	removed := 0
	for _, m := range s.doc.MessageHistory {
		if m.Timestamp.After(cutoff) {
			live[m.ID] = struct{}{}
		} else {
			removed++
		}
	}
	for id := range s.doc.Reactions {
		if _, ok := live[id]; !ok {
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	s.commit(&cleanupHistory{Cutoff: cutoff})
	s.log.Info().Int("removed", removed).Msg("cleaned up old history")
	return removed
}

// Package broadcast fans server events out to connected sessions. Sessions
// are attached to the hub once and may subscribe to any number of named
// channels (rooms). Delivery never blocks: a subscriber whose queue is full is
// evicted and closed.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomcast/internal/metrics"
	"github.com/Tyrowin/roomcast/internal/model"
	"github.com/Tyrowin/roomcast/internal/protocol"
)

// Subscriber is one connected session as seen by the hub.
type Subscriber interface {
	ID() string
	// Enqueue hands a frame to the session without blocking and reports
	// whether it was accepted.
	Enqueue(frame []byte) bool
	Close()
}

// HistorySource supplies the catch-up burst sent on subscribe.
type HistorySource interface {
	RecentInRoom(room string, limit int) []*model.Message
}

// Hub is the channel registry.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]Subscriber
	sessions map[string]Subscriber
	closed   bool

	// feed orders persisted room messages against catch-up reads, so a
	// subscriber sees each message exactly once and in history order.
	feed sync.Mutex

	history HistorySource
	catchUp int
	log     zerolog.Logger
}

// NewHub returns an empty hub. history may be nil, in which case subscribing
// sends no catch-up.
func NewHub(history HistorySource, catchUp int, logger zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[string]Subscriber),
		sessions: make(map[string]Subscriber),
		history:  history,
		catchUp:  catchUp,
		log:      logger,
	}
}

// Attach adds sub to the set of sessions reached by PublishAll and SendTo.
// It returns false once the hub is shut down.
func (h *Hub) Attach(sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.sessions[sub.ID()] = sub
	metrics.WsConnections.Set(float64(len(h.sessions)))
	return true
}

// Detach removes sub from the hub and from every channel.
func (h *Hub) Detach(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(sub.ID())
}

func (h *Hub) detachLocked(id string) {
	delete(h.sessions, id)
	for name, subs := range h.channels {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.channels, name)
		}
	}
	metrics.WsConnections.Set(float64(len(h.sessions)))
}

// Subscribe adds sub to channel and sends it the most recent messages of the
// channel, oldest first.
func (h *Hub) Subscribe(channel string, sub Subscriber) {
	h.feed.Lock()
	defer h.feed.Unlock()

	h.mu.Lock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[string]Subscriber)
		h.channels[channel] = subs
	}
	subs[sub.ID()] = sub
	h.mu.Unlock()

	if h.history == nil || h.catchUp <= 0 {
		return
	}
	for _, msg := range h.history.RecentInRoom(channel, h.catchUp) {
		if !h.deliver(sub, protocol.MessageEvent{Message: msg}) {
			return
		}
	}
}

// PublishMessage runs persist and publishes the message it returns to the
// message's room. Persisting and publishing happen as one step relative to
// Subscribe. A nil result publishes nothing.
func (h *Hub) PublishMessage(persist func() *model.Message) *model.Message {
	h.feed.Lock()
	defer h.feed.Unlock()

	msg := persist()
	if msg == nil {
		return nil
	}
	h.Publish(msg.Room, protocol.MessageEvent{Message: msg}, "")
	return msg
}

// Unsubscribe removes sub from channel.
func (h *Hub) Unsubscribe(channel string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, sub.ID())
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

// Subscribers returns a snapshot of the sessions subscribed to channel.
func (h *Hub) Subscribers(channel string) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.channels[channel]
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// Sessions returns the number of attached sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish sends ev to every subscriber of channel except the session whose id
// equals exclude. It returns the number of subscribers reached.
func (h *Hub) Publish(channel string, ev protocol.Outbound, exclude string) int {
	return h.fanOut(ev, exclude, func() []Subscriber { return h.Subscribers(channel) })
}

// PublishAll sends ev to every attached session.
func (h *Hub) PublishAll(ev protocol.Outbound) int {
	return h.fanOut(ev, "", h.sessionSnapshot)
}

// SendTo delivers ev to a single session.
func (h *Hub) SendTo(sessionID string, ev protocol.Outbound) bool {
	h.mu.RLock()
	sub, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.deliver(sub, ev)
}

// Close closes the session with the given id, if attached.
func (h *Hub) Close(sessionID string) bool {
	h.mu.Lock()
	sub, ok := h.sessions[sessionID]
	if ok {
		h.detachLocked(sessionID)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
	return ok
}

// Shutdown closes every attached session. Later Attach calls fail.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	subs := make([]Subscriber, 0, len(h.sessions))
	for _, s := range h.sessions {
		subs = append(subs, s)
	}
	h.sessions = make(map[string]Subscriber)
	h.channels = make(map[string]map[string]Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	metrics.WsConnections.Set(0)
	h.log.Info().Int("sessions", len(subs)).Msg("broadcast hub shut down")
}

func (h *Hub) sessionSnapshot() []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Subscriber, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// fanOut marshals ev once and enqueues it to every target.
func (h *Hub) fanOut(ev protocol.Outbound, exclude string, targets func() []Subscriber) int {
	frame, err := protocol.Encode(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", ev.EventType()).Msg("failed to encode event")
		return 0
	}

	var failed []Subscriber
	reached := 0
	for _, sub := range targets() {
		if exclude != "" && sub.ID() == exclude {
			continue
		}
		if sub.Enqueue(frame) {
			reached++
			continue
		}
		failed = append(failed, sub)
	}
	h.evict(failed)
	return reached
}

func (h *Hub) deliver(sub Subscriber, ev protocol.Outbound) bool {
	frame, err := protocol.Encode(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", ev.EventType()).Msg("failed to encode event")
		return false
	}
	if sub.Enqueue(frame) {
		return true
	}
	h.evict([]Subscriber{sub})
	return false
}

// evict drops subscribers whose queue was full and closes them outside the lock.
func (h *Hub) evict(failed []Subscriber) {
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	var toClose []Subscriber
	for _, sub := range failed {
		if _, ok := h.sessions[sub.ID()]; ok {
			h.detachLocked(sub.ID())
			toClose = append(toClose, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range toClose {
		metrics.BroadcastEvictionsTotal.Inc()
		h.log.Warn().Str("session", sub.ID()).Msg("session evicted due to full send queue")
		sub.Close()
	}
}

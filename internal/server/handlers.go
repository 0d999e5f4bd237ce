package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomcast/internal/auth"
	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/protocol"
)

// WebSocketHandler authenticates the request, upgrades it and starts the
// client pumps. Authentication and the login rate limit are checked before the
// upgrade so a rejected client gets a plain HTTP status.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ip := remoteIP(r)
	if !s.coord.AllowLogin(ip) {
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	username, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		s.log.Warn().Str("security_event", "authentication failed").Str("addr", ip).Err(err).Msg("security event")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("addr", ip).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	// Sessions are tracked before Connect so Wait also covers a handshake
	// that is still touching the store.
	if !s.track(2) {
		refuse(conn, errShuttingDown)
		return
	}
	client := NewClient(conn, s.coord, s.newSessionID(), username, ip, s.frameLimiter(), s.log)
	if err := s.coord.Connect(s.ctx, client); err != nil {
		s.wg.Done()
		s.wg.Done()
		refuse(conn, err)
		return
	}

	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump(s.ctx)
	}()
}

var errShuttingDown = &chat.Error{Code: chat.CodeInternal, Message: "server is shutting down"}

// refuse reports a failed Connect on the raw connection and closes it.
func refuse(conn *websocket.Conn, err error) {
	e := chat.AsError(err)
	if frame, encErr := protocol.Encode(protocol.Error{Code: string(e.Code), Message: e.Message}); encErr == nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	code := websocket.ClosePolicyViolation
	if errors.Is(e, chat.ErrInternal) {
		code = websocket.CloseTryAgainLater
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, e.Message))
	_ = conn.Close()
}

// HealthHandler responds with a plain-text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("roomcast server is running!"))
}

// StatsHandler reports store totals and live session counts as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.coord.Stats()); err != nil {
		s.log.Error().Err(err).Msg("encode stats")
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomcast/internal/auth"
	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/config"
)

// Server owns the HTTP surface: the WebSocket endpoint plus health, stats and
// metrics routes.
type Server struct {
	cfg      *config.Config
	coord    *chat.Coordinator
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	log      zerolog.Logger

	// ctx outlives individual requests; sessions are handled under it.
	ctx context.Context
	wg  sync.WaitGroup

	// mu guards draining and keeps wg.Add from racing with Wait.
	mu       sync.Mutex
	draining bool
}

// New builds a Server. ctx bounds the lifetime of every session.
func New(ctx context.Context, cfg *config.Config, coord *chat.Coordinator, verifier *auth.Verifier, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		coord:    coord,
		verifier: verifier,
		log:      logger,
		ctx:      ctx,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) frameLimiter() *rate.Limiter {
	fl := s.cfg.FrameLimit
	return rate.NewLimiter(rate.Limit(float64(fl.Burst)/fl.RefillInterval.Seconds()), fl.Burst)
}

func (s *Server) newSessionID() string {
	return uuid.NewString()
}

// track registers n session goroutines. It returns false once Wait has
// started, in which case the caller must not start them.
func (s *Server) track(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(n)
	return true
}

// Wait stops new sessions from starting and blocks until every session's
// pumps have exited or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateServer creates the HTTP server with the production timeouts.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

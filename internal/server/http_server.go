package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// StartServer listens until the server is shut down. A graceful shutdown is
// not reported as an error.
func (s *Server) StartServer(srv *http.Server) error {
	s.log.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting connections and waits for in-flight HTTP
// requests. Upgraded WebSocket connections are closed by the coordinator.
func (s *Server) ShutdownServer(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	s.log.Info().Msg("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	s.log.Info().Msg("HTTP server shutdown completed")
	return nil
}

package server

import (
	"net/http"
	"slices"

	"github.com/Tyrowin/roomcast/internal/config"
)

func (s *Server) isOriginAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	origin, ok := config.NormalizeOrigin(originHeader)
	if !ok {
		return false
	}
	if s.cfg.AllowAllOrigins {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.isOriginAllowed(r) {
		return true
	}
	s.log.Warn().Str("security_event", "disallowed origin").Str("origin", r.Header.Get("Origin")).
		Msg("blocked websocket connection")
	return false
}

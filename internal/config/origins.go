package config

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// NormalizeOrigins lowercases scheme and host of every configured origin and
// drops invalid entries. A "*" entry turns on allowAll.
func NormalizeOrigins(origins []string) (normalized []string, allowAll bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized = make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		n, ok := NormalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, n)
	}

	return normalized, allowAll
}

// NormalizeOrigin returns scheme://host in lower case.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Package config loads the runtime configuration of the chat server from the
// environment, after an optional .env file has been merged in.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomcast/internal/ratelimit"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// FrameLimitConfig defines the per-connection inbound frame rate.
type FrameLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds every tunable of the server.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	AllowedOrigins  []string
	AllowAllOrigins bool
	MaxMessageSize  int64
	FrameLimit      FrameLimitConfig
	ShutdownTimeout time.Duration

	DataFile        string
	StoreBackend    string
	PersistenceMode string
	CompactEvery    int
	MaxHistory      int

	JWTSecret  string
	AdminUsers []string

	MessageRateLimit ratelimit.Policy
	UploadRateLimit  ratelimit.Policy
	LoginRateLimit   ratelimit.Policy

	CatchUpMessages        int
	MaxUploadSize          int64
	SessionExpiry          time.Duration
	SessionCleanupInterval time.Duration
	HistoryMaxAge          time.Duration
}

func defaultConfig() Config {
	return Config{
		Port:     ":8080",
		Env:      "dev",
		LogLevel: "info",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 8192,
		FrameLimit: FrameLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		ShutdownTimeout: 10 * time.Second,

		DataFile:        "chat_data.json",
		StoreBackend:    BackendFile,
		PersistenceMode: "journal",
		CompactEvery:    500,
		MaxHistory:      1000,

		JWTSecret: "dev-secret-change-me",

		MessageRateLimit: ratelimit.MessagePolicy,
		UploadRateLimit:  ratelimit.UploadPolicy,
		LoginRateLimit:   ratelimit.LoginPolicy,

		CatchUpMessages:        20,
		MaxUploadSize:          16 << 20,
		SessionExpiry:          24 * time.Hour,
		SessionCleanupInterval: time.Hour,
	}
}

// Sanitize replaces out-of-range values with defaults and normalizes the
// origin allow-list.
func Sanitize(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.Env == "" {
		cfg.Env = def.Env
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.FrameLimit.Burst <= 0 {
		cfg.FrameLimit.Burst = def.FrameLimit.Burst
	}
	if cfg.FrameLimit.RefillInterval <= 0 {
		cfg.FrameLimit.RefillInterval = def.FrameLimit.RefillInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DataFile == "" {
		cfg.DataFile = def.DataFile
	}
	switch cfg.StoreBackend {
	case BackendFile, BackendSQLite:
	default:
		cfg.StoreBackend = def.StoreBackend
	}
	switch cfg.PersistenceMode {
	case "snapshot", "journal":
	default:
		cfg.PersistenceMode = def.PersistenceMode
	}
	if cfg.CompactEvery <= 0 {
		cfg.CompactEvery = def.CompactEvery
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.MessageRateLimit.Limit <= 0 || cfg.MessageRateLimit.Window <= 0 {
		cfg.MessageRateLimit = def.MessageRateLimit
	}
	if cfg.UploadRateLimit.Limit <= 0 || cfg.UploadRateLimit.Window <= 0 {
		cfg.UploadRateLimit = def.UploadRateLimit
	}
	if cfg.LoginRateLimit.Limit <= 0 || cfg.LoginRateLimit.Window <= 0 {
		cfg.LoginRateLimit = def.LoginRateLimit
	}
	if cfg.CatchUpMessages < 0 {
		cfg.CatchUpMessages = def.CatchUpMessages
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = def.MaxUploadSize
	}
	if cfg.SessionExpiry <= 0 {
		cfg.SessionExpiry = def.SessionExpiry
	}
	if cfg.SessionCleanupInterval <= 0 {
		cfg.SessionCleanupInterval = def.SessionCleanupInterval
	}
	if cfg.HistoryMaxAge < 0 {
		cfg.HistoryMaxAge = 0
	}

	cfg.AllowedOrigins, cfg.AllowAllOrigins = NormalizeOrigins(cfg.AllowedOrigins)
	cfg.AdminUsers = trimList(cfg.AdminUsers)
	return cfg
}

// NewConfig returns the defaults, sanitized.
func NewConfig() *Config {
	cfg := Sanitize(defaultConfig())
	return &cfg
}

// Load merges envFile (if it exists) into the environment and then reads the
// configuration from it.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return NewConfigFromEnv(), nil
}

// NewConfigFromEnv creates a Config from environment variables. Unset or
// unparsable values fall back to the defaults.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.FrameLimit.Burst = parseIntValue(burst, cfg.FrameLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.FrameLimit.RefillInterval = parseSeconds(interval, cfg.FrameLimit.RefillInterval)
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}

	if file := os.Getenv("DATA_FILE"); file != "" {
		cfg.DataFile = file
	}
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		cfg.StoreBackend = strings.ToLower(strings.TrimSpace(backend))
	}
	if mode := os.Getenv("PERSISTENCE_MODE"); mode != "" {
		cfg.PersistenceMode = strings.ToLower(strings.TrimSpace(mode))
	}
	if every := os.Getenv("COMPACT_EVERY"); every != "" {
		cfg.CompactEvery = parseIntValue(every, cfg.CompactEvery)
	}
	if maxHistory := os.Getenv("MAX_HISTORY"); maxHistory != "" {
		cfg.MaxHistory = parseIntValue(maxHistory, cfg.MaxHistory)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if admins := os.Getenv("ADMIN_USERS"); admins != "" {
		cfg.AdminUsers = parseList(admins)
	}

	if v := os.Getenv("MESSAGE_RATE_LIMIT"); v != "" {
		cfg.MessageRateLimit = parsePolicy(v, cfg.MessageRateLimit)
	}
	if v := os.Getenv("UPLOAD_RATE_LIMIT"); v != "" {
		cfg.UploadRateLimit = parsePolicy(v, cfg.UploadRateLimit)
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT"); v != "" {
		cfg.LoginRateLimit = parsePolicy(v, cfg.LoginRateLimit)
	}

	if v := os.Getenv("CATCH_UP_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CatchUpMessages = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		cfg.MaxUploadSize = parseInt64Value(v, cfg.MaxUploadSize)
	}
	if v := os.Getenv("SESSION_EXPIRY"); v != "" {
		cfg.SessionExpiry = parseDuration(v, cfg.SessionExpiry)
	}
	if v := os.Getenv("SESSION_CLEANUP_INTERVAL"); v != "" {
		cfg.SessionCleanupInterval = parseDuration(v, cfg.SessionCleanupInterval)
	}
	if v := os.Getenv("HISTORY_MAX_AGE"); v != "" {
		cfg.HistoryMaxAge = parseDuration(v, cfg.HistoryMaxAge)
	}

	cfg = Sanitize(cfg)
	return &cfg
}

// IsAdmin reports whether username is listed in ADMIN_USERS.
func (c *Config) IsAdmin(username string) bool {
	for _, a := range c.AdminUsers {
		if a == username {
			return true
		}
	}
	return false
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts a bare number of seconds.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// parseDuration accepts a Go duration ("90s", "24h") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return parseSeconds(value, defaultValue)
}

// parsePolicy reads "<limit>/<window>", for example "30/60s" or "5/5m".
func parsePolicy(value string, defaultValue ratelimit.Policy) ratelimit.Policy {
	limitStr, windowStr, ok := strings.Cut(value, "/")
	if !ok {
		log.Warn().Str("value", value).Msg("ignoring malformed rate limit, expected <limit>/<window>")
		return defaultValue
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil || limit <= 0 {
		log.Warn().Str("value", value).Msg("ignoring rate limit with invalid count")
		return defaultValue
	}
	window := parseDuration(strings.TrimSpace(windowStr), 0)
	if window <= 0 {
		log.Warn().Str("value", value).Msg("ignoring rate limit with invalid window")
		return defaultValue
	}
	return ratelimit.Policy{Limit: limit, Window: window}
}

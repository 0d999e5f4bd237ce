package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomcast/internal/ratelimit"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, BackendFile, cfg.StoreBackend)
	assert.Equal(t, "journal", cfg.PersistenceMode)
	assert.Equal(t, 1000, cfg.MaxHistory)
	assert.Equal(t, 20, cfg.CatchUpMessages)
	assert.Equal(t, ratelimit.MessagePolicy, cfg.MessageRateLimit)
	assert.Equal(t, int64(16<<20), cfg.MaxUploadSize)
	assert.Equal(t, 24*time.Hour, cfg.SessionExpiry)
	assert.Equal(t, time.Hour, cfg.SessionCleanupInterval)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("ALLOWED_ORIGINS", "https://Chat.Example.com, *, not-a-url")
	t.Setenv("MAX_MESSAGE_SIZE", "4096")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("PERSISTENCE_MODE", "snapshot")
	t.Setenv("ADMIN_USERS", "root, alice ,")
	t.Setenv("MESSAGE_RATE_LIMIT", "10/30s")
	t.Setenv("SESSION_EXPIRY", "2h")
	t.Setenv("HISTORY_MAX_AGE", "720h")
	t.Setenv("CATCH_UP_MESSAGES", "0")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
	assert.True(t, cfg.AllowAllOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.FrameLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.FrameLimit.RefillInterval)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "snapshot", cfg.PersistenceMode)
	assert.Equal(t, []string{"root", "alice"}, cfg.AdminUsers)
	assert.True(t, cfg.IsAdmin("alice"))
	assert.False(t, cfg.IsAdmin("bob"))
	assert.Equal(t, ratelimit.Policy{Limit: 10, Window: 30 * time.Second}, cfg.MessageRateLimit)
	assert.Equal(t, 2*time.Hour, cfg.SessionExpiry)
	assert.Equal(t, 720*time.Hour, cfg.HistoryMaxAge)
	assert.Equal(t, 0, cfg.CatchUpMessages)
}

func TestInvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(t *testing.T, cfg *Config)
	}{
		{"negative size", "MAX_MESSAGE_SIZE", "-1", func(t *testing.T, cfg *Config) {
			assert.Equal(t, int64(8192), cfg.MaxMessageSize)
		}},
		{"zero burst", "RATE_LIMIT_BURST", "0", func(t *testing.T, cfg *Config) {
			assert.Equal(t, 5, cfg.FrameLimit.Burst)
		}},
		{"unknown backend", "STORE_BACKEND", "postgres", func(t *testing.T, cfg *Config) {
			assert.Equal(t, BackendFile, cfg.StoreBackend)
		}},
		{"unknown mode", "PERSISTENCE_MODE", "wal", func(t *testing.T, cfg *Config) {
			assert.Equal(t, "journal", cfg.PersistenceMode)
		}},
		{"policy without window", "UPLOAD_RATE_LIMIT", "5", func(t *testing.T, cfg *Config) {
			assert.Equal(t, ratelimit.UploadPolicy, cfg.UploadRateLimit)
		}},
		{"policy with bad count", "LOGIN_RATE_LIMIT", "x/5m", func(t *testing.T, cfg *Config) {
			assert.Equal(t, ratelimit.LoginPolicy, cfg.LoginRateLimit)
		}},
		{"bad duration", "SESSION_EXPIRY", "soon", func(t *testing.T, cfg *Config) {
			assert.Equal(t, 24*time.Hour, cfg.SessionExpiry)
		}},
		{"seconds duration", "SESSION_CLEANUP_INTERVAL", "90", func(t *testing.T, cfg *Config) {
			assert.Equal(t, 90*time.Second, cfg.SessionCleanupInterval)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			tt.check(t, NewConfigFromEnv())
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DATA_FILE=/tmp/from-dotenv.json\n"), 0o600))
	t.Setenv("DATA_FILE", "")
	os.Unsetenv("DATA_FILE")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.json", cfg.DataFile)
}

func TestLoadMissingEnvFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"HTTP://LOCALHOST:8080", "http://localhost:8080", true},
		{"https://example.com/path", "https://example.com", true},
		{"example.com", "", false},
		{"://bad", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeOrigin(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

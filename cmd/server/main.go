package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomcast/internal/auth"
	"github.com/Tyrowin/roomcast/internal/broadcast"
	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/config"
	"github.com/Tyrowin/roomcast/internal/logging"
	"github.com/Tyrowin/roomcast/internal/presence"
	"github.com/Tyrowin/roomcast/internal/ratelimit"
	"github.com/Tyrowin/roomcast/internal/sanitize"
	"github.com/Tyrowin/roomcast/internal/server"
	"github.com/Tyrowin/roomcast/internal/store"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file merged into the environment")
	tokenFor := flag.String("token", "", "print a development token for the given username and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the development token")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Env, cfg.LogLevel)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if *tokenFor != "" {
		token, err := verifier.Issue(*tokenFor, *tokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
		fmt.Println(token)
		return
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	st.Load()
	log.Info().Interface("summary", st.Summary()).Str("backend", cfg.StoreBackend).
		Str("mode", cfg.PersistenceMode).Msg("store loaded")

	coord := chat.New(chat.Options{
		Store:     st,
		Limiter:   ratelimit.New(),
		Presence:  presence.NewRegistry(nil),
		Hub:       broadcast.NewHub(st, cfg.CatchUpMessages, logging.Component("broadcast")),
		Sanitizer: sanitize.New(),
		Limits: chat.Limits{
			Message:         cfg.MessageRateLimit,
			Upload:          cfg.UploadRateLimit,
			Login:           cfg.LoginRateLimit,
			MaxUploadSize:   cfg.MaxUploadSize,
			SessionExpiry:   cfg.SessionExpiry,
			CleanupInterval: cfg.SessionCleanupInterval,
			HistoryMaxAge:   cfg.HistoryMaxAge,
		},
		IsAdmin: cfg.IsAdmin,
		Logger:  logging.Component("chat"),
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go func() {
		if err := coord.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("maintenance loop stopped")
		}
	}()

	srv := server.New(runCtx, cfg, coord, verifier, logging.Component("server"))
	httpServer := server.CreateServer(cfg.Port, srv.Routes())
	go func() {
		if err := srv.StartServer(httpServer); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	shutdownCtx, forceShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer forceShutdown()

	// One operation: gfshutdown runs separate operations concurrently, and
	// these steps must happen in order.
	wait := gfshutdown.GracefulShutdown(shutdownCtx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"server": func(ctx context.Context) error {
			if err := srv.ShutdownServer(ctx, httpServer, cfg.ShutdownTimeout); err != nil {
				log.Warn().Err(err).Msg("http shutdown incomplete")
			}
			stopRun()
			coord.Shutdown()
			if err := srv.Wait(ctx); err != nil {
				log.Warn().Err(err).Msg("sessions still open at shutdown")
			}
			return st.Close()
		},
	})

	if code := <-wait; code != 0 {
		log.Error().Int("exit_code", code).Msg("shutdown completed with errors")
		os.Exit(code)
	}
	log.Info().Msg("shutdown completed")
}

func openStore(cfg *config.Config) (*store.Store, error) {
	base := strings.TrimSuffix(cfg.DataFile, filepath.Ext(cfg.DataFile))

	var snap store.Snapshotter
	var err error
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		snap, err = store.NewSQLiteSnapshotter(base + ".db")
	default:
		snap, err = store.NewFileSnapshotter(cfg.DataFile)
	}
	if err != nil {
		return nil, err
	}

	return store.New(store.Options{
		Snapshotter:  snap,
		Mode:         store.Mode(cfg.PersistenceMode),
		JournalPath:  base + ".journal",
		CompactEvery: cfg.CompactEvery,
		MaxHistory:   cfg.MaxHistory,
		Logger:       logging.Component("store"),
	})
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/RemoteDesk/internal/adapters/http"
	"github.com/dkeye/RemoteDesk/internal/adapters/redis"
	"github.com/dkeye/RemoteDesk/internal/app"
	"github.com/dkeye/RemoteDesk/internal/config"
	"github.com/dkeye/RemoteDesk/internal/permission"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	reg := app.NewRegistry(app.RegistryOptions{
		IDLength:   cfg.Session.IDLength,
		AutoCreate: cfg.Session.AutoCreate,
	})

	var (
		presence app.PresenceStore = app.NopPresence{}
		profiles permission.ProfileStore = permission.NewMemoryProfileStore()
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable")
		}
		defer rdb.Close()

		p := redis.NewPresence(rdb, cfg.Redis.TTL)
		// sessions from a previous process are gone with its sockets
		if err := p.Reset(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to reset presence")
		}
		presence = p
		profiles = redis.NewProfileStore(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis for presence and profiles")
	}

	rdv := app.NewRendezvous(reg, app.SimplePolicy{}, presence)
	catalog := permission.NewCatalog(profiles)

	r := router.SetupRouter(ctx, cfg, rdv, catalog)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("RemoteDesk signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

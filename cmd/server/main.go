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

	router "github.com/dkeye/echomeet/internal/adapters/http"
	sig "github.com/dkeye/echomeet/internal/adapters/signal"
	"github.com/dkeye/echomeet/internal/adapters/store/memory"
	"github.com/dkeye/echomeet/internal/adapters/store/postgres"
	"github.com/dkeye/echomeet/internal/app/rooms"
	"github.com/dkeye/echomeet/internal/config"
	"github.com/dkeye/echomeet/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if cfg.Secret == "" {
		log.Warn().Msg("secret is empty, session cookies cannot be saved")
	}

	var store core.RoomDirectory
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.NewStore(ctx, cfg.Store.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres store")
		}
		defer pg.Close()
		store = pg
	default:
		store = memory.New()
	}

	broker := sig.NewBroker(sig.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		RateLimit:    cfg.Signal.RateLimit,
		RateInterval: cfg.Signal.RateInterval,
	})
	r := router.SetupRouter(ctx, cfg, rooms.NewService(store), broker)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Msg("echomeet server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	broker.Peers.CancelAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

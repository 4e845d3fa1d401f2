// Command meshclient joins a meeting as one mesh participant.
//
//	meshclient create
//	meshclient join <code>
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/echomeet/internal/adapters/identity"
	"github.com/dkeye/echomeet/internal/adapters/rtc"
	"github.com/dkeye/echomeet/internal/adapters/store/memory"
	"github.com/dkeye/echomeet/internal/adapters/store/postgres"
	"github.com/dkeye/echomeet/internal/app/directory"
	"github.com/dkeye/echomeet/internal/app/media"
	"github.com/dkeye/echomeet/internal/app/rooms"
	"github.com/dkeye/echomeet/internal/app/session"
	"github.com/dkeye/echomeet/internal/config"
	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

const leaveTimeout = 5 * time.Second

func flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("meshclient", pflag.ExitOnError)
	fs.String("mode", "release", "debug enables verbose console logging")
	fs.String("store.driver", "memory", "room directory: memory or postgres")
	fs.String("store.dsn", "", "postgres connection string")
	fs.String("signal.url", "ws://localhost:8080/api/ws/signal", "signaling broker endpoint")
	fs.StringSlice("ice.urls", []string{"stun:stun.l.google.com:19302"}, "ICE server urls")
	fs.String("identity.token", "", "access token to sign in with")
	fs.String("identity.secret", "", "HS256 secret the token is signed with")
	fs.String("identity.user_id", "", "static user id when no token is given")
	fs.String("identity.display_name", "", "static display name")
	fs.String("identity.avatar_uri", "", "static avatar")
	fs.String("media.audio_path", "", "Opus/Ogg file used as microphone")
	fs.String("media.video_path", "", "VP8/IVF file used as camera")
	fs.String("metrics.addr", "", "serve Prometheus metrics on this address")
	fs.String("share.base_url", "http://localhost:8080", "base of share links")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: meshclient [flags] create | join <code>\n")
		fs.PrintDefaults()
	}
	return fs
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := flags()
	_ = fs.Parse(os.Args[1:])
	args := fs.Args()
	if len(args) == 0 || (args[0] == "join" && len(args) != 2) || (args[0] != "join" && args[0] != "create") {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(cfg, args); err != nil {
		log.Error().Err(err).Msg("meshclient")
		os.Exit(1)
	}
}

func run(cfg *config.Config, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	ident, err := newIdentity(cfg.Identity)
	if err != nil {
		return err
	}
	if j, ok := ident.(*identity.JWT); ok {
		defer j.Close()
	}

	code := ""
	if args[0] == "create" {
		me := ident.CurrentIdentity()
		if me == nil {
			return domain.ErrIdentityMissing
		}
		room, err := rooms.NewService(store).Create(ctx, me.UserID)
		if err != nil {
			return err
		}
		code = string(room.ID)
		log.Info().Str("room", code).Msg("meeting created")
	} else {
		code = args[1]
	}

	transport, err := rtc.NewTransport(rtc.Config{
		SignalURL:  cfg.Signal.URL,
		Address:    addressFor(ident),
		ICEServers: cfg.ICE.URLs,
	})
	if err != nil {
		return err
	}

	src := media.NewSource(device(cfg.Media.AudioPath), device(cfg.Media.VideoPath))
	coord := session.New(session.Deps{
		Identity:  ident,
		Directory: directory.NewClient(store),
		Transport: transport,
		Media:     src,
		Sinks:     media.Sinks(),
	})

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr)
	}

	if err := coord.Join(ctx, code); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			fmt.Fprintln(os.Stderr, "Meeting not found.")
		}
		return err
	}
	if err := coord.CaptureError(); err != nil {
		log.Warn().Err(err).Msg("joined without local media")
	}
	if link, err := coord.ShareLink(cfg.Share.BaseURL); err == nil {
		log.Info().Str("room", code).Str("link", link).Str("address", string(coord.Address())).Msg("joined")
	}

	watch(ctx, coord)

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer leaveCancel()
	if err := coord.Leave(leaveCtx); err != nil && !errors.Is(err, session.ErrNotJoined) {
		log.Warn().Err(err).Msg("leave")
	}
	log.Info().Str("room", code).Str("phase", coord.Phase().String()).Msg("left")
	return nil
}

// watch logs the peer table until ctx ends or the session ends on its own.
func watch(ctx context.Context, coord *session.Coordinator) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if coord.Phase() != session.PhaseJoined {
				return
			}
			for _, p := range coord.Peers() {
				log.Info().
					Str("user", string(p.UserID)).
					Str("name", p.DisplayName).
					Str("state", p.State.String()).
					Bool("host", p.IsHost).
					Bool("muted", p.IsMuted).
					Bool("video", p.VideoOn).
					Bool("audio_attached", p.AudioAttached).
					Bool("video_attached", p.VideoAttached).
					Msg("peer")
			}
		}
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (core.RoomDirectory, func(), error) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("memory directory is private to this process")
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.NewStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func newIdentity(cfg config.IdentityConfig) (core.IdentityProvider, error) {
	if cfg.Token != "" {
		j := identity.NewJWT([]byte(cfg.Secret))
		if err := j.SetToken(cfg.Token); err != nil {
			return nil, err
		}
		return j, nil
	}
	if cfg.UserID == "" {
		return nil, domain.ErrIdentityMissing
	}
	id, err := domain.NewIdentity(cfg.UserID, cfg.DisplayName, cfg.AvatarURI)
	if err != nil {
		return nil, err
	}
	return identity.NewStatic(id), nil
}

// addressFor asks the broker for the user id as address, as long as one is known.
func addressFor(ident core.IdentityProvider) domain.Address {
	if me := ident.CurrentIdentity(); me != nil {
		return domain.Address(me.UserID)
	}
	return ""
}

func device(path string) media.Device {
	if path == "" {
		return nil
	}
	d, err := media.NewFileDevice(path)
	if err != nil {
		log.Warn().Err(err).Msg("capture device")
		return nil
	}
	return d
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info().Str("addr", addr).Msg("metrics server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server")
	}
}

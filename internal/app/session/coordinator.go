// Package session sequences joining and leaving one room and keeps the mesh
// in line with the room's roster while joined.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/app/directory"
	"github.com/dkeye/echomeet/internal/app/mesh"
	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

var ErrNotJoined = errors.New("not joined")

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseJoined
	PhaseLeft
	// PhaseUnauthenticated and PhaseRoomNotFound end a join attempt.
	PhaseUnauthenticated
	PhaseRoomNotFound
	// PhaseFailed means the join could not register presence.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseJoining:
		return "joining"
	case PhaseJoined:
		return "joined"
	case PhaseLeft:
		return "left"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseRoomNotFound:
		return "room_not_found"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// LocalMedia is the Local Media Source as seen by the coordinator.
type LocalMedia interface {
	core.LocalTracks
	Start() error
	Stop()
	SetMuted(bool)
	Muted() bool
	SetVideo(on bool) error
	VideoOn() bool
}

type Deps struct {
	Identity  core.IdentityProvider
	Directory *directory.Client
	Transport core.Transport
	Media     LocalMedia
	Sinks     core.SinkFactory
	DialLimit int
}

// Coordinator is the Session Coordinator of one client. It runs at most one
// session at a time; a new Join is allowed once the previous one has ended.
type Coordinator struct {
	deps Deps
	log  zerolog.Logger

	mu    sync.Mutex
	phase Phase
	cur   *session
}

// session is everything acquired by one Join.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	joined chan struct{}

	identity *domain.Identity
	room     *domain.Room
	address  domain.Address
	mesh     *mesh.Manager

	unsubscribe     func()
	unwatchIdentity func()
	pending         chan struct{}
	loopDone        chan struct{}

	// guarded by Coordinator.mu
	roster     domain.Roster
	muted      bool
	videoOn    bool
	captureErr error

	removeOnce   sync.Once
	teardownOnce sync.Once
	teardownErr  error
}

func New(deps Deps) *Coordinator {
	return &Coordinator{
		deps: deps,
		log:  log.With().Str("module", "app.session").Logger(),
	}
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Room is the joined room, or nil.
func (c *Coordinator) Room() *domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.room
}

func (c *Coordinator) Address() domain.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.address
}

// Roster is the last fetched roster of the current session.
func (c *Coordinator) Roster() domain.Roster {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return append(domain.Roster(nil), c.cur.roster...)
}

// CaptureError reports why local capture failed during the last join, if it did.
func (c *Coordinator) CaptureError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.captureErr
}

// Peers is a read-only view of the remote participants.
func (c *Coordinator) Peers() []mesh.PeerView {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil || s.mesh == nil {
		return nil
	}
	return s.mesh.Snapshot()
}

// ShareLink is the link other users open to join this room.
func (c *Coordinator) ShareLink(base string) (string, error) {
	room := c.Room()
	if room == nil {
		return "", ErrNotJoined
	}
	return strings.TrimRight(base, "/") + "/meeting/" + string(room.ID), nil
}

// Join runs the join sequence for code. It fails with ErrIdentityMissing or
// ErrRoomNotFound before touching capture or the directory's presence records.
// A capture failure is not fatal; see CaptureError.
func (c *Coordinator) Join(ctx context.Context, code string) error {
	c.mu.Lock()
	if c.phase == PhaseJoining || c.phase == PhaseJoined {
		c.mu.Unlock()
		return fmt.Errorf("join %s: already in a session", code)
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:     sctx,
		cancel:  cancel,
		joined:  make(chan struct{}),
		pending: make(chan struct{}, 1),
	}
	c.cur = s
	c.phase = PhaseJoining
	c.mu.Unlock()
	defer close(s.joined)

	joinCtx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(sctx, stop)()

	l := c.log.With().Str("code", code).Logger()

	id := c.deps.Identity.CurrentIdentity()
	if id == nil {
		c.setPhase(PhaseUnauthenticated)
		return domain.ErrIdentityMissing
	}
	s.identity = id
	l = l.With().Str("user", string(id.UserID)).Logger()

	roomID, err := domain.ParseRoomID(code)
	if err != nil {
		c.setPhase(PhaseRoomNotFound)
		return fmt.Errorf("%w: %w", domain.ErrRoomNotFound, err)
	}
	room, err := c.deps.Directory.LookupRoom(joinCtx, roomID)
	if err != nil {
		c.setPhase(PhaseRoomNotFound)
		if errors.Is(err, domain.ErrRoomNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrRoomNotFound, err)
	}
	s.room = room
	l = l.With().Str("room", string(room.ID)).Logger()

	if err := c.deps.Media.Start(); err != nil {
		l.Warn().Err(err).Msg("joining without local media")
		c.mu.Lock()
		s.captureErr = err
		c.mu.Unlock()
	}
	c.mu.Lock()
	s.muted = c.deps.Media.Muted()
	s.videoOn = c.deps.Media.VideoOn()
	c.mu.Unlock()

	s.mesh = mesh.New(mesh.Config{
		Self:      id.UserID,
		Transport: c.deps.Transport,
		Local:     c.deps.Media,
		Sinks:     c.deps.Sinks,
		DialLimit: c.deps.DialLimit,
	})
	c.deps.Transport.OnCall(s.mesh.HandleInbound)
	s.unwatchIdentity = c.deps.Identity.OnIdentityChange(func(next *domain.Identity) {
		if next == nil {
			go func() {
				if err := c.Leave(context.WithoutCancel(sctx)); err != nil {
					c.log.Warn().Err(err).Msg("leave after sign-out")
				}
			}()
		}
	})

	if err := c.joinNetwork(joinCtx, s); err != nil {
		l.Error().Err(err).Msg("join failed")
		_ = c.teardown(context.WithoutCancel(ctx), s)
		c.setPhase(PhaseFailed)
		return err
	}

	if err := joinCtx.Err(); err != nil {
		_ = c.teardown(context.WithoutCancel(ctx), s)
		c.setPhase(PhaseLeft)
		return err
	}

	c.reconcile(joinCtx, s)
	s.loopDone = make(chan struct{})
	go c.loop(s)

	c.setPhase(PhaseJoined)
	l.Info().Str("address", string(s.address)).Msg("joined")
	return nil
}

// joinNetwork advertises this client and registers its presence.
func (c *Coordinator) joinNetwork(ctx context.Context, s *session) error {
	addr, err := c.deps.Transport.Open(ctx)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	c.mu.Lock()
	s.address = addr
	muted, videoOn := s.muted, s.videoOn
	c.mu.Unlock()

	self := domain.Participant{
		RoomID:           s.room.ID,
		UserID:           s.identity.UserID,
		DisplayName:      s.identity.DisplayName,
		AvatarURI:        s.identity.AvatarURI,
		IsMuted:          muted,
		VideoOn:          videoOn,
		IsHost:           s.room.CreatedBy == s.identity.UserID,
		SignalingAddress: addr,
	}
	if err := c.deps.Directory.RegisterSelf(ctx, self); err != nil {
		return err
	}
	unsubscribe, err := c.deps.Directory.Subscribe(s.ctx, s.room.ID, func() { s.kick() })
	if err != nil {
		return err
	}
	s.unsubscribe = unsubscribe
	return nil
}

// Leave runs the leave sequence for the current session, also when Join is
// still in progress. Every step is attempted; the directory record is removed
// exactly once. Errors are for logging only.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	s.cancel()
	<-s.joined
	if s.room == nil {
		// Join stopped before acquiring anything.
		return nil
	}
	err := c.teardown(ctx, s)

	c.mu.Lock()
	if c.cur == s {
		c.phase = PhaseLeft
	}
	c.mu.Unlock()
	return err
}

func (c *Coordinator) teardown(ctx context.Context, s *session) error {
	s.teardownOnce.Do(func() {
		l := c.log.With().Str("user", string(s.identity.UserID)).Logger()
		var errs []error
		step := func(name string, fn func() error) {
			defer func() {
				if r := recover(); r != nil {
					errs = append(errs, fmt.Errorf("%s: panic: %v", name, r))
				}
			}()
			if err := fn(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}

		step("unsubscribe", func() error {
			if s.unsubscribe != nil {
				s.unsubscribe()
			}
			return nil
		})
		step("unwatch identity", func() error {
			if s.unwatchIdentity != nil {
				s.unwatchIdentity()
			}
			return nil
		})
		step("stop reconcile", func() error {
			s.cancel()
			if s.loopDone != nil {
				<-s.loopDone
			}
			return nil
		})
		step("close connections", func() error {
			if s.mesh != nil {
				s.mesh.CloseAll()
			}
			return nil
		})
		step("stop capture", func() error {
			c.deps.Media.Stop()
			return nil
		})
		step("close transport", c.deps.Transport.Close)
		if s.room != nil {
			step("remove self", func() error {
				var err error
				s.removeOnce.Do(func() {
					err = c.deps.Directory.RemoveSelf(ctx, s.room.ID, s.identity.UserID)
				})
				return err
			})
		}

		s.teardownErr = errors.Join(errs...)
		if s.teardownErr != nil {
			l.Warn().Err(s.teardownErr).Msg("leave finished with errors")
		} else {
			l.Info().Msg("left")
		}
	})
	return s.teardownErr
}

func (c *Coordinator) active() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseJoined || c.cur == nil {
		return nil, ErrNotJoined
	}
	return c.cur, nil
}

// Package directory wraps a RoomDirectory with the operations one client
// performs on its own presence record.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

type Client struct {
	store core.RoomDirectory
	log   zerolog.Logger
}

func NewClient(store core.RoomDirectory) *Client {
	return &Client{
		store: store,
		log:   log.With().Str("module", "app.directory").Logger(),
	}
}

// unavailable maps every store failure except not-found to ErrDirectoryUnavailable.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrRoomNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrDirectoryUnavailable, err)
}

func (c *Client) LookupRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := c.store.LookupRoom(ctx, id)
	if err != nil {
		return nil, unavailable("lookup room", err)
	}
	return room, nil
}

// RegisterSelf writes or overwrites the caller's Participant Record.
func (c *Client) RegisterSelf(ctx context.Context, p domain.Participant) error {
	if err := c.store.UpsertParticipant(ctx, p); err != nil {
		return unavailable("register self", err)
	}
	c.log.Info().Str("room", string(p.RoomID)).Str("user", string(p.UserID)).
		Str("address", string(p.SignalingAddress)).Msg("registered")
	return nil
}

func (c *Client) FetchRoster(ctx context.Context, room domain.RoomID) (domain.Roster, error) {
	roster, err := c.store.ListParticipants(ctx, room)
	if err != nil {
		return nil, unavailable("fetch roster", err)
	}
	return roster, nil
}

// UpdateSelf writes only the fields named by patch.
func (c *Client) UpdateSelf(ctx context.Context, room domain.RoomID, user domain.UserID, patch domain.ParticipantPatch) error {
	if patch.Empty() {
		return nil
	}
	if err := c.store.UpdateParticipant(ctx, room, user, patch); err != nil {
		return unavailable("update self", err)
	}
	return nil
}

func (c *Client) RemoveSelf(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	if err := c.store.DeleteParticipant(ctx, room, user); err != nil {
		return unavailable("remove self", err)
	}
	c.log.Info().Str("room", string(room)).Str("user", string(user)).Msg("removed")
	return nil
}

// Subscribe calls onChange whenever any participant of room changes. The
// notification is only a hint to re-fetch. The returned cancel is idempotent.
func (c *Client) Subscribe(ctx context.Context, room domain.RoomID, onChange func()) (func(), error) {
	stop, err := c.store.WatchParticipants(ctx, room, onChange)
	if err != nil {
		return nil, unavailable("subscribe", err)
	}
	var once sync.Once
	return func() { once.Do(stop) }, nil
}

// Package rooms creates rooms under short human-enterable codes.
package rooms

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
	"github.com/dkeye/echomeet/internal/metrics"
)

const createAttempts = 5

type Service struct {
	store core.RoomDirectory
	// newCode is swapped in tests to force collisions.
	newCode func() (string, error)
}

func NewService(store core.RoomDirectory) *Service {
	return &Service{
		store: store,
		newCode: func() (string, error) {
			return gonanoid.Generate(domain.RoomCodeAlphabet, domain.RoomCodeLen)
		},
	}
}

// Create stores a new room owned by creator under a fresh code.
func (s *Service) Create(ctx context.Context, creator domain.UserID) (*domain.Room, error) {
	if creator == "" {
		return nil, domain.ErrIdentityMissing
	}
	for range createAttempts {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		room := domain.Room{ID: domain.RoomID(code), CreatedBy: creator}
		err = s.store.CreateRoom(ctx, room)
		if errors.Is(err, domain.ErrRoomExists) {
			log.Debug().Str("module", "app.rooms").Str("code", code).Msg("room code taken, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create room: %w: %w", domain.ErrDirectoryUnavailable, err)
		}
		metrics.RoomsCreated.Inc()
		log.Info().Str("module", "app.rooms").Str("code", code).Str("user", string(creator)).Msg("room created")
		return s.store.LookupRoom(ctx, room.ID)
	}
	return nil, fmt.Errorf("create room: no free code after %d attempts: %w", createAttempts, domain.ErrRoomExists)
}

// Lookup normalises code and returns its room. A malformed code is reported
// as ErrRoomNotFound.
func (s *Service) Lookup(ctx context.Context, code string) (*domain.Room, error) {
	id, err := domain.ParseRoomID(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRoomNotFound, err)
	}
	room, err := s.store.LookupRoom(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup room: %w: %w", domain.ErrDirectoryUnavailable, err)
	}
	return room, nil
}

func (s *Service) Participants(ctx context.Context, code string) (domain.Roster, error) {
	room, err := s.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	roster, err := s.store.ListParticipants(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w: %w", domain.ErrDirectoryUnavailable, err)
	}
	return roster, nil
}

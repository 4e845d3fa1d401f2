package core

import (
	"context"

	"github.com/dkeye/echomeet/internal/domain"
)

// RoomDirectory is the durable store of Room and Participant records.
// Implementations must be safe for concurrent use by many clients.
type RoomDirectory interface {
	// CreateRoom fails with domain.ErrRoomExists on a duplicate code.
	CreateRoom(ctx context.Context, room domain.Room) error
	// LookupRoom fails with domain.ErrRoomNotFound when the code is unknown.
	LookupRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)

	// UpsertParticipant inserts or overwrites the (room, user) record.
	UpsertParticipant(ctx context.Context, p domain.Participant) error
	// UpdateParticipant writes only the named fields of an existing record.
	UpdateParticipant(ctx context.Context, room domain.RoomID, user domain.UserID, patch domain.ParticipantPatch) error
	DeleteParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) error
	ListParticipants(ctx context.Context, room domain.RoomID) (domain.Roster, error)

	// WatchParticipants calls fn after any insert, update or delete of a participant
	// of room. Notifications carry no payload and may be coalesced. The returned
	// cancel function stops delivery and is idempotent.
	WatchParticipants(ctx context.Context, room domain.RoomID, fn func()) (cancel func(), err error)
}

package rooms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/adapters/store/memory"
	"github.com/dkeye/echomeet/internal/domain"
)

func TestCreateUsesValidCode(t *testing.T) {
	svc := NewService(memory.New())
	room, err := svc.Create(context.Background(), "u1")
	require.NoError(t, err)

	parsed, err := domain.ParseRoomID(string(room.ID))
	require.NoError(t, err)
	assert.Equal(t, room.ID, parsed)
	assert.Equal(t, domain.UserID("u1"), room.CreatedBy)

	got, err := svc.Lookup(context.Background(), " "+string(room.ID)+" ")
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
}

func TestCreateRetriesOnCollision(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.CreateRoom(context.Background(), domain.Room{ID: "AAAAAA", CreatedBy: "u0"}))

	svc := NewService(store)
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	room, err := svc.Create(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("BBBBBB"), room.ID)
}

func TestCreateGivesUpAfterAttempts(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.CreateRoom(context.Background(), domain.Room{ID: "AAAAAA", CreatedBy: "u0"}))
	svc := NewService(store)
	svc.newCode = func() (string, error) { return "AAAAAA", nil }

	_, err := svc.Create(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrRoomExists)
}

func TestLookupAndParticipants(t *testing.T) {
	store := memory.New()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Lookup(ctx, "ZZ99ZZ")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = svc.Lookup(ctx, "bad")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = svc.Create(ctx, "")
	assert.ErrorIs(t, err, domain.ErrIdentityMissing)

	require.NoError(t, store.CreateRoom(ctx, domain.Room{ID: "AB12CD", CreatedBy: "u1"}))
	require.NoError(t, store.UpsertParticipant(ctx, domain.Participant{RoomID: "AB12CD", UserID: "u1"}))
	roster, err := svc.Participants(ctx, "ab12cd")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"u1"}, roster.UserIDs())
}

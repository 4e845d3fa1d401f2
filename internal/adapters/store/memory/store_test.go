package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/domain"
)

func TestCreateAndLookupRoom(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateRoom(ctx, domain.Room{ID: "AB12CD", CreatedBy: "u1"}))
	assert.ErrorIs(t, s.CreateRoom(ctx, domain.Room{ID: "AB12CD", CreatedBy: "u2"}), domain.ErrRoomExists)

	room, err := s.LookupRoom(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u1"), room.CreatedBy)
	assert.False(t, room.CreatedAt.IsZero())

	_, err = s.LookupRoom(ctx, "ZZ99ZZ")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestUpsertKeepsOneRecordPerUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertParticipant(ctx, domain.Participant{RoomID: "R", UserID: "u1", DisplayName: "A"}))
	require.NoError(t, s.UpsertParticipant(ctx, domain.Participant{RoomID: "R", UserID: "u1", DisplayName: "B"}))
	require.NoError(t, s.UpsertParticipant(ctx, domain.Participant{RoomID: "OTHER", UserID: "u1"}))

	roster, err := s.ListParticipants(ctx, "R")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "B", roster[0].DisplayName)
}

func TestUpdateTouchesOnlyNamedFields(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertParticipant(ctx, domain.Participant{RoomID: "R", UserID: "u1", VideoOn: true, SignalingAddress: "a1"}))

	muted := true
	require.NoError(t, s.UpdateParticipant(ctx, "R", "u1", domain.ParticipantPatch{IsMuted: &muted}))
	// unknown record is a no-op
	require.NoError(t, s.UpdateParticipant(ctx, "R", "ghost", domain.ParticipantPatch{IsMuted: &muted}))

	roster, err := s.ListParticipants(ctx, "R")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.True(t, roster[0].IsMuted)
	assert.True(t, roster[0].VideoOn)
	assert.Equal(t, domain.Address("a1"), roster[0].SignalingAddress)
}

func TestWatchScopedToRoomAndCancelable(t *testing.T) {
	s := New()
	ctx := context.Background()

	var hits atomic.Int32
	cancel, err := s.WatchParticipants(ctx, "R", func() { hits.Add(1) })
	require.NoError(t, err)

	require.NoError(t, s.UpsertParticipant(ctx, domain.Participant{RoomID: "R", UserID: "u1"}))
	require.Eventually(t, func() bool { return hits.Load() >= 1 }, time.Second, 5*time.Millisecond)

	before := hits.Load()
	require.NoError(t, s.UpsertParticipant(ctx, domain.Participant{RoomID: "OTHER", UserID: "u1"}))

	cancel()
	cancel()
	require.NoError(t, s.DeleteParticipant(ctx, "R", "u1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, hits.Load())
}

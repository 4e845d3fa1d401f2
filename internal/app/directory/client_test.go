package directory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/adapters/store/memory"
	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

var errDown = errors.New("connection refused")

// downStore fails every call.
type downStore struct{ core.RoomDirectory }

func (downStore) LookupRoom(context.Context, domain.RoomID) (*domain.Room, error) {
	return nil, errDown
}

func (downStore) UpsertParticipant(context.Context, domain.Participant) error { return errDown }

func (downStore) ListParticipants(context.Context, domain.RoomID) (domain.Roster, error) {
	return nil, errDown
}

func (downStore) DeleteParticipant(context.Context, domain.RoomID, domain.UserID) error {
	return errDown
}

func TestStoreFailuresAreUnavailable(t *testing.T) {
	c := NewClient(downStore{})
	ctx := context.Background()

	_, err := c.LookupRoom(ctx, "AB12CD")
	assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
	assert.ErrorIs(t, err, errDown)

	assert.ErrorIs(t, c.RegisterSelf(ctx, domain.Participant{RoomID: "AB12CD", UserID: "u1"}), domain.ErrDirectoryUnavailable)
	_, err = c.FetchRoster(ctx, "AB12CD")
	assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
	assert.ErrorIs(t, c.RemoveSelf(ctx, "AB12CD", "u1"), domain.ErrDirectoryUnavailable)
}

func TestLookupMissingRoomIsNotFound(t *testing.T) {
	c := NewClient(memory.New())
	_, err := c.LookupRoom(context.Background(), "ZZ99ZZ")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.NotErrorIs(t, err, domain.ErrDirectoryUnavailable)
}

func TestUpdateSelfTouchesOnlyOwnRecord(t *testing.T) {
	store := memory.New()
	c := NewClient(store)
	ctx := context.Background()

	require.NoError(t, c.RegisterSelf(ctx, domain.Participant{RoomID: "AB12CD", UserID: "u1", VideoOn: true}))
	require.NoError(t, c.RegisterSelf(ctx, domain.Participant{RoomID: "AB12CD", UserID: "u2", VideoOn: true}))

	muted := true
	require.NoError(t, c.UpdateSelf(ctx, "AB12CD", "u2", domain.ParticipantPatch{IsMuted: &muted}))

	roster, err := c.FetchRoster(ctx, "AB12CD")
	require.NoError(t, err)
	u1, _ := roster.Find("u1")
	u2, _ := roster.Find("u2")
	assert.False(t, u1.IsMuted)
	assert.True(t, u2.IsMuted)
	assert.True(t, u2.VideoOn)
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	store := memory.New()
	c := NewClient(store)
	ctx := context.Background()

	var hits atomic.Int32
	cancel, err := c.Subscribe(ctx, "AB12CD", func() { hits.Add(1) })
	require.NoError(t, err)

	require.NoError(t, c.RegisterSelf(ctx, domain.Participant{RoomID: "AB12CD", UserID: "u1"}))
	require.Eventually(t, func() bool { return hits.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	seen := hits.Load()
	require.NoError(t, c.RemoveSelf(ctx, "AB12CD", "u1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, seen, hits.Load())
}

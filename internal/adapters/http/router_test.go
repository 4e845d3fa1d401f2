package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/adapters/identity"
	"github.com/dkeye/echomeet/internal/adapters/signal"
	"github.com/dkeye/echomeet/internal/adapters/store/memory"
	"github.com/dkeye/echomeet/internal/app/rooms"
	"github.com/dkeye/echomeet/internal/config"
	"github.com/dkeye/echomeet/internal/domain"
)

const testSecret = "router-secret"

func newRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "test", Secret: "cookie-secret"}
	cfg.Identity.Secret = testSecret
	cfg.Share.BaseURL = "https://meet.example.org/"

	store := memory.New()
	return SetupRouter(context.Background(), cfg, rooms.NewService(store), signal.NewBroker(signal.Options{})), store
}

func do(r *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	claims := identity.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + raw
}

func TestCreateAndLookupRoom(t *testing.T) {
	r, store := newRouter(t)

	w := do(r, http.MethodPost, "/api/rooms", bearer(t, "host-1"))
	require.Equal(t, http.StatusCreated, w.Code)
	var created createRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.Code, domain.RoomCodeLen)
	assert.Equal(t, "https://meet.example.org/meeting/"+created.Code, created.Link)

	room, err := store.LookupRoom(context.Background(), domain.RoomID(created.Code))
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("host-1"), room.CreatedBy)

	w = do(r, http.MethodGet, "/api/rooms/"+created.Code, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, room.ID, got.ID)
}

func TestCreateRoomWithoutTokenUsesClientToken(t *testing.T) {
	r, store := newRouter(t)

	w := do(r, http.MethodPost, "/api/rooms", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created createRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	room, err := store.LookupRoom(context.Background(), domain.RoomID(created.Code))
	require.NoError(t, err)
	assert.NotEmpty(t, room.CreatedBy)
}

func TestCreateRoomRejectsBadToken(t *testing.T) {
	r, _ := newRouter(t)
	w := do(r, http.MethodPost, "/api/rooms", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLookupUnknownRoom(t *testing.T) {
	r, _ := newRouter(t)

	for _, code := range []string{"ZZ99ZZ", "bad"} {
		w := do(r, http.MethodGet, "/api/rooms/"+code, "")
		assert.Equal(t, http.StatusNotFound, w.Code, code)
		assert.JSONEq(t, `{"error":"Meeting not found."}`, w.Body.String())
	}
}

func TestParticipants(t *testing.T) {
	r, store := newRouter(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRoom(ctx, domain.Room{ID: "AB12CD", CreatedBy: "u1", CreatedAt: time.Now()}))
	require.NoError(t, store.UpsertParticipant(ctx, domain.Participant{
		RoomID: "AB12CD", UserID: "u1", DisplayName: "Ada", SignalingAddress: "addr-1", JoinedAt: time.Now(),
	}))

	w := do(r, http.MethodGet, "/api/rooms/ab12cd/participants", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Participants domain.Roster `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Participants, 1)
	assert.Equal(t, "Ada", body.Participants[0].DisplayName)
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := newRouter(t)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)

	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "echomeet_signal_peers")
}

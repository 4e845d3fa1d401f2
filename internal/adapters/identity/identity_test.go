package identity

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/echomeet/internal/domain"
)

var secret = []byte("test-secret")

func sign(t *testing.T, sub, name string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		UserMetadata: UserMetadata{FullName: name, Picture: "https://example.org/a.png"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return raw
}

func TestParseToken(t *testing.T) {
	id, exp, err := ParseToken(sign(t, "u1", "Ada", time.Hour), secret)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u1"), id.UserID)
	assert.Equal(t, "Ada", id.DisplayName)
	assert.Equal(t, "https://example.org/a.png", id.AvatarURI)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	id, _, err = ParseToken(sign(t, "u2", "", time.Hour), secret)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultName, id.DisplayName)

	_, _, err = ParseToken(sign(t, "u1", "Ada", time.Hour), []byte("other"))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, _, err = ParseToken(sign(t, "u1", "Ada", -time.Minute), secret)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, _, err = ParseToken(sign(t, "", "Ada", time.Hour), secret)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestJWTExpirySignsOut(t *testing.T) {
	p := NewJWT(secret)
	defer p.Close()

	var lost atomic.Bool
	unsub := p.OnIdentityChange(func(id *domain.Identity) {
		if id == nil {
			lost.Store(true)
		}
	})
	defer unsub()

	require.NoError(t, p.SetToken(sign(t, "u1", "Ada", 1500*time.Millisecond)))
	require.NotNil(t, p.CurrentIdentity())

	require.Eventually(t, lost.Load, 5*time.Second, 20*time.Millisecond)
	assert.Nil(t, p.CurrentIdentity())
}

func TestStaticUnsubscribe(t *testing.T) {
	id, err := domain.NewIdentity("u1", "Ada", "")
	require.NoError(t, err)
	s := NewStatic(id)

	var calls atomic.Int32
	unsub := s.OnIdentityChange(func(*domain.Identity) { calls.Add(1) })
	s.Set(nil)
	unsub()
	s.Set(id)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, id, s.CurrentIdentity())
}

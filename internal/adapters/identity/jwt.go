package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/echomeet/internal/domain"
)

var ErrTokenInvalid = errors.New("access token invalid")

// Claims is the shape of the access tokens issued by the auth service.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Picture   string `json:"picture,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ParseToken validates an HS256 token and returns who it names and when it expires.
// A zero expiry means the token never expires.
func ParseToken(raw string, secret []byte) (*domain.Identity, time.Time, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, time.Time{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	avatar := claims.UserMetadata.Picture
	if avatar == "" {
		avatar = claims.UserMetadata.AvatarURL
	}
	id, err := domain.NewIdentity(claims.Subject, claims.UserMetadata.FullName, avatar)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return id, exp, nil
}

// JWT is an IdentityProvider fed by access tokens. Expiry signs the user out.
type JWT struct {
	*Static
	secret []byte

	mu    sync.Mutex
	timer *time.Timer
}

func NewJWT(secret []byte) *JWT {
	return &JWT{Static: NewStatic(nil), secret: secret}
}

// SetToken signs in with raw, replacing any previous token.
func (j *JWT) SetToken(raw string) error {
	id, exp, err := ParseToken(raw, j.secret)
	if err != nil {
		return err
	}
	j.mu.Lock()
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	if !exp.IsZero() {
		j.timer = time.AfterFunc(time.Until(exp), func() { j.Set(nil) })
	}
	j.mu.Unlock()
	j.Set(id)
	return nil
}

func (j *JWT) SignOut() {
	j.Close()
	j.Set(nil)
}

// Close stops the expiry timer without changing the identity.
func (j *JWT) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}

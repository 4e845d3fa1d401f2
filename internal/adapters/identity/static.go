// Package identity provides IdentityProvider implementations.
package identity

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

var _ core.IdentityProvider = (*Static)(nil)

// Static holds an identity set by the caller.
type Static struct {
	mu   sync.Mutex
	id   *domain.Identity
	subs map[int]func(*domain.Identity)
	next int
}

func NewStatic(id *domain.Identity) *Static {
	return &Static{id: id, subs: make(map[int]func(*domain.Identity))}
}

func (s *Static) CurrentIdentity() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Static) OnIdentityChange(fn func(*domain.Identity)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.next
	s.next++
	s.subs[key] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, key)
	}
}

// Set replaces the identity and notifies subscribers. nil signs the user out.
func (s *Static) Set(id *domain.Identity) {
	s.mu.Lock()
	s.id = id
	subs := make([]func(*domain.Identity), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	ev := log.Info().Str("module", "identity")
	if id != nil {
		ev = ev.Str("user", string(id.UserID))
	}
	ev.Bool("signed_in", id != nil).Msg("identity changed")
	for _, fn := range subs {
		fn(id)
	}
}

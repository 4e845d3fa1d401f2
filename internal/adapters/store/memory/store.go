// Package memory is an in-process RoomDirectory. Change notifications are
// delivered asynchronously, one goroutine per watcher, and coalesced while a
// watcher is still busy with the previous one.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

var _ core.RoomDirectory = (*Store)(nil)

type participantKey struct {
	room domain.RoomID
	user domain.UserID
}

type watcher struct {
	fn   func()
	kick chan struct{}
	done chan struct{}
	once sync.Once
}

func (w *watcher) notify() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
			w.fn()
		}
	}
}

func (w *watcher) stop() { w.once.Do(func() { close(w.done) }) }

type Store struct {
	mu           sync.RWMutex
	rooms        map[domain.RoomID]domain.Room
	participants map[participantKey]domain.Participant
	watchers     map[domain.RoomID]map[*watcher]struct{}
	now          func() time.Time
}

func New() *Store {
	return &Store{
		rooms:        make(map[domain.RoomID]domain.Room),
		participants: make(map[participantKey]domain.Participant),
		watchers:     make(map[domain.RoomID]map[*watcher]struct{}),
		now:          time.Now,
	}
}

func (s *Store) CreateRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return domain.ErrRoomExists
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	s.rooms[room.ID] = room
	log.Info().Str("module", "store.memory").Str("room", string(room.ID)).Msg("room created")
	return nil
}

func (s *Store) LookupRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &room, nil
}

func (s *Store) UpsertParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	key := participantKey{p.RoomID, p.UserID}
	if old, ok := s.participants[key]; ok {
		p.JoinedAt = old.JoinedAt
	} else if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now()
	}
	s.participants[key] = p
	s.mu.Unlock()

	s.notify(p.RoomID)
	return nil
}

func (s *Store) UpdateParticipant(_ context.Context, room domain.RoomID, user domain.UserID, patch domain.ParticipantPatch) error {
	s.mu.Lock()
	key := participantKey{room, user}
	rec, ok := s.participants[key]
	if !ok || patch.Empty() {
		s.mu.Unlock()
		return nil
	}
	s.participants[key] = patch.Apply(rec)
	s.mu.Unlock()

	s.notify(room)
	return nil
}

func (s *Store) DeleteParticipant(_ context.Context, room domain.RoomID, user domain.UserID) error {
	s.mu.Lock()
	key := participantKey{room, user}
	_, ok := s.participants[key]
	delete(s.participants, key)
	s.mu.Unlock()

	if ok {
		s.notify(room)
	}
	return nil
}

func (s *Store) ListParticipants(_ context.Context, room domain.RoomID) (domain.Roster, error) {
	s.mu.RLock()
	out := make(domain.Roster, 0)
	for key, p := range s.participants {
		if key.room == room {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.UserID), string(b.UserID))
	})
	return out, nil
}

func (s *Store) WatchParticipants(ctx context.Context, room domain.RoomID, fn func()) (func(), error) {
	w := &watcher{fn: fn, kick: make(chan struct{}, 1), done: make(chan struct{})}

	s.mu.Lock()
	set, ok := s.watchers[room]
	if !ok {
		set = make(map[*watcher]struct{})
		s.watchers[room] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	go w.loop()

	cancel := func() {
		s.mu.Lock()
		delete(s.watchers[room], w)
		if len(s.watchers[room]) == 0 {
			delete(s.watchers, room)
		}
		s.mu.Unlock()
		w.stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-w.done:
		}
	}()
	return cancel, nil
}

func (s *Store) notify(room domain.RoomID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.watchers[room] {
		w.notify()
	}
	log.Debug().Str("module", "store.memory").Str("room", string(room)).Int("watchers", len(s.watchers[room])).Msg("participants changed")
}

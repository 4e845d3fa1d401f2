// Package postgres is a RoomDirectory backed by PostgreSQL. Participant
// changes are pushed to watchers through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/echomeet/internal/core"
	"github.com/dkeye/echomeet/internal/domain"
)

var _ core.RoomDirectory = (*Store)(nil)

const uniqueViolation = "23505"

// Store holds a single pgxpool.Pool. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings it and runs Migrate.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) CreateRoom(ctx context.Context, room domain.Room) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (code, created_by) VALUES ($1, $2)`,
		string(room.ID), string(room.CreatedBy))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrRoomExists
	}
	if err != nil {
		return fmt.Errorf("postgres store: create room: %w", err)
	}
	return nil
}

func (s *Store) LookupRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var (
		room      domain.Room
		code, who string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT code, created_by, created_at FROM rooms WHERE code = $1`, string(id),
	).Scan(&code, &who, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: lookup room: %w", err)
	}
	room.ID = domain.RoomID(code)
	room.CreatedBy = domain.UserID(who)
	return &room, nil
}

func (s *Store) UpsertParticipant(ctx context.Context, p domain.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_participants
		    (room_code, user_id, display_name, avatar_url, is_muted, video_on, is_host, signaling_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (room_code, user_id) DO UPDATE SET
		    display_name      = EXCLUDED.display_name,
		    avatar_url        = EXCLUDED.avatar_url,
		    is_muted          = EXCLUDED.is_muted,
		    video_on          = EXCLUDED.video_on,
		    is_host           = EXCLUDED.is_host,
		    signaling_address = EXCLUDED.signaling_address`,
		string(p.RoomID), string(p.UserID), p.DisplayName, p.AvatarURI,
		p.IsMuted, p.VideoOn, p.IsHost, string(p.SignalingAddress))
	if err != nil {
		return fmt.Errorf("postgres store: upsert participant: %w", err)
	}
	return nil
}

func (s *Store) UpdateParticipant(ctx context.Context, room domain.RoomID, user domain.UserID, patch domain.ParticipantPatch) error {
	if patch.Empty() {
		return nil
	}
	sets := make([]string, 0, 3)
	args := []any{string(room), string(user)}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.IsMuted != nil {
		add("is_muted", *patch.IsMuted)
	}
	if patch.VideoOn != nil {
		add("video_on", *patch.VideoOn)
	}
	if patch.SignalingAddress != nil {
		add("signaling_address", string(*patch.SignalingAddress))
	}

	q := `UPDATE room_participants SET ` + strings.Join(sets, ", ") +
		` WHERE room_code = $1 AND user_id = $2`
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("postgres store: update participant: %w", err)
	}
	return nil
}

func (s *Store) DeleteParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM room_participants WHERE room_code = $1 AND user_id = $2`,
		string(room), string(user))
	if err != nil {
		return fmt.Errorf("postgres store: delete participant: %w", err)
	}
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, room domain.RoomID) (domain.Roster, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_code, user_id, display_name, avatar_url, is_muted, video_on,
		       is_host, signaling_address, joined_at
		FROM room_participants
		WHERE room_code = $1
		ORDER BY joined_at, user_id`, string(room))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list participants: %w", err)
	}
	defer rows.Close()

	out := make(domain.Roster, 0)
	for rows.Next() {
		var (
			p                     domain.Participant
			roomCode, userID, adr string
		)
		if err := rows.Scan(&roomCode, &userID, &p.DisplayName, &p.AvatarURI, &p.IsMuted,
			&p.VideoOn, &p.IsHost, &adr, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan participant: %w", err)
		}
		p.RoomID = domain.RoomID(roomCode)
		p.UserID = domain.UserID(userID)
		p.SignalingAddress = domain.Address(adr)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list participants: %w", err)
	}
	return out, nil
}

func logger() *zerolog.Logger {
	l := log.With().Str("module", "store.postgres").Logger()
	return &l
}

package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkeye/echomeet/internal/domain"
)

const (
	relistenMinBackoff = 100 * time.Millisecond
	relistenMaxBackoff = 5 * time.Second
)

// WatchParticipants holds one pooled connection in LISTEN mode for the
// lifetime of the watch. Notifications for other rooms are filtered out here.
// A lost listener connection is replaced with backoff until the watch stops,
// and fn is called once after every reconnect since changes may have been
// missed in between.
func (s *Store) WatchParticipants(ctx context.Context, room domain.RoomID, fn func()) (func(), error) {
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l := logger().With().Str("room", string(room)).Logger()

	go func() {
		defer close(done)
		for {
			err := waitLoop(watchCtx, conn, room, fn)
			if watchCtx.Err() != nil {
				unlisten(conn)
				return
			}
			l.Warn().Err(err).Uint32("pid", conn.Conn().PgConn().PID()).Msg("listener lost, reconnecting")
			drop(conn)

			conn = s.relisten(watchCtx)
			if conn == nil {
				return
			}
			l.Info().Msg("listener restored")
			fn()
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
			l.Debug().Msg("watch stopped")
		})
	}
	return stop, nil
}

func (s *Store) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		drop(conn)
		return nil, fmt.Errorf("postgres store: listen: %w", err)
	}
	return conn, nil
}

// relisten retries listen until it succeeds or ctx is done, in which case it
// returns nil.
func (s *Store) relisten(ctx context.Context) *pgxpool.Conn {
	backoff := relistenMinBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		conn, err := s.listen(ctx)
		if err == nil {
			return conn
		}
		logger().Warn().Err(err).Dur("backoff", backoff).Msg("relisten")
		backoff = min(backoff*2, relistenMaxBackoff)
	}
}

func waitLoop(ctx context.Context, conn *pgxpool.Conn, room domain.RoomID, fn func()) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Payload == string(room) {
			fn()
		}
	}
}

// unlisten returns a healthy listener to the pool.
func unlisten(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// A connection stuck in LISTEN must not go back to the pool.
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}

// drop closes conn so the pool destroys it on release.
func drop(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conn.Conn().Close(ctx)
	conn.Release()
}

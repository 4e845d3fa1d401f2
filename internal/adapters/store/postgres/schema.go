package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel carries the room code of every changed participant row.
const notifyChannel = "room_participants_changes"

const ddlRooms = `
CREATE TABLE IF NOT EXISTS rooms (
    code        TEXT         PRIMARY KEY,
    created_by  TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlParticipants = `
CREATE TABLE IF NOT EXISTS room_participants (
    room_code          TEXT         NOT NULL,
    user_id            TEXT         NOT NULL,
    display_name       TEXT         NOT NULL DEFAULT '',
    avatar_url         TEXT         NOT NULL DEFAULT '',
    is_muted           BOOLEAN      NOT NULL DEFAULT false,
    video_on           BOOLEAN      NOT NULL DEFAULT true,
    is_host            BOOLEAN      NOT NULL DEFAULT false,
    signaling_address  TEXT         NOT NULL DEFAULT '',
    joined_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (room_code, user_id)
);

CREATE INDEX IF NOT EXISTS idx_room_participants_room
    ON room_participants (room_code);
`

const ddlNotify = `
CREATE OR REPLACE FUNCTION notify_room_participants() RETURNS trigger AS $$
BEGIN
    IF TG_OP = 'DELETE' THEN
        PERFORM pg_notify('` + notifyChannel + `', OLD.room_code);
        RETURN OLD;
    END IF;
    PERFORM pg_notify('` + notifyChannel + `', NEW.room_code);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_room_participants_notify ON room_participants;
CREATE TRIGGER trg_room_participants_notify
    AFTER INSERT OR UPDATE OR DELETE ON room_participants
    FOR EACH ROW EXECUTE FUNCTION notify_room_participants();
`

// Migrate creates the tables and the change-feed trigger. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for name, ddl := range map[string]string{
		"rooms":        ddlRooms,
		"participants": ddlParticipants,
	} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	// The trigger depends on the participants table, so it runs last.
	if _, err := pool.Exec(ctx, ddlNotify); err != nil {
		return fmt.Errorf("migrate notify trigger: %w", err)
	}
	return nil
}

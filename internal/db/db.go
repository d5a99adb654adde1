package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the Postgres channel carrying realtime row changes.
const NotifyChannel = "realtime"

// NotifyPayloadLimit keeps realtime payloads under the 8000 byte pg_notify
// cap. Larger rows are sent without their content and flagged partial.
const NotifyPayloadLimit = 7900

var notifyFunction = fmt.Sprintf(`CREATE OR REPLACE FUNCTION realtime_notify() RETURNS trigger AS $$
        DECLARE
            payload text;
        BEGIN
            payload := json_build_object(
                'table', TG_TABLE_NAME,
                'op', TG_OP,
                'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
                'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END
            )::text;
            IF octet_length(payload) > %d THEN
                payload := json_build_object(
                    'table', TG_TABLE_NAME,
                    'op', TG_OP,
                    'partial', true,
                    'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE to_jsonb(NEW) - 'content' END,
                    'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE to_jsonb(OLD) - 'content' END
                )::text;
            END IF;
            PERFORM pg_notify('%s', payload);
            RETURN NULL;
        END;
        $$ LANGUAGE plpgsql;`, NotifyPayloadLimit, NotifyChannel)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
		`CREATE TABLE IF NOT EXISTS league_members (
            league_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            PRIMARY KEY(league_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            league_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            reply_to_message_id UUID REFERENCES messages(id) ON DELETE SET NULL,
            client_token TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS messages_league_created_idx ON messages (league_id, created_at DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS message_reads (
            league_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            last_read_at TIMESTAMPTZ NOT NULL,
            UNIQUE(league_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
            message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            emoji TEXT NOT NULL,
            UNIQUE(message_id, user_id, emoji)
        );`,
		`CREATE TABLE IF NOT EXISTS presence (
            league_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(league_id, user_id)
        );`,
		notifyFunction,
	}
	for _, table := range []string{"messages", "message_reads", "message_reactions"} {
		migrations = append(migrations,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_realtime ON %s;`, table, table),
			fmt.Sprintf(`CREATE TRIGGER %s_realtime AFTER INSERT OR UPDATE OR DELETE ON %s
            FOR EACH ROW EXECUTE FUNCTION realtime_notify();`, table, table),
		)
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}

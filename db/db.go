// Package db provides the database connection helper and idempotent schema migration.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection for the given DSN, falling back to
// DB_DSN when empty.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		return nil, fmt.Errorf("no database DSN configured")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
//
// Ownership cascades down servers -> channel_groups -> races -> {submissions,
// tracked_messages}; removing a group (or a whole server row) cleans up every
// race, submission, and tracked message below it without further queries.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			server_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			admin_role_id TEXT,
			mod_role_id TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS channel_groups (
			channel_group_id UUID PRIMARY KEY,
			server_id TEXT NOT NULL REFERENCES servers(server_id) ON DELETE CASCADE,
			group_name TEXT NOT NULL,
			submission_channel_id TEXT NOT NULL,
			leaderboard_channel_id TEXT NOT NULL,
			spoiler_channel_id TEXT NOT NULL,
			spoiler_role_id TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(server_id, group_name)
		)`,
		`CREATE TABLE IF NOT EXISTS races (
			race_id SERIAL PRIMARY KEY,
			channel_group_id UUID NOT NULL REFERENCES channel_groups(channel_group_id) ON DELETE CASCADE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			race_date DATE NOT NULL,
			game TEXT NOT NULL,
			kind TEXT NOT NULL,
			info TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			submission_id SERIAL PRIMARY KEY,
			runner_id TEXT NOT NULL,
			race_id INTEGER NOT NULL REFERENCES races(race_id) ON DELETE CASCADE,
			runner_name TEXT NOT NULL,
			finish_seconds INTEGER,
			collection INTEGER,
			forfeit BOOLEAN NOT NULL DEFAULT FALSE,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(runner_id, race_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_messages (
			message_id TEXT PRIMARY KEY,
			race_id INTEGER NOT NULL REFERENCES races(race_id) ON DELETE CASCADE,
			channel_id TEXT NOT NULL,
			channel_role TEXT NOT NULL,
			posted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// a group can have many inactive races but at most one active one
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_races_one_active
			ON races(channel_group_id) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_groups_server ON channel_groups(server_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_race ON submissions(race_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_race ON tracked_messages(race_id, channel_role)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

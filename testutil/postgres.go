// Package testutil holds shared test doubles: a Postgres bootstrap gated on
// TEST_PG_DSN and recording fakes for the chat gateway and game resolver.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/race-tender/backend/db"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	// each test starts from an empty registry; cascade clears the rest
	if _, err := database.Exec(`DELETE FROM servers`); err != nil {
		database.Close()
		t.Fatalf("failed to reset test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

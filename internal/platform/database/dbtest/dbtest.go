// Package dbtest opens migrated sqlite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"seatkeeper/internal/platform/config"
	"seatkeeper/internal/platform/database"
)

// Open returns a file-backed sqlite database in a temp directory with all
// migrations applied. A single connection keeps transactions and plain
// queries strictly ordered.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Driver:         database.DriverSQLite,
		URL:            "file:" + filepath.Join(t.TempDir(), "test.db"),
		MaxConnections: 1,
	})
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.NewMigrator(db, database.DriverSQLite, zerolog.Nop()).Up(context.Background()); err != nil {
		t.Fatalf("Failed to migrate db: %v", err)
	}
	return db
}

func exec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Failed to seed %q: %v", query, err)
	}
}

func InsertUser(t *testing.T, db *sql.DB, id, email string) {
	t.Helper()
	exec(t, db, `INSERT INTO users (id, email, name, created_at) VALUES ($1, $2, $3, $4)`, id, email, id, 1)
}

// InsertTeam adds an unsubscribed team. customerID may be empty.
func InsertTeam(t *testing.T, db *sql.DB, id, name, customerID string) {
	t.Helper()
	var customer interface{}
	if customerID != "" {
		customer = customerID
	}
	exec(t, db, `INSERT INTO teams (id, name, stripe_customer_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, name, customer, 1, 1)
}

func InsertMember(t *testing.T, db *sql.DB, id, userID, teamID, role string, createdAt int64) {
	t.Helper()
	exec(t, db, `INSERT INTO team_members (id, user_id, team_id, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, userID, teamID, role, createdAt)
}

// Subscribe marks a team as holding subscriptionID in the given status.
func Subscribe(t *testing.T, db *sql.DB, teamID, subscriptionID, status string) {
	t.Helper()
	exec(t, db, `UPDATE teams SET stripe_subscription_id = $1, subscription_status = $2 WHERE id = $3`,
		subscriptionID, status, teamID)
}

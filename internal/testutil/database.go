package testutil

import (
	"testing"

	"storewatch/internal/database"
	"storewatch/internal/database/migrations"
)

// NewTestDatabase creates an in-memory SQLite database with all migrations
// applied. The database is closed automatically when the test completes.
func NewTestDatabase(t *testing.T) *database.DB {
	t.Helper()

	sqlDB, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB, "sqlite3"); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	db := database.New(sqlDB, "sqlite3")
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

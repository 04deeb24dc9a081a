// Package testdb connects repository tests to a disposable Postgres database.
package testdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/selivandex/newsimpact/internal/adapters/database"
)

// tables are truncated after every test, children first
var tables = []string{
	"market_impacts",
	"sentiment_analyses",
	"article_keys",
	"articles",
	"embedding_cache",
	"market_bars",
}

// Setup connects to TEST_DATABASE_URL, applies migrations and truncates the
// schema on cleanup. The test is skipped when the variable is unset.
func Setup(t *testing.T) *database.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping repository test")
	}

	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := database.RunMigrations(conn.DB, migrationsPath(t)); err != nil {
		conn.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db := database.Wrap(conn, "postgres-test")
	t.Cleanup(func() {
		Truncate(t, db)
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close database: %v", err)
		}
	})
	Truncate(t, db)

	return db
}

// Truncate removes every row written by a test
func Truncate(t *testing.T, db *database.DB) {
	t.Helper()
	for _, table := range tables {
		if _, err := db.DB().Exec("TRUNCATE TABLE " + table + " CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// migrationsPath walks up from the test's working directory to the module root
func migrationsPath(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("module root not found")
		}
		dir = parent
	}
}

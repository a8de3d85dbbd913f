//go:build sqltest
// +build sqltest

package datastore

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-txdb"
	_ "github.com/lib/pq" // PostgreSQL driver
)

func init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "user=test password=test dbname=test host=/var/run/postgresql sslmode=disable"
	}
	txdb.Register("txdb", "postgres", dsn)
}

// TestMigrations runs every up migration inside a transaction that is
// always rolled back, so the database stays clean.
func TestMigrations(t *testing.T) {
	migrationsDir := "migrations"

	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("failed to read migrations directory: %v", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".up.sql") {
			continue
		}
		t.Run(file.Name(), func(t *testing.T) {
			db, err := sql.Open("txdb", file.Name())
			if err != nil {
				t.Fatalf("failed to open database: %v", err)
			}
			defer db.Close()

			content, err := os.ReadFile(filepath.Join(migrationsDir, file.Name()))
			if err != nil {
				t.Fatalf("failed to read migration file: %v", err)
			}

			tx, err := db.Begin()
			if err != nil {
				t.Fatalf("failed to begin transaction: %v", err)
			}
			defer tx.Rollback()

			if _, err := tx.Exec(string(content)); err != nil {
				t.Errorf("migration failed: %v", err)
			}
		})
	}
}

package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestOpen_CreatesDirectoryAndFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "signalbox.db")

	db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("database directory was not created: %v", err)
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
}

func TestMigrate_AppliesPendingOnce(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	fsys := fstest.MapFS{
		"20260101_000000_first.up.sql":  {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"20260102_000000_second.up.sql": {Data: []byte("CREATE TABLE b (id INTEGER PRIMARY KEY);")},
		"README.md":                     {Data: []byte("ignored")},
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Second run must be a no-op rather than failing on CREATE TABLE.
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("applied migrations = %d, want 2", count)
	}
}

func TestMigrate_FailureReportsVersion(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	fsys := fstest.MapFS{
		"20260101_000000_broken.up.sql": {Data: []byte("CREATE TABLOID nope;")},
	}
	err = db.Migrate(ctx, fsys)
	if err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}
	if want := "20260101_000000"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention version %q", err, want)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		ok       bool
	}{
		{"20260301_120000_catalog_cache.up.sql", "20260301_120000", "catalog_cache", true},
		{"20260301_120000_catalog_cache.down.sql", "", "", false},
		{"20260301_catalog.up.sql", "", "", false},
		{"notes.txt", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok || version != tt.version || name != tt.name {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.filename, version, name, ok, tt.version, tt.name, tt.ok)
			}
		})
	}
}

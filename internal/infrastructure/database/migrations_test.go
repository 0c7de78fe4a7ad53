package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func withMigrations(t *testing.T, fsys fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = fsys
	MigrationsDir = "."
}

func TestMigrate(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20261019_090000_create_wells.up.sql": {Data: []byte(
			"CREATE TABLE wells (id TEXT PRIMARY KEY, name TEXT NOT NULL);")},
		"20261019_090100_add_status.up.sql": {Data: []byte(
			"ALTER TABLE wells ADD COLUMN status TEXT;")},
		"20261019_090100_add_status.down.sql": {Data: []byte("-- ignored")},
		"README.md":                           {Data: []byte("not a migration")},
	})

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO wells (id, name, status) VALUES ('w1', 'Theta 1', 'on')"); err != nil {
		t.Fatalf("schema not applied in order: %v", err)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("schema_migrations rows = %d, want 2", count)
	}
}

func TestMigrate_FailureRollsBackStep(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20261019_090000_ok.up.sql":     {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"20261019_090100_broken.up.sql": {Data: []byte("CREATE TABLE b (;")},
	})

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("pending = %+v, want only the broken migration", pending)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	origFS := MigrationsFS
	t.Cleanup(func() { MigrationsFS = origFS })
	MigrationsFS = nil

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOk      bool
	}{
		{"20261019_090000_create_transactions.up.sql", "20261019_090000", "create_transactions", true},
		{"20261019_090000_create_transactions.down.sql", "", "", false},
		{"readme.txt", "", "", false},
		{"20261019_090000.up.sql", "", "", false},
		{"invalid.up.sql", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if version != tt.wantVersion || name != tt.wantName {
				t.Errorf("got (%q, %q), want (%q, %q)", version, name, tt.wantVersion, tt.wantName)
			}
		})
	}
}

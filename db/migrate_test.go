package db

import (
	"path/filepath"
	"testing"
)

func tableExists(t *testing.T, path, table string) bool {
	t.Helper()
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrateUp_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	if err := MigrateUp(path); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	for _, table := range []string{"generation_events", "connection_events"} {
		if !tableExists(t, path, table) {
			t.Errorf("table %s missing", table)
		}
	}

	version, dirty, err := MigrationVersion(path)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 clean", version, dirty)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 2; i++ {
		if err := MigrateUp(path); err != nil {
			t.Fatalf("MigrateUp() run %d error = %v", i+1, err)
		}
	}
}

func TestMigrationVersion_Fresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	version, _, err := MigrationVersion(path)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}

func TestMigrateDown_OneStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	if err := MigrateUp(path); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if err := MigrateDown(path, 1); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, path, "connection_events") {
		t.Error("connection_events survived rollback")
	}
	if !tableExists(t, path, "generation_events") {
		t.Error("generation_events removed by single step rollback")
	}
}

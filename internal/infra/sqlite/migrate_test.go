package sqlite_test

import (
	"testing"

	"github.com/roadsense/roadsense/internal/infra/sqlite"
)

func TestMigrateUp_CreatesSchema(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v; want nil", err)
	}

	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='processed_agent_data'",
	).Scan(&name)
	if err != nil {
		t.Fatalf("processed_agent_data table not found after MigrateUp: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp() error = %v; want nil", err)
	}
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("second MigrateUp() error = %v; want nil", err)
	}

	version, err := sqlite.MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v; want nil", err)
	}
	if version != 1 {
		t.Errorf("MigrationVersion() = %d; want 1", version)
	}
}

func TestMigrationVersion_FreshDB(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	version, err := sqlite.MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v; want nil", err)
	}
	if version != 0 {
		t.Errorf("MigrationVersion() on fresh db = %d; want 0", version)
	}
}

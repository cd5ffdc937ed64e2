package platform

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// expectedSchemaVersion is bumped whenever a migration is added under migrations/.
// Startup refuses to run if the database reports anything else (spec.md §6:
// "Startup refuses to run if schema is older or newer than expected").
const expectedSchemaVersion uint = 1

// RunMigrations applies pending schema migrations from migrationsDir. It is
// the sole writer of the schema_version table (spec.md §6).
//
// golang-migrate takes a Postgres advisory lock for the duration of the run.
// A stuck lock surfaces here as an error, which callers must treat as fatal
// (spec.md §9 Open Questions: lock collision is a fatal startup error, never
// a silent process exit).
func RunMigrations(databaseURL, migrationsDir string) error {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsDir), databaseURL)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the currently applied migration version without
// modifying the database.
func SchemaVersion(databaseURL, migrationsDir string) (version uint, dirty bool, err error) {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsDir), databaseURL)
	if err != nil {
		return 0, false, fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	return version, dirty, nil
}

// CheckSchemaVersion enforces the startup gate described in spec.md §6/§7:
// refuse to run against a schema that is older or newer than expected.
func CheckSchemaVersion(databaseURL, migrationsDir string) error {
	version, dirty, err := SchemaVersion(databaseURL, migrationsDir)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema at version %d is dirty; manual intervention required", version)
	}
	if version != expectedSchemaVersion {
		return fmt.Errorf("schema version mismatch: database is at %d, binary expects %d", version, expectedSchemaVersion)
	}
	return nil
}

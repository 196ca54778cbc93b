package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// CheckDBMigrationStatus reports whether the database schema matches the
// migrations compiled into this build. It returns nil only when the
// recorded version equals the newest embedded one.
func CheckDBMigrationStatus(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("preparing migrator: %w", err)
	}
	// m is deliberately not closed: closing it would also close db,
	// which the caller still owns.

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("database has no schema version yet, run migrate first")
		}
		return fmt.Errorf("reading schema version: %w", err)
	}

	if dirty {
		return fmt.Errorf("schema version %d is marked dirty, an earlier migration did not finish", version)
	}

	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}
	defer sourceDriver.Close()

	latest, err := getLatestVersion(sourceDriver)
	if err != nil {
		return fmt.Errorf("finding newest embedded migration: %w", err)
	}

	if version < latest {
		return fmt.Errorf("schema version %d is %d migration(s) behind %d, run migrate", version, latest-version, latest)
	}
	if version > latest {
		return fmt.Errorf("schema version %d is newer than this build supports (%d)", version, latest)
	}
	return nil
}

// MigrateUp applies every pending migration. A database already at the
// newest version is left untouched.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("preparing migrator: %w", err)
	}
	// As above, m stays open so db survives.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("wrapping database connection: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, err
	}
	return m, nil
}

// getLatestVersion walks the source driver to its last entry. The iofs
// driver only exposes First/Next, so this is the supported way to find
// the newest version.
func getLatestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			// Next errors once the sequence is exhausted.
			return version, nil
		}
		version = next
	}
}

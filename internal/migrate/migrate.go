// Package migrate applies versioned SQL schema migrations to a store's
// database using golang-migrate, giving schema changes an explicit history
// instead of ad-hoc "CREATE TABLE IF NOT EXISTS" statements run at every
// startup.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Dialect selects which golang-migrate database driver wraps db. Both
// drivers operate generically over an existing *sql.DB and only speak SQL,
// so they compose with any driver registered under database/sql for that
// dialect — the pure-Go modernc.org/sqlite driver for SQLite, the pgx
// stdlib adapter for Postgres.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Apply runs every pending "up" migration under the "migrations" directory
// of fsys against db.
func Apply(db *sql.DB, dialect Dialect, fsys fs.FS) error {
	var drv database.Driver
	var err error

	switch dialect {
	case DialectSQLite:
		drv, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case DialectPostgres:
		drv, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("migrate: unknown dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("migrate: open %s driver: %w", dialect, err)
	}

	src, err := iofs.New(fsys, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: open embedded source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), drv)
	if err != nil {
		return fmt.Errorf("migrate: new migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate: apply: %w", err)
	}
	return nil
}

package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// ErrNoChange is returned by migrate when there is nothing to apply.
var ErrNoChange = migrate.ErrNoChange

// NewMigrator builds a migrate instance over an already opened connection.
// Closing the returned instance also closes db.
func NewMigrator(db *sql.DB, driver string) (*migrate.Migrate, error) {
	dialect := Dialect(driver)
	source, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	var target migratedb.Driver
	switch dialect {
	case "sqlite":
		target, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		target, err = postgres.WithInstance(db, &postgres.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("migration target: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, target)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration; being at the latest version is
// not an error. The postgres target pins a connection for its lifetime, so
// postgres migrations run on a dedicated connection that is closed afterwards.
// SQLite runs on shared, which must stay open: an in-memory database lives
// only as long as its connection.
func MigrateUp(cfg Config, shared *sql.DB) error {
	db := shared
	if Dialect(cfg.Driver) != "sqlite" {
		own, err := Connect(cfg)
		if err != nil {
			return err
		}
		db = own
	}
	m, err := NewMigrator(db, cfg.Driver)
	if err != nil {
		if db != shared {
			db.Close()
		}
		return err
	}
	if db != shared {
		defer m.Close()
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

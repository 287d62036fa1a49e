package repository

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies all up migrations for the database dialect.
// The migrate instance is not closed: its database driver would close the shared *sql.DB.
func Migrate(db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		dir string
		drv database.Driver
		err error
	)
	switch db.Dialect() {
	case dialect.Postgres:
		dir = "migrations/postgres"
		drv, err = migratepgx.WithInstance(db.SQL(), &migratepgx.Config{})
	case dialect.SQLite:
		dir = "migrations/sqlite"
		drv, err = migratesqlite.WithInstance(db.SQL(), &migratesqlite.Config{})
	default:
		return fmt.Errorf("migrate: unsupported dialect %q", db.Dialect())
	}
	if err != nil {
		return fmt.Errorf("migrate: database driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migrate: source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.Dialect(), drv)
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("migrations up to date", "dialect", db.Dialect())
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("migrations applied", "dialect", db.Dialect(), "version", version, "dirty", dirty)
	return nil
}

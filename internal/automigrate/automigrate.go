// Package automigrate runs pending database migrations on startup.
package automigrate

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/samhotchkiss/otter-relay/migrations"
)

// Run applies all pending up migrations embedded in the binary.
func Run(db *sql.DB, logger *slog.Logger) error {
	return RunFS(db, migrations.FS, logger)
}

// RunFS applies all pending up migrations found at the root of fsys.
// The caller keeps ownership of db.
func RunFS(db *sql.DB, fsys fs.FS, logger *slog.Logger) error {
	if db == nil {
		return errors.New("database is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	src, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	defer src.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("open migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	before, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("database up to date", "version", before)
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	after, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", after)
	}
	logger.Info("migrations applied", "from", before, "to", after)
	return nil
}

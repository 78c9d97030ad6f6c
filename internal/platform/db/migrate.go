package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrateUp applies all pending migrations.
func MigrateUp(dsn string, logger *slog.Logger) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("platform/db: migrate up: %w", err)
	}
	logVersion(m, logger)
	return nil
}

// MigrateDown rolls back the given number of steps.
func MigrateDown(dsn string, steps int, logger *slog.Logger) error {
	if steps <= 0 {
		return errors.New("platform/db: steps must be positive")
	}
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("platform/db: migrate down: %w", err)
	}
	logVersion(m, logger)
	return nil
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("platform/db: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(dsn))
	if err != nil {
		return nil, fmt.Errorf("platform/db: migrator: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate, logger *slog.Logger) {
	srcErr, dbErr := m.Close()
	if logger == nil {
		return
	}
	if srcErr != nil {
		logger.Warn("close migration source", slog.Any("error", srcErr))
	}
	if dbErr != nil {
		logger.Warn("close migration database", slog.Any("error", dbErr))
	}
}

func logVersion(m *migrate.Migrate, logger *slog.Logger) {
	if logger == nil {
		return
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Warn("read migration version", slog.Any("error", err))
		return
	}
	logger.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
}

// pgx5URL rewrites a postgres:// DSN to the scheme registered by the pgx/v5 driver.
func pgx5URL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

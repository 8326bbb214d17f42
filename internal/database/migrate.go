package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// DefaultMigrationsSource is relative to the daemon's working directory.
const DefaultMigrationsSource = "file://migrations"

// MigrationStatus is the schema version after Migrate.
type MigrationStatus struct {
	Version uint
	Applied bool
}

// Migrate applies every pending up migration from sourceURL.
func Migrate(databaseURL, sourceURL string, logger *zap.Logger) (MigrationStatus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sourceURL == "" {
		sourceURL = DefaultMigrationsSource
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	status := MigrationStatus{Applied: true}
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationStatus{}, fmt.Errorf("failed to apply migrations: %w", err)
		}
		status.Applied = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return MigrationStatus{}, fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	}
	status.Version = version

	if status.Applied {
		logger.Info("migrations applied", zap.Uint("version", version))
	} else {
		logger.Info("database schema is up to date", zap.Uint("version", version))
	}
	return status, nil
}

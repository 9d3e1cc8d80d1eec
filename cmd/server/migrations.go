package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/pressly/goose/v3"
)

// migrationsDir is where the goose SQL migrations live, relative to the
// server's working directory. Overridable for containerized deployments.
const (
	migrationsDirEnv     = "COURSEGEN_MIGRATIONS_DIR"
	defaultMigrationsDir = "migrations"
)

// runMigrations applies any outstanding schema migrations before the
// server starts serving traffic.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	dir := os.Getenv(migrationsDirEnv)
	if dir == "" {
		dir = defaultMigrationsDir
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	before, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	after, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version after migrating: %w", err)
	}

	if after != before {
		logger.Info("schema migrated", "from_version", before, "to_version", after)
	} else {
		logger.Debug("schema is up to date", "version", after)
	}

	return nil
}

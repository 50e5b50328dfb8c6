package migration

import (
	"context"
	"io/fs"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
)

// MigrationsTable is the table golang-migrate tracks the cache schema version in.
const MigrationsTable = "billcache_migrations"

// Migrator handles database schema migrations.
type Migrator interface {
	// Up applies all pending migrations found under path in migrationFS.
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Down rolls back all applied migrations.
	Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
}

// MigratorProvider is a factory for creating Migrator instances.
type MigratorProvider interface {
	NewMigrator(dbConn database.DBConnection) Migrator
}

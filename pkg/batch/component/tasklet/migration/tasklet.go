package migration

import (
	"context"
	"io/fs"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const taskletName = "migration_tasklet"

// MigrationTasklet brings the cache database schema up to date before anything reads or writes it.
// The migration directory is the connection's database type.
type MigrationTasklet struct {
	cfg              *config.Config
	dbProviders      map[string]database.DBProvider
	migratorProvider MigratorProvider
	migrationFS      fs.FS
	dbConnectionName string
	command          string
}

// NewMigrationTasklet creates a MigrationTasklet for the cache connection named by
// billcache.infrastructure.cache_db_ref.
//
// Parameters:
//
//	cfg: The application configuration.
//	dbProviders: Every registered DBProvider.
//	migratorProvider: The factory for Migrator instances.
//	migrationFS: The embedded migrations, one directory per dialect.
//
// Returns:
//
//	A new MigrationTasklet.
func NewMigrationTasklet(cfg *config.Config, dbProviders []database.DBProvider, migratorProvider MigratorProvider, migrationFS fs.FS) *MigrationTasklet {
	providers := make(map[string]database.DBProvider, len(dbProviders))
	for _, p := range dbProviders {
		providers[p.Type()] = p
	}
	return &MigrationTasklet{
		cfg:              cfg,
		dbProviders:      providers,
		migratorProvider: migratorProvider,
		migrationFS:      migrationFS,
		dbConnectionName: cfg.BillCache.Infrastructure.CacheDBRef,
		command:          "up",
	}
}

// Execute runs the migration and reopens the connection afterwards, since golang-migrate
// closes the pool it was handed.
func (t *MigrationTasklet) Execute(ctx context.Context) error {
	if t.cfg.BillCache.Infrastructure.SkipMigrations {
		logger.Infof("Migrations are disabled (skip_migrations). Skipping schema migration for '%s'.", t.dbConnectionName)
		return nil
	}

	dbConfig, err := gormadapter.DecodeDatabaseConfig(t.cfg, t.dbConnectionName)
	if err != nil {
		return exception.NewBatchError(taskletName, "Failed to read cache database configuration", err, false)
	}
	provider, ok := t.dbProviders[dbConfig.Type]
	if !ok {
		return exception.NewBatchErrorf(taskletName, "DBProvider for type '%s' not found", dbConfig.Type)
	}

	dbConn, err := provider.GetConnection(t.dbConnectionName)
	if err != nil {
		return exception.NewBatchError(taskletName, "Failed to open cache database connection", err, true)
	}

	logger.Infof("Starting schema migration for DB connection '%s' (%s).", t.dbConnectionName, dbConn.Type())
	migrator := t.migratorProvider.NewMigrator(dbConn)
	switch t.command {
	case "up":
		err = migrator.Up(ctx, t.migrationFS, dbConn.Type(), MigrationsTable)
	case "down":
		err = migrator.Down(ctx, t.migrationFS, dbConn.Type(), MigrationsTable)
	default:
		return exception.NewBatchErrorf(taskletName, "Unknown migration command: %s", t.command)
	}
	if err != nil {
		return exception.NewBatchError(taskletName, "Schema migration failed", err, false)
	}

	if _, err := provider.ForceReconnect(t.dbConnectionName); err != nil {
		return exception.NewBatchError(taskletName, "Failed to reconnect DB connection after migration", err, false)
	}
	return nil
}

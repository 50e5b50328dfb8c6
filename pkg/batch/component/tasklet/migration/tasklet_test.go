package migration_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/billcache/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/billcache/pkg/batch/component/tasklet/migration/filesystem"
	"github.com/tigerroll/billcache/pkg/batch/core/config"
)

func newCacheConfig(t *testing.T) *config.Config {
	cfg := config.NewConfig()
	cfg.BillCache.AdaptorConfigs["cache"] = map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(t.TempDir(), "cache.db"),
	}
	return cfg
}

func TestMigrationTasklet_CreatesCacheSchema(t *testing.T) {
	cfg := newCacheConfig(t)
	provider := sqlite.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })

	tasklet := migration.NewMigrationTasklet(cfg, []database.DBProvider{provider}, migration.NewMigratorProvider(), filesystem.ProvideMigrationsFS())
	require.NoError(t, tasklet.Execute(context.Background()))
	// A second run finds nothing to apply.
	require.NoError(t, tasklet.Execute(context.Background()))

	conn, err := provider.GetConnection("cache")
	require.NoError(t, err)
	require.NoError(t, conn.RefreshConnection(context.Background()))

	for _, table := range []string{"summary_dataset", "nocs_balance_summary", "bill_stop_analysis", "batch_log", "batch_workflow_config"} {
		rows, err := conn.QueryRows(context.Background(), "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		require.NoError(t, err)
		assert.Len(t, rows, 1, "table %s", table)
	}
}

func TestMigrationTasklet_SkipMigrations(t *testing.T) {
	cfg := newCacheConfig(t)
	cfg.BillCache.Infrastructure.SkipMigrations = true
	provider := sqlite.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })

	tasklet := migration.NewMigrationTasklet(cfg, []database.DBProvider{provider}, migration.NewMigratorProvider(), filesystem.ProvideMigrationsFS())
	require.NoError(t, tasklet.Execute(context.Background()))

	conn, err := provider.GetConnection("cache")
	require.NoError(t, err)
	_, err = conn.QueryRows(context.Background(), "SELECT * FROM batch_log")
	assert.True(t, gormadapter.IsTableNotExistError(err))
}

func TestMigrationTasklet_UnknownProvider(t *testing.T) {
	cfg := newCacheConfig(t)
	tasklet := migration.NewMigrationTasklet(cfg, nil, migration.NewMigratorProvider(), filesystem.ProvideMigrationsFS())
	err := tasklet.Execute(context.Background())
	assert.ErrorContains(t, err, "DBProvider for type 'sqlite' not found")
}

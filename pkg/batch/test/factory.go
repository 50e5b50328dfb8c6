// Package test holds helpers shared by the package tests: database fixtures, resolvers and
// model factories.
package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbadapter "github.com/tigerroll/billcache/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/billcache/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/billcache/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/billcache/pkg/batch/component/tasklet/migration/filesystem"
	"github.com/tigerroll/billcache/pkg/batch/core/config"
)

// NewMigratedSQLiteConnection opens a SQLite cache database in a temporary directory and
// applies the embedded migrations to it. The connection is named "cache".
func NewMigratedSQLiteConnection(t *testing.T) dbadapter.DBConnection {
	t.Helper()
	cfg := config.NewConfig()
	cfg.BillCache.AdaptorConfigs["cache"] = map[string]interface{}{
		"type":     sqlite.ProviderType,
		"database": filepath.Join(t.TempDir(), "cache.db"),
		"pool":     map[string]interface{}{"max_open_conns": 1},
	}
	provider := sqlite.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })

	tasklet := migration.NewMigrationTasklet(cfg, []dbadapter.DBProvider{provider}, migration.NewMigratorProvider(), filesystem.ProvideMigrationsFS())
	require.NoError(t, tasklet.Execute(context.Background()))

	conn, err := provider.GetConnection("cache")
	require.NoError(t, err)
	return conn
}

// NewSQLMockConnection returns a DBConnection backed by go-sqlmock through the GORM MySQL
// dialector, together with the mock to set expectations on.
func NewSQLMockConnection(t *testing.T) (dbadapter.DBConnection, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormadapter.NewGormLogger("")})
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "mysql"}, "cache")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn, mock
}

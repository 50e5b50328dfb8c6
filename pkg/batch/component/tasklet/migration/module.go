// Package migration applies the embedded cache database migrations at startup.
package migration

import (
	"context"
	"io/fs"

	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	"github.com/tigerroll/billcache/pkg/batch/component/tasklet/migration/filesystem"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
)

type migrationTaskletParams struct {
	fx.In
	Cfg              *config.Config
	DBProviders      []database.DBProvider `group:"db_providers"`
	MigratorProvider MigratorProvider
	MigrationFS      fs.FS `name:"migrationsFS"`
}

func newMigrationTasklet(p migrationTaskletParams) *MigrationTasklet {
	return NewMigrationTasklet(p.Cfg, p.DBProviders, p.MigratorProvider, p.MigrationFS)
}

// RegisterMigrationHook runs the migration in OnStart, ahead of hooks registered later.
func RegisterMigrationHook(lc fx.Lifecycle, t *MigrationTasklet) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return t.Execute(ctx)
		},
	})
}

// Module provides the MigrationTasklet and runs it on application start.
var Module = fx.Options(
	filesystem.Module,
	fx.Provide(NewMigratorProvider),
	fx.Provide(newMigrationTasklet),
	fx.Invoke(RegisterMigrationHook),
)

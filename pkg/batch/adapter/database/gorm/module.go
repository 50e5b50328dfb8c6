package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
)

// Module provides the connection resolver over every DBProvider in the db_providers group.
// Dialect providers come from the sqlite, postgres and mysql sub-packages.
var Module = fx.Options(
	fx.Provide(
		NewGormDBConnectionResolver,
		func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r },
	),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.CloseAll()
			},
		})
	}),
)

package sql

import (
	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	"github.com/tigerroll/billcache/pkg/batch/core/config"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
)

// RepositoryParams defines the dependencies of the SQL repositories.
type RepositoryParams struct {
	fx.In
	DBResolver database.DBConnectionResolver
	Cfg        *config.Config
}

func cacheDBName(cfg *config.Config) string {
	if name := cfg.BillCache.Infrastructure.CacheDBRef; name != "" {
		return name
	}
	return "cache"
}

// NewBatchRunRepository is the Fx provider of the SQL batch log.
func NewBatchRunRepository(p RepositoryParams) repository.BatchRunRepository {
	return NewSQLBatchRunRepository(p.DBResolver, cacheDBName(p.Cfg))
}

// NewWorkflowConfigRepository is the Fx provider of the SQL workflow config store.
func NewWorkflowConfigRepository(p RepositoryParams) repository.WorkflowConfigRepository {
	return NewSQLWorkflowConfigRepository(p.DBResolver, cacheDBName(p.Cfg))
}

// NewSummaryRepository is the Fx provider of the SQL cache table writer.
func NewSummaryRepository(p RepositoryParams) repository.SummaryRepository {
	return NewSQLSummaryRepository(p.DBResolver, cacheDBName(p.Cfg))
}

// Module provides the SQL repositories on the cache database connection.
var Module = fx.Options(
	fx.Provide(NewBatchRunRepository),
	fx.Provide(NewWorkflowConfigRepository),
	fx.Provide(NewSummaryRepository),
)

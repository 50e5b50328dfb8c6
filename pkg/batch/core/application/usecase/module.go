package usecase

import (
	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
	"github.com/tigerroll/billcache/pkg/batch/core/scheduler"
	"github.com/tigerroll/billcache/pkg/batch/core/workflow"
)

func newCacheOperator(s *scheduler.Scheduler, e *workflow.Executor) *DefaultCacheOperator {
	return NewDefaultCacheOperator(s, e)
}

func newCacheExplorer(store *cache.Store, e *workflow.Executor, r *workflow.Registry, runs repository.BatchRunRepository) *SimpleCacheExplorer {
	return NewSimpleCacheExplorer(store, e, r, runs)
}

// Module is the Fx module for CacheOperator and CacheExplorer.
var Module = fx.Options(
	fx.Provide(fx.Annotate(newCacheOperator, fx.As(new(CacheOperator)))),
	fx.Provide(fx.Annotate(newCacheExplorer, fx.As(new(CacheExplorer)))),
)

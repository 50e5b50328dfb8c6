package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
)

// Module provides the in-memory repositories in place of the SQL ones.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewBatchRunRepository, fx.As(new(repository.BatchRunRepository)))),
	fx.Provide(fx.Annotate(func() *WorkflowConfigRepository { return NewWorkflowConfigRepository() }, fx.As(new(repository.WorkflowConfigRepository)))),
	fx.Provide(fx.Annotate(NewSummaryRepository, fx.As(new(repository.SummaryRepository)))),
)

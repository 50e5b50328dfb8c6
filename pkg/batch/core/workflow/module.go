package workflow

import (
	"context"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
)

// ExecutorParams are the Fx inputs of the Executor.
type ExecutorParams struct {
	fx.In
	Registry *Registry
	Runs     repository.BatchRunRepository
	Notifier ports.Notifier
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	Cfg      *config.Config
}

// NewExecutorFromConfig creates the Executor with the configured delays.
func NewExecutorFromConfig(p ExecutorParams) *Executor {
	b := p.Cfg.BillCache.Batch
	return NewExecutor(p.Registry, p.Runs, p.Notifier, p.Recorder, p.Tracer, ExecutorOptions{
		InterIterationDelay: time.Duration(b.InterIterationDelaySeconds) * time.Second,
		MaxRunDuration:      time.Duration(b.MaxRunDurationMinutes) * time.Minute,
		StatusHistorySize:   b.StatusHistorySize,
	})
}

// RegisterSeedHook seeds the declared workflows into the registry on startup.
func RegisterSeedHook(lc fx.Lifecycle, registry *Registry, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return registry.Seed(ctx, cfg.BillCache.Workflows)
		},
	})
}

// Module provides the Registry and the Executor.
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Provide(NewExecutorFromConfig),
	fx.Provide(func(e *Executor) port.WorkflowRunner { return e }),
	fx.Invoke(RegisterSeedHook),
)

package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
)

// SchedulerParams are the Fx inputs of the Scheduler.
type SchedulerParams struct {
	fx.In
	Refresher port.Refresher
	Runner    port.WorkflowRunner
	Store     *cache.Store
	Recorder  metrics.MetricRecorder
	Cfg       *config.Config
}

// NewSchedulerFromConfig creates the Scheduler and registers the configured schedules.
func NewSchedulerFromConfig(p SchedulerParams) (*Scheduler, error) {
	loc, err := time.LoadLocation(p.Cfg.BillCache.System.Timezone)
	if err != nil {
		loc = time.UTC
	}
	s := NewScheduler(p.Refresher, p.Runner, p.Store, p.Recorder, p.Cfg.BillCache.Datasets, p.Cfg.BillCache.Batch.WorkerPoolSize, loc)
	if err := s.ScheduleConfigured(); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterLifecycle starts the Scheduler after the other OnStart hooks and stops it first.
func RegisterLifecycle(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return s.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return s.Stop(ctx) },
	})
}

// Module provides the Scheduler and ties it to the application lifecycle.
var Module = fx.Options(
	fx.Provide(NewSchedulerFromConfig),
	fx.Invoke(RegisterLifecycle),
)

// Package scheduler fires dataset refreshes on recurring schedules and on demand.
//
// Refreshes of one dataset are single-flight: an on-demand trigger that arrives while a
// refresh of the same dataset is running attaches to it and receives its outcome, and a
// scheduled tick that arrives meanwhile is skipped. Refreshes of different datasets run in
// parallel up to the worker pool size.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const (
	module = "scheduler"

	// TriggeredByScheduler is recorded for refreshes fired by a schedule.
	TriggeredByScheduler = "scheduler"

	sourceTick    = "tick"
	sourceTrigger = "trigger"
)

// cronParser accepts standard 5-field expressions and descriptors such as "@every 30m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression or descriptor.
func ParseSchedule(spec string) (cronlib.Schedule, error) {
	return cronParser.Parse(spec)
}

// SnapshotReader returns the currently published snapshot of a dataset.
type SnapshotReader interface {
	Snapshot(datasetKey string) (*model.Snapshot, error)
}

// Scheduler owns the recurring schedules and the single-flight of every dataset.
type Scheduler struct {
	refresher port.Refresher
	runner    port.WorkflowRunner
	snapshots SnapshotReader
	recorder  metrics.MetricRecorder
	datasets  map[string]config.DatasetConfig

	cron    *cronlib.Cron
	group   singleflight.Group
	pool    *semaphore.Weighted
	running sync.Map // dataset key -> *atomic.Bool

	mu      sync.Mutex
	entries map[string]cronlib.EntryID

	baseCtx context.Context
	cancel  context.CancelFunc
	// runMu orders wg.Add in run against Stop's Wait.
	runMu   sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler over the declared datasets.
//
// Parameters:
//
//	refresher: Refreshes datasets that are not driven by a workflow.
//	runner: Runs the workflow of datasets declaring a workflow_code.
//	snapshots: Supplies the snapshot published by a workflow-driven refresh.
//	recorder: Records coalesced triggers.
//	datasets: The declared datasets.
//	workerPoolSize: Maximum number of refreshes running at the same time.
//	loc: Timezone cron expressions are evaluated in.
//
// Returns:
//
//	A new Scheduler. Call Start to begin firing schedules.
func NewScheduler(refresher port.Refresher, runner port.WorkflowRunner, snapshots SnapshotReader, recorder metrics.MetricRecorder,
	datasets []config.DatasetConfig, workerPoolSize int, loc *time.Location) *Scheduler {
	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	byKey := make(map[string]config.DatasetConfig, len(datasets))
	for _, ds := range datasets {
		byKey[ds.Key] = ds
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		refresher: refresher,
		runner:    runner,
		snapshots: snapshots,
		recorder:  recorder,
		datasets:  byKey,
		cron:      cronlib.New(cronlib.WithParser(cronParser), cronlib.WithLocation(loc)),
		pool:      semaphore.NewWeighted(int64(workerPoolSize)),
		entries:   make(map[string]cronlib.EntryID),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
}

// ScheduleRecurring refreshes datasetKey every interval, replacing an earlier schedule.
func (s *Scheduler) ScheduleRecurring(datasetKey string, interval time.Duration) error {
	if interval <= 0 {
		return exception.NewBatchErrorf(module, "interval for '%s' must be positive, got %s", datasetKey, interval)
	}
	return s.schedule(datasetKey, cronlib.Every(interval), interval.String())
}

// ScheduleRecurringSpec refreshes datasetKey on a cron expression or descriptor.
func (s *Scheduler) ScheduleRecurringSpec(datasetKey string, spec string) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("invalid schedule %q for '%s'", spec, datasetKey), err, false)
	}
	return s.schedule(datasetKey, sched, spec)
}

func (s *Scheduler) schedule(datasetKey string, sched cronlib.Schedule, desc string) error {
	if _, ok := s.datasets[datasetKey]; !ok {
		return fmt.Errorf("schedule dataset '%s': %w", datasetKey, exception.ErrDatasetNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[datasetKey]; ok {
		s.cron.Remove(id)
	}
	s.entries[datasetKey] = s.cron.Schedule(sched, cronlib.FuncJob(func() { s.tick(datasetKey) }))
	logger.Infof("Scheduler: '%s' refreshes on '%s'.", datasetKey, desc)
	return nil
}

// Unschedule removes the recurring schedule of datasetKey, if any.
func (s *Scheduler) Unschedule(datasetKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[datasetKey]; ok {
		s.cron.Remove(id)
		delete(s.entries, datasetKey)
	}
}

// ScheduleConfigured registers the schedule of every dataset that declares one.
func (s *Scheduler) ScheduleConfigured() error {
	for key, ds := range s.datasets {
		if ds.Schedule == "" {
			continue
		}
		if err := s.ScheduleRecurringSpec(key, ds.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// NextRun returns the next scheduled fire time of datasetKey. Before Start it is zero.
func (s *Scheduler) NextRun(datasetKey string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[datasetKey]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// tick fires a scheduled refresh unless one is already running for the dataset.
func (s *Scheduler) tick(datasetKey string) {
	if s.inFlight(datasetKey) {
		logger.Debugf("Scheduler: tick for '%s' skipped, a refresh is already in flight.", datasetKey)
		s.recorder.RecordCoalesced(s.baseCtx, datasetKey, sourceTick)
		return
	}
	if _, _, err := s.TriggerNow(s.baseCtx, datasetKey, TriggeredByScheduler); err != nil {
		// The refresh has already logged and recorded the failure.
		logger.Debugf("Scheduler: scheduled refresh of '%s' ended with: %v", datasetKey, err)
	}
}

// TriggerNow refreshes datasetKey and waits for the outcome. When a refresh of the dataset is
// already in flight the caller attaches to it and shared is true.
//
// The refresh itself runs on the scheduler's lifetime context: ctx only bounds how long this
// caller waits, so giving up does not cancel the refresh for other callers.
func (s *Scheduler) TriggerNow(ctx context.Context, datasetKey string, triggeredBy string) (snap *model.Snapshot, shared bool, err error) {
	if _, ok := s.datasets[datasetKey]; !ok {
		return nil, false, fmt.Errorf("trigger dataset '%s': %w", datasetKey, exception.ErrDatasetNotFound)
	}
	if err := s.baseCtx.Err(); err != nil {
		return nil, false, exception.NewBatchError(module, "scheduler is stopped", err, false)
	}
	if s.inFlight(datasetKey) && triggeredBy != TriggeredByScheduler {
		s.recorder.RecordCoalesced(ctx, datasetKey, sourceTrigger)
	}

	ch := s.group.DoChan(datasetKey, func() (interface{}, error) {
		return s.run(datasetKey, triggeredBy)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*model.Snapshot), res.Shared, nil
	}
}

// run performs one refresh inside the single-flight.
func (s *Scheduler) run(datasetKey string, triggeredBy string) (*model.Snapshot, error) {
	if !s.enter() {
		return nil, exception.NewBatchError(module, fmt.Sprintf("refresh of '%s' not started: scheduler is stopped", datasetKey), context.Canceled, false)
	}
	defer s.wg.Done()

	flag := s.flag(datasetKey)
	flag.Store(true)
	defer flag.Store(false)

	if err := s.pool.Acquire(s.baseCtx, 1); err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("refresh of '%s' cancelled while waiting for a worker", datasetKey), err, false)
	}
	defer s.pool.Release(1)

	ds := s.datasets[datasetKey]
	if ds.WorkflowCode == "" {
		return s.refresher.Refresh(s.baseCtx, datasetKey)
	}

	logger.Debugf("Scheduler: '%s' is refreshed by workflow '%s' (triggered by '%s').", datasetKey, ds.WorkflowCode, triggeredBy)
	result, err := s.runner.Run(s.baseCtx, ds.WorkflowCode, triggeredBy)
	if err != nil {
		return nil, err
	}
	if result.State != model.StateSucceeded {
		return nil, exception.NewBatchError(module,
			fmt.Sprintf("workflow '%s' refreshing '%s' ended %s", ds.WorkflowCode, datasetKey, result.State), result.Err, false)
	}
	return s.snapshots.Snapshot(datasetKey)
}

// enter registers a refresh with the stop wait group unless Stop has begun.
func (s *Scheduler) enter() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) flag(datasetKey string) *atomic.Bool {
	v, _ := s.running.LoadOrStore(datasetKey, new(atomic.Bool))
	return v.(*atomic.Bool)
}

func (s *Scheduler) inFlight(datasetKey string) bool {
	v, ok := s.running.Load(datasetKey)
	return ok && v.(*atomic.Bool).Load()
}

// Start begins firing the registered schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	logger.Infof("Scheduler started with %d schedule(s).", len(s.cron.Entries()))
	return nil
}

// Stop stops firing schedules, cancels in-flight refreshes and waits for them to return or
// for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.runMu.Lock()
	s.stopped = true
	s.runMu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("Scheduler stopped.")
		return nil
	case <-ctx.Done():
		return exception.NewBatchError(module, "timed out waiting for in-flight refreshes", ctx.Err(), false)
	}
}

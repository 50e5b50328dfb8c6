package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const module = "workflow"

// ExecutorOptions tunes the executor.
type ExecutorOptions struct {
	// InterIterationDelay is the wait between repeat-until-zero iterations.
	InterIterationDelay time.Duration
	// MaxRunDuration is how long a lease may be held before another run reclaims it.
	// Zero disables reclaiming.
	MaxRunDuration time.Duration
	// StatusHistorySize is the number of batch log rows Status returns by default.
	StatusHistorySize int
}

// Executor runs workflow steps through the Idle -> Running -> terminal state machine and
// records every iteration in the batch log. At most one run per workflow code is active.
type Executor struct {
	registry *Registry
	runs     repository.BatchRunRepository
	notifier ports.Notifier
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
	opts     ExecutorOptions
	leases   *leaseTable

	actionsMu sync.RWMutex
	actions   map[string]port.Tasklet

	now      func() time.Time
	newRunID func() string
}

// NewExecutor creates an Executor with no bound actions.
func NewExecutor(registry *Registry, runs repository.BatchRunRepository, notifier ports.Notifier, recorder metrics.MetricRecorder, tracer metrics.Tracer, opts ExecutorOptions) *Executor {
	if opts.StatusHistorySize <= 0 {
		opts.StatusHistorySize = 20
	}
	return &Executor{
		registry: registry,
		runs:     runs,
		notifier: notifier,
		recorder: recorder,
		tracer:   tracer,
		opts:     opts,
		leases:   newLeaseTable(opts.MaxRunDuration),
		actions:  make(map[string]port.Tasklet),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// Bind sets the step action run for code.
func (e *Executor) Bind(code string, action port.Tasklet) {
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()
	e.actions[code] = action
	logger.Debugf("Workflow: action bound to '%s'.", code)
}

func (e *Executor) action(code string) (port.Tasklet, bool) {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()
	a, ok := e.actions[code]
	return a, ok
}

// Run executes the workflow step code to completion.
//
// The config is read once at run start; later edits apply to the next run. A run that cannot
// start returns an error matching exception.ErrWorkflowNotFound, exception.ErrWorkflowDisabled
// or exception.ErrConcurrentRunRejected and writes nothing to the batch log. A run that started
// always returns a result in a terminal state; result.Err carries the failure, if any.
//
// A run holding the lease longer than MaxRunDuration is reclaimed by the next Run of the same
// code: the old run is cancelled and ends Failed with exception.ErrLeaseReclaimed, and the new
// run starts its first iteration only after the old one released the lease.
func (e *Executor) Run(ctx context.Context, code string, triggeredBy string) (*model.RunResult, error) {
	cfg, err := e.registry.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, exception.NewBatchError(module, fmt.Sprintf("workflow '%s' is disabled", code), exception.ErrWorkflowDisabled, false)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exception.NewBatchError(module, "invalid workflow config", err, false)
	}
	action, ok := e.action(code)
	if !ok {
		return nil, exception.NewBatchError(module, fmt.Sprintf("no action bound to workflow '%s'", code), exception.ErrWorkflowNotFound, false)
	}

	runID := e.newRunID()
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	l, stale, ok := e.leases.acquire(code, runID, e.now(), cancel)
	if !ok {
		holder, since, _ := e.leases.holder(code)
		return nil, exception.NewBatchError(module,
			fmt.Sprintf("workflow '%s' already in progress (run %s since %s)", code, holder, since.Format(time.RFC3339)),
			exception.ErrConcurrentRunRejected, false)
	}
	defer l.Release()
	if stale != nil {
		msg := fmt.Sprintf("reclaimed lease of run %s held since %s (longer than %s)", stale.runID, stale.heldSince.Format(time.RFC3339), e.opts.MaxRunDuration)
		logger.Errorf("Workflow '%s': %s.", code, msg)
		e.notifier.NotifyAnomaly(ctx, code, msg)
		// The reclaimed run was cancelled; its in-flight iteration must end before ours starts.
		select {
		case <-stale.Done():
		case <-runCtx.Done():
			return nil, exception.NewBatchError(module,
				fmt.Sprintf("workflow '%s' cancelled while waiting for reclaimed run %s to stop", code, stale.runID),
				context.Cause(runCtx), false)
		}
	}

	runCtx, end := e.tracer.StartWorkflowSpan(runCtx, code, runID)
	defer end()

	result := e.execute(runCtx, cfg, action, l, triggeredBy)
	e.recorder.RecordWorkflowRun(ctx, result)
	if result.State == model.StateFailed || result.State == model.StateAbortedMaxIterations {
		e.tracer.RecordError(runCtx, module, result.Err)
		e.notifier.NotifyRunCompletion(ctx, result)
	}
	logger.Infof("Workflow '%s' run %s finished: %s after %d iteration(s).", code, runID, result.State, result.Iterations)
	return result, nil
}

// execute drives the state machine of one run.
func (e *Executor) execute(ctx context.Context, cfg model.BatchWorkflowConfig, action port.Tasklet, l *lease, triggeredBy string) *model.RunResult {
	runID := l.runID
	result := &model.RunResult{
		RunID:        runID,
		WorkflowCode: cfg.Code,
		State:        model.StateIdle,
		StartedAt:    e.now(),
		TriggeredBy:  triggeredBy,
	}
	e.transition(result, model.StateRunning)

	maxIterations := cfg.EffectiveMaxIterations()
	logger.Infof("Workflow '%s' run %s started by '%s' (%s, max %d iteration(s)).", cfg.Code, runID, triggeredBy, cfg.RepeatPolicy, maxIterations)

	for iteration := 1; ; iteration++ {
		row := &model.BatchRun{
			WorkflowCode: cfg.Code,
			RunID:        runID,
			Iteration:    iteration,
			StartedAt:    e.now(),
			TriggeredBy:  triggeredBy,
		}
		result.Iterations = iteration

		var (
			res port.StepResult
			err error
		)
		if !l.current() {
			err = exception.NewBatchError(module, fmt.Sprintf("lease reclaimed before iteration %d", iteration), exception.ErrLeaseReclaimed, false)
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("run aborted before iteration %d: %w", iteration, ctxErr)
		} else {
			res, err = e.runIteration(ctx, cfg.Code, action, iteration)
		}
		row.FinishedAt = e.now()
		row.Duration = row.FinishedAt.Sub(row.StartedAt)
		row.Remaining = res.Remaining
		result.LastRemaining = res.Remaining

		next := model.StateRunning
		switch {
		case err != nil:
			next = model.StateFailed
			result.Err = err
		case cfg.RepeatPolicy == model.RepeatOnce:
			next = model.StateSucceeded
		case res.Remaining == nil:
			next = model.StateFailed
			result.Err = exception.NewBatchError(module, fmt.Sprintf("iteration %d reported no remaining count", iteration), nil, false)
		case *res.Remaining == 0:
			next = model.StateSucceeded
		case *res.Remaining < 0:
			next = model.StateFailed
			result.Err = exception.NewBatchError(module, fmt.Sprintf("iteration %d reported a negative remaining count %d", iteration, *res.Remaining), nil, false)
		case iteration >= maxIterations:
			next = model.StateAbortedMaxIterations
			result.Err = exception.NewBatchError(module,
				fmt.Sprintf("%d still remaining after %d iteration(s)", *res.Remaining, iteration), exception.ErrMaxIterationsExceeded, false)
		}

		row.Status = statusFor(next)
		if result.Err != nil {
			row.ErrorMessage = exception.ExtractErrorMessage(result.Err)
		}
		if res.Detail != "" && row.ErrorMessage == "" {
			row.ErrorMessage = res.Detail
		}
		e.appendRun(ctx, row)

		if next != model.StateRunning {
			e.transition(result, next)
			result.FinishedAt = e.now()
			return result
		}

		logger.Infof("Workflow '%s' run %s: iteration %d left %d remaining.", cfg.Code, runID, iteration, *res.Remaining)
		// A cancelled wait is recorded as a failed iteration by the next loop turn.
		e.wait(ctx)
	}
}

// runIteration invokes the action, converting a panic into an error.
func (e *Executor) runIteration(ctx context.Context, code string, action port.Tasklet, iteration int) (res port.StepResult, err error) {
	ctx, end := e.tracer.StartSpan(ctx, "billcache.workflow.iteration", map[string]interface{}{
		"workflow": code, "iteration": iteration,
	})
	defer end()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Workflow '%s': action panicked in iteration %d: %v\n%s", code, iteration, r, debug.Stack())
			res = port.StepResult{}
			err = exception.NewBatchError(module, fmt.Sprintf("action panicked: %v", r), nil, false)
		}
	}()
	return action.Execute(ctx, iteration)
}

func (e *Executor) wait(ctx context.Context) bool {
	if e.opts.InterIterationDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(e.opts.InterIterationDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) transition(result *model.RunResult, to model.RunState) {
	if !model.CanTransition(result.State, to) {
		panic(fmt.Sprintf("workflow: illegal transition %s -> %s for run %s", result.State, to, result.RunID))
	}
	result.State = to
}

// appendRun writes the iteration row. A batch log failure is logged but does not change the
// outcome of the run.
func (e *Executor) appendRun(ctx context.Context, row *model.BatchRun) {
	e.recorder.RecordIteration(ctx, row)
	// The audit row is written even when ctx was cancelled.
	writeCtx := context.WithoutCancel(ctx)
	if err := e.runs.AppendRun(writeCtx, row); err != nil {
		logger.Errorf("Workflow '%s' run %s: failed to append batch log row for iteration %d: %v", row.WorkflowCode, row.RunID, row.Iteration, err)
		e.tracer.RecordError(ctx, module, err)
	}
}

func statusFor(state model.RunState) model.RunStatus {
	switch state {
	case model.StateSucceeded:
		return model.RunStatusSucceeded
	case model.StateFailed:
		return model.RunStatusFailed
	case model.StateAbortedMaxIterations:
		return model.RunStatusAbortedMaxIterations
	}
	return model.RunStatusRunning
}

// RunAll runs every enabled workflow in registry order and stops at the first run that does
// not succeed. Disabled workflows are skipped.
func (e *Executor) RunAll(ctx context.Context, triggeredBy string) ([]*model.RunResult, error) {
	configs, err := e.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	var results []*model.RunResult
	for _, cfg := range configs {
		if !cfg.Enabled {
			logger.Debugf("Workflow: skipping disabled '%s'.", cfg.Code)
			continue
		}
		result, err := e.Run(ctx, cfg.Code, triggeredBy)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if result.State != model.StateSucceeded {
			return results, fmt.Errorf("workflow '%s' ended %s: %w", cfg.Code, result.State, result.Err)
		}
	}
	return results, nil
}

// Status returns the current state and the last n batch log rows of code.
// n <= 0 uses the configured history size.
func (e *Executor) Status(ctx context.Context, code string, n int) (*model.WorkflowStatus, error) {
	cfg, err := e.registry.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = e.opts.StatusHistorySize
	}
	recent, err := e.runs.LastRuns(ctx, code, n)
	if err != nil {
		return nil, err
	}

	status := &model.WorkflowStatus{Config: cfg, State: model.StateIdle, RecentRuns: recent}
	if runID, since, held := e.leases.holder(code); held {
		status.State = model.StateRunning
		status.ActiveRun = runID
		status.HeldSince = since
		return status, nil
	}
	if len(recent) > 0 {
		// A trailing "running" row without a lease belongs to a run that did not finish
		// (e.g. the process stopped); report it as idle.
		if state := model.StateOf(recent[0].Status); state.IsTerminal() {
			status.State = state
		}
	}
	return status, nil
}

var _ port.WorkflowRunner = (*Executor)(nil)

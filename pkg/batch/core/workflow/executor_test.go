package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/workflow"
	"github.com/tigerroll/billcache/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/billcache/pkg/batch/listener/notification"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/billcache/pkg/batch/test"
)

type fixture struct {
	exec     *workflow.Executor
	registry *workflow.Registry
	configs  *inmemory.WorkflowConfigRepository
	runs     *inmemory.BatchRunRepository
	notifier *notification.RecordingNotifier
}

func newFixture(t *testing.T, opts workflow.ExecutorOptions, configs ...model.BatchWorkflowConfig) *fixture {
	t.Helper()
	f := &fixture{
		configs:  inmemory.NewWorkflowConfigRepository(configs...),
		runs:     inmemory.NewBatchRunRepository(),
		notifier: notification.NewRecordingNotifier(),
	}
	f.registry = workflow.NewRegistry(f.configs)
	f.exec = workflow.NewExecutor(f.registry, f.runs, f.notifier, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(), opts)
	return f
}

// sequence reports the given counts in order, repeating the last one.
func sequence(counts ...int64) port.Tasklet {
	var i int64 = -1
	return port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		n := atomic.AddInt64(&i, 1)
		if int(n) >= len(counts) {
			n = int64(len(counts) - 1)
		}
		return port.Remaining(counts[n]), nil
	})
}

func statuses(runs []model.BatchRun) []model.RunStatus {
	out := make([]model.RunStatus, len(runs))
	for i, r := range runs {
		out[i] = r.Status
	}
	return out
}

func TestRun_RepeatUntilZeroSucceeds(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{}, testutil.NewTestWorkflowConfig("migrate", model.RepeatUntilZero, 10))
	f.exec.Bind("migrate", sequence(5, 3, 1, 0))

	result, err := f.exec.Run(context.Background(), "migrate", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, result.State)
	assert.Equal(t, 4, result.Iterations)
	require.NotNil(t, result.LastRemaining)
	assert.EqualValues(t, 0, *result.LastRemaining)

	rows := f.runs.All()
	require.Len(t, rows, 4)
	assert.Equal(t, []model.RunStatus{
		model.RunStatusRunning, model.RunStatusRunning, model.RunStatusRunning, model.RunStatusSucceeded,
	}, statuses(rows))
	for i, row := range rows {
		assert.Equal(t, i+1, row.Iteration)
		assert.Equal(t, result.RunID, row.RunID)
		assert.Equal(t, "ops@example.com", row.TriggeredBy)
	}
	assert.EqualValues(t, 3, *rows[1].Remaining)

	notified, _ := f.notifier.Snapshot()
	assert.Empty(t, notified)
}

func TestRun_AbortsAtMaxIterations(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{}, testutil.NewTestWorkflowConfig("stuck", model.RepeatUntilZero, 3))
	calls := int32(0)
	f.exec.Bind("stuck", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		atomic.AddInt32(&calls, 1)
		return port.Remaining(7), nil
	}))

	result, err := f.exec.Run(context.Background(), "stuck", "scheduler")
	require.NoError(t, err)
	assert.Equal(t, model.StateAbortedMaxIterations, result.State)
	assert.Equal(t, 3, result.Iterations)
	assert.ErrorIs(t, result.Err, exception.ErrMaxIterationsExceeded)
	assert.EqualValues(t, 3, calls)

	rows := f.runs.All()
	require.Len(t, rows, 3)
	assert.Equal(t, model.RunStatusAbortedMaxIterations, rows[2].Status)
	assert.Contains(t, rows[2].ErrorMessage, "7 still remaining")

	notified, _ := f.notifier.Snapshot()
	require.Len(t, notified, 1)
	assert.Equal(t, model.StateAbortedMaxIterations, notified[0].State)
}

func TestRun_OnceIgnoresCount(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{}, testutil.NewTestWorkflowConfig("refresh", model.RepeatOnce, 5))
	f.exec.Bind("refresh", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		return port.StepResult{}, nil
	}))

	result, err := f.exec.Run(context.Background(), "refresh", "api")
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, result.State)
	assert.Equal(t, 1, result.Iterations)
	assert.Len(t, f.runs.All(), 1)
}

func TestRun_ActionErrorFails(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{}, testutil.NewTestWorkflowConfig("migrate", model.RepeatUntilZero, 5))
	boom := errors.New("upstream rejected batch")
	f.exec.Bind("migrate", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		if iteration == 2 {
			return port.StepResult{}, boom
		}
		return port.Remaining(4), nil
	}))

	result, err := f.exec.Run(context.Background(), "migrate", "api")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, result.State)
	assert.ErrorIs(t, result.Err, boom)

	rows := f.runs.All()
	require.Len(t, rows, 2)
	assert.Equal(t, model.RunStatusFailed, rows[1].Status)
	assert.Equal(t, "upstream rejected batch", rows[1].ErrorMessage)

	notified, _ := f.notifier.Snapshot()
	require.Len(t, notified, 1)
	assert.Equal(t, model.StateFailed, notified[0].State)
}

func TestRun_PanicFails(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{}, testutil.NewTestWorkflowConfig("migrate", model.RepeatOnce, 1))
	f.exec.Bind("migrate", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		panic("nil map")
	}))

	result, err := f.exec.Run(context.Background(), "migrate", "api")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, result.State)
	assert.ErrorContains(t, result.Err, "action panicked: nil map")

	again, err := f.exec.Run(context.Background(), "migrate", "api")
	require.NoError(t, err, "lease released after panic")
	assert.Equal(t, model.StateFailed, again.State)
}

func TestRun_MissingCountFailsRepeatUntilZero(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{}, testutil.NewTestWorkflowConfig("migrate", model.RepeatUntilZero, 5))
	f.exec.Bind("migrate", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		return port.StepResult{}, nil
	}))

	result, err := f.exec.Run(context.Background(), "migrate", "api")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, result.State)
	assert.ErrorContains(t, result.Err, "reported no remaining count")
}

func TestRun_RejectsUnknownAndDisabled(t *testing.T) {
	disabled := testutil.NewTestWorkflowConfig("off", model.RepeatOnce, 1)
	disabled.Enabled = false
	f := newFixture(t, workflow.ExecutorOptions{}, disabled, testutil.NewTestWorkflowConfig("unbound", model.RepeatOnce, 1))
	f.exec.Bind("off", sequence(0))

	_, err := f.exec.Run(context.Background(), "missing", "api")
	assert.ErrorIs(t, err, exception.ErrWorkflowNotFound)
	_, err = f.exec.Run(context.Background(), "off", "api")
	assert.ErrorIs(t, err, exception.ErrWorkflowDisabled)
	_, err = f.exec.Run(context.Background(), "unbound", "api")
	assert.ErrorIs(t, err, exception.ErrWorkflowNotFound)
	assert.Empty(t, f.runs.All())
}

func TestRun_AtMostOneRunPerCode(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{}, testutil.NewTestWorkflowConfig("migrate", model.RepeatOnce, 1))
	release := make(chan struct{})
	var active, maxActive int32
	f.exec.Bind("migrate", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return port.StepResult{}, nil
	}))

	first := make(chan *model.RunResult)
	go func() {
		result, _ := f.exec.Run(context.Background(), "migrate", "first")
		first <- result
	}()
	require.Eventually(t, func() bool {
		st, err := f.exec.Status(context.Background(), "migrate", 0)
		return err == nil && st.State == model.StateRunning
	}, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	var rejected int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.exec.Run(context.Background(), "migrate", "contender")
			if errors.Is(err, exception.ErrConcurrentRunRejected) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()
	close(release)

	result := <-first
	assert.Equal(t, model.StateSucceeded, result.State)
	assert.EqualValues(t, 20, rejected)
	assert.EqualValues(t, 1, maxActive)
	assert.Len(t, f.runs.All(), 1, "rejected runs write no rows")

	_, err := f.exec.Run(context.Background(), "migrate", "after")
	assert.NoError(t, err)
}

func TestRun_ReclaimsStaleLease(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{MaxRunDuration: 10 * time.Millisecond},
		testutil.NewTestWorkflowConfig("migrate", model.RepeatOnce, 1))
	var calls int32
	f.exec.Bind("migrate", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return port.StepResult{}, context.Cause(ctx)
		}
		return port.StepResult{}, nil
	}))

	hung := make(chan *model.RunResult)
	go func() {
		result, _ := f.exec.Run(context.Background(), "migrate", "hung")
		hung <- result
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	result, err := f.exec.Run(context.Background(), "migrate", "next")
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, result.State)

	old := <-hung
	assert.Equal(t, model.StateFailed, old.State)
	assert.ErrorIs(t, old.Err, exception.ErrLeaseReclaimed)

	_, anomalies := f.notifier.Snapshot()
	require.Len(t, anomalies, 1)
	assert.Contains(t, anomalies[0], "reclaimed lease")

	rows := f.runs.All()
	require.Len(t, rows, 2)
	assert.Equal(t, old.RunID, rows[0].RunID, "the reclaimed run finished before the next one wrote")
	assert.Equal(t, model.RunStatusFailed, rows[0].Status)
	assert.Equal(t, result.RunID, rows[1].RunID)
}

func TestRun_ReclaimNeverOverlapsActions(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{MaxRunDuration: 10 * time.Millisecond},
		testutil.NewTestWorkflowConfig("migrate", model.RepeatUntilZero, 10))
	var active, maxActive int32
	remaining := int64(4)
	// The action ignores cancellation, like a statement the driver cannot interrupt.
	f.exec.Bind("migrate", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return port.Remaining(atomic.AddInt64(&remaining, -1)), nil
	}))

	first := make(chan *model.RunResult)
	go func() {
		result, _ := f.exec.Run(context.Background(), "migrate", "first")
		first <- result
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&active) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	second, err := f.exec.Run(context.Background(), "migrate", "second")
	require.NoError(t, err)
	reclaimed := <-first

	assert.EqualValues(t, 1, maxActive, "at most one action invocation per code in flight")
	assert.Equal(t, model.StateFailed, reclaimed.State)
	assert.ErrorIs(t, reclaimed.Err, exception.ErrLeaseReclaimed)
	assert.Equal(t, model.StateSucceeded, second.State)

	for _, row := range f.runs.All() {
		if row.RunID == reclaimed.RunID {
			assert.NotEqual(t, model.RunStatusSucceeded, row.Status)
		}
	}
}

func TestRun_CancelDuringDelayFails(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{InterIterationDelay: time.Hour},
		testutil.NewTestWorkflowConfig("migrate", model.RepeatUntilZero, 5))
	ctx, cancel := context.WithCancel(context.Background())
	f.exec.Bind("migrate", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		cancel()
		return port.Remaining(2), nil
	}))

	result, err := f.exec.Run(ctx, "migrate", "api")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, result.State)
	assert.ErrorIs(t, result.Err, context.Canceled)

	rows := f.runs.All()
	require.Len(t, rows, 2)
	assert.Equal(t, model.RunStatusRunning, rows[0].Status)
	assert.Equal(t, model.RunStatusFailed, rows[1].Status)
}

func TestRun_ConfigSnapshottedAtStart(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{}, testutil.NewTestWorkflowConfig("migrate", model.RepeatUntilZero, 3))
	f.exec.Bind("migrate", port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
		if iteration == 1 {
			edited := testutil.NewTestWorkflowConfig("migrate", model.RepeatUntilZero, 50)
			require.NoError(t, f.registry.Save(ctx, edited))
		}
		return port.Remaining(7), nil
	}))

	result, err := f.exec.Run(context.Background(), "migrate", "api")
	require.NoError(t, err)
	assert.Equal(t, model.StateAbortedMaxIterations, result.State)
	assert.Equal(t, 3, result.Iterations)
}

func TestRunAll_StopsAtFirstFailure(t *testing.T) {
	first := testutil.NewTestWorkflowConfig("a-first", model.RepeatOnce, 1)
	first.SortOrder = 1
	second := testutil.NewTestWorkflowConfig("b-fails", model.RepeatOnce, 1)
	second.SortOrder = 2
	skipped := testutil.NewTestWorkflowConfig("c-disabled", model.RepeatOnce, 1)
	skipped.SortOrder = 0
	skipped.Enabled = false
	third := testutil.NewTestWorkflowConfig("d-never", model.RepeatOnce, 1)
	third.SortOrder = 3

	f := newFixture(t, workflow.ExecutorOptions{}, third, second, first, skipped)
	var order []string
	bind := func(code string, err error) {
		f.exec.Bind(code, port.TaskletFunc(func(ctx context.Context, iteration int) (port.StepResult, error) {
			order = append(order, code)
			return port.StepResult{}, err
		}))
	}
	bind("a-first", nil)
	bind("b-fails", errors.New("boom"))
	bind("c-disabled", nil)
	bind("d-never", nil)

	results, err := f.exec.RunAll(context.Background(), "scheduler")
	assert.ErrorContains(t, err, "workflow 'b-fails' ended failed")
	assert.Equal(t, []string{"a-first", "b-fails"}, order)
	require.Len(t, results, 2)
	assert.Equal(t, model.StateSucceeded, results[0].State)
	assert.Equal(t, model.StateFailed, results[1].State)
}

func TestStatus_ReportsLastRuns(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{StatusHistorySize: 2}, testutil.NewTestWorkflowConfig("migrate", model.RepeatUntilZero, 10))
	f.exec.Bind("migrate", sequence(2, 1, 0))

	st, err := f.exec.Status(context.Background(), "migrate", 0)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, st.State)
	assert.Empty(t, st.RecentRuns)

	_, err = f.exec.Run(context.Background(), "migrate", "api")
	require.NoError(t, err)

	st, err = f.exec.Status(context.Background(), "migrate", 0)
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, st.State)
	require.Len(t, st.RecentRuns, 2)
	assert.Equal(t, 3, st.RecentRuns[0].Iteration)

	_, err = f.exec.Status(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, exception.ErrWorkflowNotFound)
}

func TestRegistry_SeedAndConvert(t *testing.T) {
	f := newFixture(t, workflow.ExecutorOptions{})
	cfg := testutil.NewTestConfig()
	cfg.BillCache.Workflows = []config.WorkflowConfig{
		{Code: "refresh-balance", RepeatPolicy: "once", Enabled: true, SortOrder: 2},
		{Code: "migrate-devices", RepeatPolicy: "repeat-until-zero", MaxIterations: 20, Enabled: true, SortOrder: 1},
	}
	require.NoError(t, f.registry.Seed(context.Background(), cfg.BillCache.Workflows))

	list, err := f.registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "migrate-devices", list[0].Code)
	assert.Equal(t, 1, list[1].MaxIterations)
	assert.Equal(t, "refresh-balance", list[1].Name)

	_, err = workflow.ConfigFromDeclaration(config.WorkflowConfig{Code: "bad", RepeatPolicy: "forever", MaxIterations: 1})
	assert.ErrorContains(t, err, "unknown repeat policy")
	_, err = workflow.ConfigFromDeclaration(config.WorkflowConfig{Code: "bad", RepeatPolicy: "repeat-until-zero"})
	assert.ErrorContains(t, err, "max iterations must be at least 1")
}

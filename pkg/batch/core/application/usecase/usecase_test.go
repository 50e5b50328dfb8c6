package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/billcache/pkg/batch/core/application/usecase"
	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/workflow"
	"github.com/tigerroll/billcache/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/billcache/pkg/batch/test"
)

type mockTrigger struct{ mock.Mock }

func (m *mockTrigger) TriggerNow(ctx context.Context, key, by string) (*model.Snapshot, bool, error) {
	args := m.Called(ctx, key, by)
	snap, _ := args.Get(0).(*model.Snapshot)
	return snap, args.Bool(1), args.Error(2)
}

type mockWorkflows struct{ mock.Mock }

func (m *mockWorkflows) Run(ctx context.Context, code, by string) (*model.RunResult, error) {
	args := m.Called(ctx, code, by)
	res, _ := args.Get(0).(*model.RunResult)
	return res, args.Error(1)
}

func (m *mockWorkflows) RunAll(ctx context.Context, by string) ([]*model.RunResult, error) {
	args := m.Called(ctx, by)
	res, _ := args.Get(0).([]*model.RunResult)
	return res, args.Error(1)
}

func (m *mockWorkflows) Status(ctx context.Context, code string, n int) (*model.WorkflowStatus, error) {
	args := m.Called(ctx, code, n)
	st, _ := args.Get(0).(*model.WorkflowStatus)
	return st, args.Error(1)
}

func TestCacheOperator_Refresh(t *testing.T) {
	trigger := new(mockTrigger)
	op := usecase.NewDefaultCacheOperator(trigger, new(mockWorkflows))
	snap := testutil.NewTestSnapshot(testutil.NewTestBalancePayload("N01"), 5)
	trigger.On("TriggerNow", mock.Anything, model.DatasetNocsBalanceSummary, "ops").Return(snap, true, nil)

	got, attached, err := op.Refresh(context.Background(), model.DatasetNocsBalanceSummary, "ops")
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Same(t, snap, got)

	_, _, err = op.Refresh(context.Background(), model.DatasetNocsBalanceSummary, "")
	assert.ErrorContains(t, err, "needs a triggeredBy")
	trigger.AssertExpectations(t)
}

func TestCacheOperator_RunWorkflow(t *testing.T) {
	workflows := new(mockWorkflows)
	op := usecase.NewDefaultCacheOperator(new(mockTrigger), workflows)
	rejected := exception.NewBatchError("workflow", "already in progress", exception.ErrConcurrentRunRejected, false)
	workflows.On("Run", mock.Anything, "migrate", "ops").Return(nil, rejected).Once()
	workflows.On("Run", mock.Anything, "migrate", "ops").Return(&model.RunResult{State: model.StateSucceeded}, nil).Once()

	_, err := op.RunWorkflow(context.Background(), "migrate", "ops")
	assert.ErrorIs(t, err, exception.ErrConcurrentRunRejected)

	res, err := op.RunWorkflow(context.Background(), "migrate", "ops")
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, res.State)

	workflows.On("RunAll", mock.Anything, "cron").Return([]*model.RunResult{{State: model.StateFailed}}, errors.New("workflow 'a' ended failed"))
	results, err := op.RunAllWorkflows(context.Background(), "cron")
	assert.ErrorContains(t, err, "run all workflows")
	assert.Len(t, results, 1)
	workflows.AssertExpectations(t)
}

func TestCacheExplorer_ReadReportsAgeAndStaleness(t *testing.T) {
	store := cache.NewStore(inmemory.NewSummaryRepository(), metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(),
		model.DatasetNocsBalanceSummary)
	registry := workflow.NewRegistry(inmemory.NewWorkflowConfigRepository(testutil.NewTestWorkflowConfig("migrate", model.RepeatOnce, 1)))
	runs := inmemory.NewBatchRunRepository()
	explorer := usecase.NewSimpleCacheExplorer(store, new(mockWorkflows), registry, runs)

	_, err := explorer.Read(context.Background(), model.DatasetNocsBalanceSummary)
	assert.ErrorIs(t, err, exception.ErrNotYetAvailable)

	_, err = store.Publish(context.Background(), model.DatasetNocsBalanceSummary, 1, testutil.NewTestBalancePayload("N01", "N02"), time.Second)
	require.NoError(t, err)
	view, err := explorer.Read(context.Background(), model.DatasetNocsBalanceSummary)
	require.NoError(t, err)
	assert.EqualValues(t, 1, view.Generation)
	assert.Len(t, view.Payload.Records, 2)
	assert.WithinDuration(t, time.Now(), view.RefreshedAt, 5*time.Second)
	assert.GreaterOrEqual(t, view.Age, time.Duration(0))
	assert.False(t, view.Stale())

	store.MarkFailed(model.DatasetNocsBalanceSummary, 2, exception.NewUpstreamUnavailable("upstream", "timeout", context.DeadlineExceeded))
	view, err = explorer.Read(context.Background(), model.DatasetNocsBalanceSummary)
	require.NoError(t, err)
	assert.True(t, view.Stale())
	assert.EqualValues(t, 1, view.Generation)
	assert.EqualValues(t, 2, view.LastFailure.Generation)

	list, err := explorer.ListWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCacheExplorer_StatusAndRuns(t *testing.T) {
	workflows := new(mockWorkflows)
	runs := inmemory.NewBatchRunRepository()
	explorer := usecase.NewSimpleCacheExplorer(nil, workflows, nil, runs)
	workflows.On("Status", mock.Anything, "migrate", 0).Return(&model.WorkflowStatus{State: model.StateIdle}, nil)

	st, err := explorer.Status(context.Background(), "migrate")
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, st.State)

	base := testutil.FixedNow
	for i := 0; i < 3; i++ {
		require.NoError(t, runs.AppendRun(context.Background(), &model.BatchRun{
			WorkflowCode: "migrate", RunID: "r1", Iteration: i + 1, Status: model.RunStatusRunning,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	found, err := explorer.FindRuns(context.Background(), "migrate", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, 1, found[0].Iteration)
}

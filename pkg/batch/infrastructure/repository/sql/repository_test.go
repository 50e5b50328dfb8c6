package sql_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	reposql "github.com/tigerroll/billcache/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/billcache/pkg/batch/test"
)

func int64Ptr(v int64) *int64 { return &v }

func TestBatchRunRepository_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewMigratedSQLiteConnection(t)
	repo := reposql.NewSQLBatchRunRepository(testutil.NewSingleConnectionResolver(conn), "cache")

	base := testutil.FixedNow
	for i, remaining := range []int64{5, 3, 0} {
		run := &model.BatchRun{
			WorkflowCode: "device-migration",
			RunID:        "run-1",
			Iteration:    i + 1,
			Status:       model.RunStatusRunning,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			FinishedAt:   base.Add(time.Duration(i)*time.Minute + 10*time.Second),
			Duration:     10 * time.Second,
			TriggeredBy:  "scheduler",
			Remaining:    int64Ptr(remaining),
		}
		if remaining == 0 {
			run.Status = model.RunStatusSucceeded
		}
		require.NoError(t, repo.AppendRun(ctx, run))
		assert.NotZero(t, run.ID)
	}
	require.NoError(t, repo.AppendRun(ctx, &model.BatchRun{
		WorkflowCode: "other", RunID: "run-2", Iteration: 1, Status: model.RunStatusFailed,
		StartedAt: base, TriggeredBy: "ops", ErrorMessage: "boom",
	}))

	runs, err := repo.FindRuns(ctx, "device-migration", base, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].Iteration)
	assert.Equal(t, 2, runs[1].Iteration)
	require.NotNil(t, runs[0].Remaining)
	assert.EqualValues(t, 5, *runs[0].Remaining)
	assert.Equal(t, 10*time.Second, runs[0].Duration)

	last, err := repo.LastRuns(ctx, "device-migration", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 3, last[0].Iteration)
	assert.Equal(t, model.RunStatusSucceeded, last[0].Status)
	assert.Equal(t, 2, last[1].Iteration)

	none, err := repo.LastRuns(ctx, "device-migration", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBatchRunRepository_AppendRun_SQLMock(t *testing.T) {
	conn, mock := testutil.NewSQLMockConnection(t)
	repo := reposql.NewSQLBatchRunRepository(testutil.NewSingleConnectionResolver(conn), "cache")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `batch_log`")).
		WillReturnResult(sqlmock.NewResult(42, 1))

	run := &model.BatchRun{WorkflowCode: "wf", RunID: "r", Iteration: 1, Status: model.RunStatusSucceeded, StartedAt: testutil.FixedNow, TriggeredBy: "ops"}
	require.NoError(t, repo.AppendRun(context.Background(), run))
	assert.EqualValues(t, 42, run.ID)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `batch_log`")).
		WillReturnError(errors.New("connection reset by peer"))
	err := repo.AppendRun(context.Background(), &model.BatchRun{WorkflowCode: "wf", RunID: "r", Iteration: 2, StartedAt: testutil.FixedNow})
	require.Error(t, err)
	assert.True(t, exception.IsTemporary(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowConfigRepository(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewMigratedSQLiteConnection(t)
	repo := reposql.NewSQLWorkflowConfigRepository(testutil.NewSingleConnectionResolver(conn), "cache")

	migrationCfg := testutil.NewTestWorkflowConfig("device-migration", model.RepeatUntilZero, 10)
	migrationCfg.SortOrder = 2
	refreshCfg := testutil.NewTestWorkflowConfig("refresh-bill-stop", model.RepeatOnce, 1)
	refreshCfg.SortOrder = 1

	require.NoError(t, repo.SeedWorkflow(ctx, migrationCfg))
	require.NoError(t, repo.SeedWorkflow(ctx, refreshCfg))

	// Seeding again must not overwrite the administered values.
	changed := migrationCfg
	changed.MaxIterations = 99
	require.NoError(t, repo.SeedWorkflow(ctx, changed))
	got, err := repo.FindWorkflow(ctx, "device-migration")
	require.NoError(t, err)
	assert.Equal(t, 10, got.MaxIterations)

	require.NoError(t, repo.SaveWorkflow(ctx, changed))
	got, err = repo.FindWorkflow(ctx, "device-migration")
	require.NoError(t, err)
	assert.Equal(t, 99, got.MaxIterations)
	assert.Equal(t, model.RepeatUntilZero, got.RepeatPolicy)
	assert.True(t, got.Enabled)

	list, err := repo.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "refresh-bill-stop", list[0].Code)
	assert.Equal(t, "device-migration", list[1].Code)

	_, err = repo.FindWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, exception.ErrWorkflowNotFound)

	invalid := testutil.NewTestWorkflowConfig("bad", "sometimes", 1)
	assert.Error(t, repo.SaveWorkflow(ctx, invalid))
}

func TestSummaryRepository_ReplaceSnapshot(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewMigratedSQLiteConnection(t)
	repo := reposql.NewSQLSummaryRepository(testutil.NewSingleConnectionResolver(conn), "cache")

	require.NoError(t, repo.ReplaceSnapshot(ctx, testutil.NewTestSnapshot(testutil.NewTestBalancePayload("N01", "N02", "N03"), 1)))
	require.NoError(t, repo.ReplaceSnapshot(ctx, testutil.NewTestSnapshot(testutil.NewTestBalancePayload("N07", "N08"), 2)))

	var rows []reposql.NocsBalanceSummaryEntity
	require.NoError(t, conn.ExecuteQueryAdvanced(ctx, &rows, "", nil, "nocs_code ASC", 0))
	require.Len(t, rows, 2)
	assert.Equal(t, "N07", rows[0].NocsCode)
	assert.EqualValues(t, 2, rows[0].Generation)
	assert.True(t, rows[1].NetBalance.Equal(decimal.NewFromInt(120)), "net balance %s", rows[1].NetBalance)

	var meta []reposql.SummaryDatasetEntity
	require.NoError(t, conn.ExecuteQuery(ctx, &meta, map[string]interface{}{"dataset_key": model.DatasetNocsBalanceSummary}))
	require.Len(t, meta, 1)
	assert.EqualValues(t, 2, meta[0].Generation)
	assert.EqualValues(t, 2, meta[0].RecordCount)
	assert.EqualValues(t, 1500, meta[0].RefreshDurationMs)

	require.NoError(t, repo.ReplaceSnapshot(ctx, testutil.NewTestSnapshot(testutil.NewTestAnalysisPayload("2026-01", "2026-02"), 1)))
	var analysis []reposql.BillStopAnalysisEntity
	require.NoError(t, conn.ExecuteQueryAdvanced(ctx, &analysis, "", nil, "analysis_month ASC", 0))
	require.Len(t, analysis, 2)
	assert.EqualValues(t, 60, analysis[1].TotalCustomers)
	assert.True(t, analysis[1].StoppedOutstandingAmt.Equal(decimal.RequireFromString("2469")))

	// An empty payload clears the table but still records the generation.
	empty := model.NewSummaryPayload(model.DatasetBillStopAnalysis, nil, model.NewSummaryParameters(testutil.FixedNow, time.UTC))
	require.NoError(t, repo.ReplaceSnapshot(ctx, testutil.NewTestSnapshot(empty, 2)))
	n, err := conn.Count(ctx, &reposql.BillStopAnalysisEntity{}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSummaryRepository_RejectsUnknownDatasetAndWrongRecords(t *testing.T) {
	conn := testutil.NewMigratedSQLiteConnection(t)
	repo := reposql.NewSQLSummaryRepository(testutil.NewSingleConnectionResolver(conn), "cache")

	unknown := testutil.NewTestSnapshot(testutil.NewTestBalancePayload("N01"), 1)
	unknown.DatasetKey = "unknown"
	assert.ErrorIs(t, repo.ReplaceSnapshot(context.Background(), unknown), exception.ErrDatasetNotFound)

	mismatched := testutil.NewTestSnapshot(testutil.NewTestAnalysisPayload("2026-01"), 1)
	mismatched.DatasetKey = model.DatasetNocsBalanceSummary
	assert.ErrorIs(t, repo.ReplaceSnapshot(context.Background(), mismatched), exception.ErrComputation)
}

func TestSummaryRepository_RollsBackOnInsertFailure(t *testing.T) {
	conn, mock := testutil.NewSQLMockConnection(t)
	repo := reposql.NewSQLSummaryRepository(testutil.NewSingleConnectionResolver(conn), "cache")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `nocs_balance_summary`")).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `nocs_balance_summary`")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.ReplaceSnapshot(context.Background(), testutil.NewTestSnapshot(testutil.NewTestBalancePayload("N01"), 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

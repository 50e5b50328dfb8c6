package action_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/billcache/pkg/batch/component/tasklet/action"
	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/workflow"
	"github.com/tigerroll/billcache/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/billcache/pkg/batch/listener/notification"
	testutil "github.com/tigerroll/billcache/pkg/batch/test"
)

type stubRefresher struct {
	keys []string
	err  error
}

func (s *stubRefresher) Refresh(ctx context.Context, key string) (*model.Snapshot, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return nil, s.err
	}
	return &model.Snapshot{DatasetKey: key, Generation: 4}, nil
}

func TestRefreshTasklet_ReportsNothingRemaining(t *testing.T) {
	r := &stubRefresher{}
	res, err := action.NewRefreshTasklet(r, "nocs_balance").Execute(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res.Remaining)
	assert.EqualValues(t, 0, *res.Remaining)
	assert.Equal(t, "published nocs_balance generation 4", res.Detail)
	assert.Equal(t, []string{"nocs_balance"}, r.keys)

	r.err = errors.New("upstream down")
	_, err = action.NewRefreshTasklet(r, "nocs_balance").Execute(context.Background(), 1)
	assert.EqualError(t, err, "upstream down")
}

func TestSQLTasklet_ParsesByteCount(t *testing.T) {
	conn, mock := testutil.NewSQLMockConnection(t)
	resolver := testutil.NewSingleConnectionResolver(conn)

	mock.ExpectExec("UPDATE devices SET migrated = 1").WillReturnResult(sqlmock.NewResult(0, 100))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow([]byte("250")))

	tasklet := action.NewSQLTasklet(resolver, "upstream", "UPDATE devices SET migrated = 1 WHERE migrated = 0 LIMIT 100", "SELECT COUNT(*) FROM devices WHERE migrated = 0")
	res, err := tasklet.Execute(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res.Remaining)
	assert.EqualValues(t, 250, *res.Remaining)
	assert.Equal(t, "100 row(s) affected", res.Detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTasklet_WithoutCountQuery(t *testing.T) {
	conn, mock := testutil.NewSQLMockConnection(t)
	mock.ExpectExec("DELETE FROM staging").WillReturnResult(sqlmock.NewResult(0, 3))

	res, err := action.NewSQLTasklet(testutil.NewSingleConnectionResolver(conn), "upstream", "DELETE FROM staging", "").Execute(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, res.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTasklet_CountErrors(t *testing.T) {
	conn, mock := testutil.NewSQLMockConnection(t)
	resolver := testutil.NewSingleConnectionResolver(conn)
	tasklet := action.NewSQLTasklet(resolver, "upstream", "", "SELECT COUNT(*) FROM devices")

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"remaining"}))
	_, err := tasklet.Execute(context.Background(), 1)
	assert.ErrorContains(t, err, "no rows")

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow("many"))
	_, err = tasklet.Execute(context.Background(), 2)
	assert.ErrorContains(t, err, `count "many" is not a number`)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("table missing"))
	_, err = tasklet.Execute(context.Background(), 3)
	assert.ErrorContains(t, err, "count query failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTasklet_RejectsFractionalCounts(t *testing.T) {
	conn, mock := testutil.NewSQLMockConnection(t)
	resolver := testutil.NewSingleConnectionResolver(conn)
	tasklet := action.NewSQLTasklet(resolver, "upstream", "", "SELECT AVG(pending) FROM devices")

	mock.ExpectQuery("SELECT AVG").WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow(0.5))
	res, err := tasklet.Execute(context.Background(), 1)
	assert.ErrorContains(t, err, "count 0.5 is not a whole number")
	assert.Nil(t, res.Remaining)

	mock.ExpectQuery("SELECT AVG").WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow("0.50"))
	_, err = tasklet.Execute(context.Background(), 2)
	assert.ErrorContains(t, err, `count "0.50" is not a whole number`)

	mock.ExpectQuery("SELECT AVG").WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow("12.000"))
	res, err = tasklet.Execute(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, res.Remaining)
	assert.EqualValues(t, 12, *res.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A repeat-until-zero workflow drains a SQLite table two rows at a time.
func TestSQLTasklet_DrivesWorkflowToZero(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewMigratedSQLiteConnection(t)
	_, err := conn.ExecuteRaw(ctx, "CREATE TABLE devices (id INTEGER PRIMARY KEY, migrated INTEGER NOT NULL DEFAULT 0)")
	require.NoError(t, err)
	_, err = conn.ExecuteRaw(ctx, "INSERT INTO devices (id) VALUES (1), (2), (3), (4), (5)")
	require.NoError(t, err)

	cfg := testutil.NewTestConfig()
	cfg.BillCache.Workflows = []config.WorkflowConfig{{
		Code:          "migrate-devices",
		RepeatPolicy:  "repeat-until-zero",
		MaxIterations: 10,
		Enabled:       true,
		Action: config.ActionConfig{
			Type:        config.ActionTypeSQL,
			DBRef:       "cache",
			ActionQuery: "UPDATE devices SET migrated = 1 WHERE id IN (SELECT id FROM devices WHERE migrated = 0 ORDER BY id LIMIT 2)",
			CountQuery:  "SELECT COUNT(*) AS remaining FROM devices WHERE migrated = 0",
		},
	}}

	registry := workflow.NewRegistry(inmemory.NewWorkflowConfigRepository())
	require.NoError(t, registry.Seed(ctx, cfg.BillCache.Workflows))
	runs := inmemory.NewBatchRunRepository()
	exec := workflow.NewExecutor(registry, runs, notification.NewRecordingNotifier(),
		metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(), workflow.ExecutorOptions{})
	require.NoError(t, action.BindDeclared(exec, cfg, &stubRefresher{}, testutil.NewSingleConnectionResolver(conn)))

	result, err := exec.Run(ctx, "migrate-devices", "test")
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, result.State)
	assert.Equal(t, 3, result.Iterations)

	var remaining []int64
	for _, row := range runs.All() {
		remaining = append(remaining, *row.Remaining)
	}
	assert.Equal(t, []int64{3, 1, 0}, remaining)
}

func TestNewTasklet_RejectsBadDeclarations(t *testing.T) {
	cfg := testutil.NewTestConfig()
	_, err := action.NewTasklet(config.ActionConfig{Type: config.ActionTypeRefresh, Dataset: "unknown"}, cfg, &stubRefresher{}, nil)
	assert.ErrorContains(t, err, "unknown dataset")
	_, err = action.NewTasklet(config.ActionConfig{Type: config.ActionTypeSQL}, cfg, &stubRefresher{}, nil)
	assert.ErrorContains(t, err, "needs an action_query")
	_, err = action.NewTasklet(config.ActionConfig{Type: "shell"}, cfg, &stubRefresher{}, nil)
	assert.ErrorContains(t, err, "unknown action type")

	tasklet, err := action.NewTasklet(config.ActionConfig{Type: config.ActionTypeRefresh, Dataset: model.DatasetNocsBalanceSummary}, cfg, &stubRefresher{}, nil)
	require.NoError(t, err)
	assert.Implements(t, (*port.Tasklet)(nil), tasklet)
}

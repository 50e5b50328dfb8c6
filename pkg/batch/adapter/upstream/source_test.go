package upstream_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/billcache/pkg/batch/adapter/upstream"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/billcache/pkg/batch/test"
)

var upstreamCfg = config.UpstreamConfig{
	Queries: map[string]string{
		"nocs_balance": "SELECT nocs_code, balance FROM account_balance WHERE billed_at < @month_start",
	},
}

func newSource(t *testing.T) (*upstream.SQLSource, sqlmock.Sqlmock) {
	conn, sqlMock := testutil.NewSQLMockConnection(t)
	src := upstream.NewSQLSource(testutil.NewSingleConnectionResolver(conn), "upstream", upstreamCfg,
		metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
	return src, sqlMock
}

func TestRunQuery_BindsNamedParams(t *testing.T) {
	src, sqlMock := newSource(t)
	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sqlMock.ExpectQuery("SELECT nocs_code, balance FROM account_balance WHERE billed_at <").
		WithArgs(monthStart).
		WillReturnRows(sqlmock.NewRows([]string{"nocs_code", "balance"}).
			AddRow("N01", "10.50").
			AddRow("N02", "-3.00"))

	rows, err := src.RunQuery(context.Background(), "nocs_balance", map[string]interface{}{"month_start": monthStart}, time.Second)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "N01", fmt.Sprintf("%s", rows[0]["nocs_code"]))
	assert.Equal(t, "-3.00", fmt.Sprintf("%s", rows[1]["balance"]))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRunQuery_TimeoutIsUpstreamUnavailable(t *testing.T) {
	src, sqlMock := newSource(t)
	sqlMock.ExpectQuery("SELECT nocs_code").WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"nocs_code"}))

	_, err := src.RunQuery(context.Background(), "nocs_balance", map[string]interface{}{"month_start": time.Now()}, 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrUpstreamUnavailable)
	assert.True(t, exception.IsTemporary(err))
}

func TestRunQuery_SyntaxErrorIsFatal(t *testing.T) {
	src, sqlMock := newSource(t)
	sqlMock.ExpectQuery("SELECT nocs_code").
		WillReturnError(&mysqldriver.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"})

	_, err := src.RunQuery(context.Background(), "nocs_balance", map[string]interface{}{"month_start": time.Now()}, time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, exception.ErrUpstreamUnavailable)
	assert.True(t, exception.IsFatal(err))
}

func TestRunQuery_UnreachableConnection(t *testing.T) {
	resolver := new(testutil.MockDBConnectionResolver)
	resolver.On("ResolveDBConnection", mock.Anything, "upstream").
		Return(nil, errors.New("dial tcp 10.0.0.5:3306: connect: connection refused"))
	src := upstream.NewSQLSource(resolver, "upstream", upstreamCfg, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())

	_, err := src.RunQuery(context.Background(), "nocs_balance", nil, time.Second)
	assert.ErrorIs(t, err, exception.ErrUpstreamUnavailable)
	resolver.AssertExpectations(t)
}

func TestRunQuery_UnknownQuery(t *testing.T) {
	src, _ := newSource(t)
	_, err := src.RunQuery(context.Background(), "missing", nil, time.Second)
	assert.ErrorContains(t, err, "query 'missing' is not registered")
	assert.False(t, exception.IsTemporary(err))
}

func TestRunQuery_CallerCancellationIsNotRetryable(t *testing.T) {
	src, _ := newSource(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.RunQuery(ctx, "nocs_balance", nil, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, exception.IsTemporary(err))
}

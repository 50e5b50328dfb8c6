package summary_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
	"github.com/tigerroll/billcache/pkg/batch/engine/step/retry"
	"github.com/tigerroll/billcache/pkg/batch/engine/summary"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/billcache/pkg/batch/test"
)

func newComputer(source ports.UpstreamSource) *summary.Computer {
	cfg := testutil.NewTestConfig()
	policy := retry.NewDefaultRetryPolicyFactory().Create(cfg.BillCache.Batch.Retry, nil)
	return summary.NewComputer(source, cfg, policy, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(),
		summary.NewBalanceAggregator(), summary.NewAnalysisAggregator(time.UTC))
}

func params() model.SummaryParameters {
	return model.NewSummaryParameters(testutil.FixedNow, time.UTC)
}

func TestCompute_BalanceSummary(t *testing.T) {
	up := testutil.NewSeededFakeUpstream()
	payload, err := newComputer(up).Compute(context.Background(), model.DatasetNocsBalanceSummary, params())
	require.NoError(t, err)
	require.NoError(t, payload.Validate())
	require.Len(t, payload.Records, 2)

	n01 := payload.Records[0].(model.BalanceRecord)
	assert.Equal(t, "N01", n01.NocsCode)
	assert.EqualValues(t, 2, n01.AccountCount)
	assert.True(t, n01.CreditBalanceAmt.Equal(decimal.RequireFromString("150")))
	assert.True(t, n01.DueBalanceAmt.Equal(decimal.RequireFromString("30")))
	assert.True(t, n01.NetBalance.Equal(decimal.RequireFromString("120")))

	n02 := payload.Records[1].(model.BalanceRecord)
	assert.True(t, n02.DueBalanceAmt.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, n02.NetBalance.Equal(decimal.RequireFromString("-12.5")))

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), up.LastParams()["current_month_start"])
	assert.Equal(t, model.DatasetNocsBalanceSummary, payload.DatasetKey)
	assert.False(t, payload.ComputedAt.IsZero())
}

func TestCompute_BillStopAnalysis(t *testing.T) {
	up := testutil.NewSeededFakeUpstream()
	up.SetRows(testutil.QueryBillStop, append([]ports.Row{
		{"analysis_month": "2026-03", "billing_stopped": true, "outstanding_amt": "999"},
	}, []ports.Row{
		{"analysis_month": "2026-01", "billing_stopped": int64(1), "outstanding_amt": "80.25"},
		{"analysis_month": "2026-01-15", "billing_stopped": int64(0), "outstanding_amt": "0"},
		{"analysis_month": time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), "billing_stopped": []byte("false"), "outstanding_amt": nil},
	}...)...)

	payload, err := newComputer(up).Compute(context.Background(), model.DatasetBillStopAnalysis, params())
	require.NoError(t, err)
	require.Len(t, payload.Records, 2, "the open month is excluded")

	jan := payload.Records[0].(model.AnalysisRecord)
	assert.Equal(t, "2026-01", jan.AnalysisMonth)
	assert.EqualValues(t, 2, jan.TotalCustomers)
	assert.EqualValues(t, 1, jan.ActiveBillingCount)
	assert.EqualValues(t, 1, jan.StoppedBillingCount)
	assert.True(t, jan.StoppedOutstandingAmt.Equal(decimal.RequireFromString("80.25")))

	feb := payload.Records[1].(model.AnalysisRecord)
	assert.Equal(t, "2026-02", feb.AnalysisMonth)
	assert.EqualValues(t, 1, feb.ActiveBillingCount)
}

func TestCompute_RetriesUpstreamUnavailable(t *testing.T) {
	up := testutil.NewSeededFakeUpstream()
	up.FailNext(testutil.QueryNocsBalance,
		exception.NewUpstreamUnavailable("upstream", "timeout", context.DeadlineExceeded))

	payload, err := newComputer(up).Compute(context.Background(), model.DatasetNocsBalanceSummary, params())
	require.NoError(t, err)
	assert.Len(t, payload.Records, 2)
	assert.Equal(t, 2, up.Calls(testutil.QueryNocsBalance))
}

func TestCompute_GivesUpAfterMaxAttempts(t *testing.T) {
	up := testutil.NewSeededFakeUpstream()
	unavailable := exception.NewUpstreamUnavailable("upstream", "timeout", context.DeadlineExceeded)
	up.FailNext(testutil.QueryNocsBalance, unavailable, unavailable, unavailable)

	payload, err := newComputer(up).Compute(context.Background(), model.DatasetNocsBalanceSummary, params())
	assert.Nil(t, payload)
	assert.ErrorIs(t, err, exception.ErrUpstreamUnavailable)
	assert.Equal(t, 3, up.Calls(testutil.QueryNocsBalance))
}

func TestCompute_BadRowIsComputationError(t *testing.T) {
	up := testutil.NewSeededFakeUpstream()
	up.SetRows(testutil.QueryNocsBalance,
		ports.Row{"nocs_code": "N01", "balance": "10"},
		ports.Row{"nocs_code": "N02", "balance": "not-a-number"},
	)

	payload, err := newComputer(up).Compute(context.Background(), model.DatasetNocsBalanceSummary, params())
	assert.Nil(t, payload, "no partial summary")
	assert.ErrorIs(t, err, exception.ErrComputation)
	assert.Equal(t, 1, up.Calls(testutil.QueryNocsBalance), "computation errors are not retried")
}

func TestCompute_NullRequiredColumnIsComputationError(t *testing.T) {
	up := testutil.NewSeededFakeUpstream()
	up.SetRows(testutil.QueryNocsBalance, ports.Row{"nocs_code": "N01", "balance": nil})
	_, err := newComputer(up).Compute(context.Background(), model.DatasetNocsBalanceSummary, params())
	assert.ErrorIs(t, err, exception.ErrComputation)
	assert.ErrorContains(t, err, `column "balance" is NULL`)

	up.SetRows(testutil.QueryBillStop,
		ports.Row{"analysis_month": "2026-01", "billing_stopped": nil, "outstanding_amt": "12.50"})
	_, err = newComputer(up).Compute(context.Background(), model.DatasetBillStopAnalysis, params())
	assert.ErrorIs(t, err, exception.ErrComputation)
	assert.ErrorContains(t, err, `column "billing_stopped" is NULL`)
}

func TestCompute_NullOutstandingCountsAsZero(t *testing.T) {
	up := testutil.NewSeededFakeUpstream()
	up.SetRows(testutil.QueryBillStop,
		ports.Row{"analysis_month": "2026-01", "billing_stopped": true, "outstanding_amt": nil},
		ports.Row{"analysis_month": "2026-01", "billing_stopped": true, "outstanding_amt": "7.25"})
	payload, err := newComputer(up).Compute(context.Background(), model.DatasetBillStopAnalysis, params())
	require.NoError(t, err)
	require.Len(t, payload.Records, 1)
	rec := payload.Records[0].(model.AnalysisRecord)
	assert.EqualValues(t, 2, rec.StoppedBillingCount)
	assert.True(t, rec.StoppedOutstandingAmt.Equal(decimal.RequireFromString("7.25")))
}

func TestCompute_UnknownDataset(t *testing.T) {
	_, err := newComputer(testutil.NewSeededFakeUpstream()).Compute(context.Background(), "unknown", params())
	assert.ErrorIs(t, err, exception.ErrDatasetNotFound)
}

func TestCompute_CancelledContext(t *testing.T) {
	up := testutil.NewSeededFakeUpstream()
	up.Gate = make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	payload, err := newComputer(up).Compute(ctx, model.DatasetNocsBalanceSummary, params())
	assert.Nil(t, payload)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

package test

import (
	"github.com/tigerroll/billcache/pkg/batch/core/config"
	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
)

// Upstream query ids used by NewTestConfig.
const (
	QueryNocsBalance = "nocs_balance"
	QueryBillStop    = "bill_stop"
)

// NewTestConfig returns a configuration declaring both datasets with fast retries and no
// inter-iteration delay.
func NewTestConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.BillCache.Batch.UpstreamTimeoutSeconds = 5
	cfg.BillCache.Batch.InterIterationDelaySeconds = 0
	cfg.BillCache.Batch.Retry = config.RetryConfig{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 2, Factor: 2}
	cfg.BillCache.Infrastructure.MetricsAddr = ""
	cfg.BillCache.Datasets = []config.DatasetConfig{
		{Key: model.DatasetNocsBalanceSummary, Queries: []string{QueryNocsBalance}},
		{Key: model.DatasetBillStopAnalysis, Queries: []string{QueryBillStop}},
	}
	return cfg
}

// NewSeededFakeUpstream returns a FakeUpstream answering both test queries.
// Balances: N01 has +150 and -30 (credit 150, due 30), N02 has -12.5 (due 12.5).
// Bill stop: two customers in 2026-01 (one stopped, 80.25 outstanding), one active in 2026-02.
func NewSeededFakeUpstream() *FakeUpstream {
	f := NewFakeUpstream()
	f.SetRows(QueryNocsBalance,
		ports.Row{"nocs_code": "N01", "balance": "150.00"},
		ports.Row{"nocs_code": "N01", "balance": []byte("-30.00")},
		ports.Row{"nocs_code": "N02", "balance": -12.5},
	)
	f.SetRows(QueryBillStop,
		ports.Row{"analysis_month": "2026-01", "billing_stopped": int64(1), "outstanding_amt": "80.25"},
		ports.Row{"analysis_month": "2026-01-15", "billing_stopped": int64(0), "outstanding_amt": "0"},
		ports.Row{"analysis_month": "2026-02", "billing_stopped": false, "outstanding_amt": nil},
	)
	return f
}

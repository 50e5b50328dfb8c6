package test

import (
	"time"

	"github.com/shopspring/decimal"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

// FixedNow is the reference instant used by fixtures.
var FixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// NewTestBalancePayload builds a valid nocs-balance-summary payload with one record per code.
// Credit is 100 * (i+1) and due is 40 * (i+1).
func NewTestBalancePayload(codes ...string) *model.SummaryPayload {
	records := make([]model.SummaryRecord, 0, len(codes))
	for i, code := range codes {
		n := int64(i + 1)
		records = append(records, model.NewBalanceRecord(code, 10*n,
			decimal.NewFromInt(100*n), decimal.NewFromInt(40*n)))
	}
	p := model.NewSummaryPayload(model.DatasetNocsBalanceSummary, records, model.NewSummaryParameters(FixedNow, time.UTC))
	p.ComputedAt = FixedNow
	return p
}

// NewTestAnalysisPayload builds a valid bill-stop-analysis payload for the given months.
func NewTestAnalysisPayload(months ...string) *model.SummaryPayload {
	records := make([]model.SummaryRecord, 0, len(months))
	for i, month := range months {
		n := int64(i + 1)
		records = append(records, model.AnalysisRecord{
			AnalysisMonth:         month,
			TotalCustomers:        30 * n,
			ActiveBillingCount:    20 * n,
			StoppedBillingCount:   10 * n,
			StoppedOutstandingAmt: decimal.RequireFromString("1234.50").Mul(decimal.NewFromInt(n)),
		})
	}
	p := model.NewSummaryPayload(model.DatasetBillStopAnalysis, records, model.NewSummaryParameters(FixedNow, time.UTC))
	p.ComputedAt = FixedNow
	return p
}

// NewTestSnapshot wraps payload as the given generation.
func NewTestSnapshot(payload *model.SummaryPayload, generation uint64) *model.Snapshot {
	return &model.Snapshot{
		DatasetKey:      payload.DatasetKey,
		Generation:      generation,
		Payload:         payload,
		RefreshedAt:     FixedNow,
		RefreshDuration: 1500 * time.Millisecond,
	}
}

// NewTestWorkflowConfig returns an enabled workflow config.
func NewTestWorkflowConfig(code string, policy model.RepeatPolicy, maxIterations int) model.BatchWorkflowConfig {
	return model.BatchWorkflowConfig{
		Code:          code,
		Name:          code,
		RepeatPolicy:  policy,
		MaxIterations: maxIterations,
		Enabled:       true,
		UpdatedAt:     FixedNow,
	}
}

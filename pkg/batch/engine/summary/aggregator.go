package summary

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
)

// Aggregator turns upstream rows into the records of one dataset.
// Implementations must not return partial results: any bad row fails the whole aggregation.
type Aggregator interface {
	// Name is the aggregator id referenced by billcache.datasets[].aggregator.
	Name() string
	// Aggregate folds the rows of all configured queries, in query order.
	Aggregate(rows []ports.Row, params model.SummaryParameters) ([]model.SummaryRecord, error)
}

// BalanceAggregator builds the nocs-balance-summary dataset.
//
// Each upstream row is one account: nocs_code and its signed balance. Positive balances
// add to the credit total, negative ones to the due total. A NULL balance fails the
// computation.
type BalanceAggregator struct{}

// NewBalanceAggregator creates a BalanceAggregator.
func NewBalanceAggregator() *BalanceAggregator { return &BalanceAggregator{} }

// Name implements Aggregator.
func (a *BalanceAggregator) Name() string { return model.DatasetNocsBalanceSummary }

type balanceTotals struct {
	accounts int64
	credit   decimal.Decimal
	due      decimal.Decimal
}

// Aggregate implements Aggregator.
func (a *BalanceAggregator) Aggregate(rows []ports.Row, _ model.SummaryParameters) ([]model.SummaryRecord, error) {
	totals := make(map[string]*balanceTotals)
	for i, row := range rows {
		code, err := stringColumn(row, "nocs_code")
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		balance, err := decimalColumn(row, "balance")
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		t, ok := totals[code]
		if !ok {
			t = &balanceTotals{credit: decimal.Zero, due: decimal.Zero}
			totals[code] = t
		}
		t.accounts++
		if balance.IsPositive() {
			t.credit = t.credit.Add(balance)
		} else {
			t.due = t.due.Add(balance.Neg())
		}
	}

	records := make([]model.SummaryRecord, 0, len(totals))
	for code, t := range totals {
		records = append(records, model.NewBalanceRecord(code, t.accounts, t.credit.Round(2), t.due.Round(2)))
	}
	return records, nil
}

// AnalysisAggregator builds the bill-stop-analysis dataset.
//
// Each upstream row is one customer in one month: analysis_month, billing_stopped and
// outstanding_amt. Months at or after the current month start are excluded because they
// are still open. A NULL billing_stopped fails the computation; a NULL outstanding_amt is a
// customer with nothing owed and counts as zero.
type AnalysisAggregator struct {
	loc *time.Location
}

// NewAnalysisAggregator creates an AnalysisAggregator that reads months in loc.
func NewAnalysisAggregator(loc *time.Location) *AnalysisAggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &AnalysisAggregator{loc: loc}
}

// Name implements Aggregator.
func (a *AnalysisAggregator) Name() string { return model.DatasetBillStopAnalysis }

// Aggregate implements Aggregator.
func (a *AnalysisAggregator) Aggregate(rows []ports.Row, params model.SummaryParameters) ([]model.SummaryRecord, error) {
	openMonth := ""
	if !params.CurrentMonthStart.IsZero() {
		openMonth = params.CurrentMonthStart.In(a.loc).Format("2006-01")
	}

	months := make(map[string]*model.AnalysisRecord)
	for i, row := range rows {
		month, err := monthColumn(row, "analysis_month", a.loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if openMonth != "" && month >= openMonth {
			continue
		}
		stopped, err := boolColumn(row, "billing_stopped")
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rec, ok := months[month]
		if !ok {
			rec = &model.AnalysisRecord{AnalysisMonth: month, StoppedOutstandingAmt: decimal.Zero}
			months[month] = rec
		}
		rec.TotalCustomers++
		if !stopped {
			rec.ActiveBillingCount++
			continue
		}
		rec.StoppedBillingCount++
		amt, err := nullableDecimalColumn(row, "outstanding_amt")
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rec.StoppedOutstandingAmt = rec.StoppedOutstandingAmt.Add(amt)
	}

	records := make([]model.SummaryRecord, 0, len(months))
	for _, rec := range months {
		rec.StoppedOutstandingAmt = rec.StoppedOutstandingAmt.Round(2)
		records = append(records, *rec)
	}
	return records, nil
}

var (
	_ Aggregator = (*BalanceAggregator)(nil)
	_ Aggregator = (*AnalysisAggregator)(nil)
)

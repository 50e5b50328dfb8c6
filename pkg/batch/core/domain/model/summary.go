package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Dataset keys served by the cache.
const (
	DatasetNocsBalanceSummary = "nocs-balance-summary"
	DatasetBillStopAnalysis   = "bill-stop-analysis"
)

// SummaryRecord is one row of a summary payload, keyed by a business key
// (a NOCS code, an analysis month, ...).
type SummaryRecord interface {
	// BusinessKey returns the key the record is stored under.
	BusinessKey() string
	// Validate checks the record's arithmetic invariants.
	Validate() error
}

// BalanceRecord is the per-NOCS balance total of the nocs-balance-summary dataset.
// Amounts are fixed-point; NetBalance must equal CreditBalanceAmt - DueBalanceAmt.
type BalanceRecord struct {
	NocsCode         string
	AccountCount     int64
	CreditBalanceAmt decimal.Decimal
	DueBalanceAmt    decimal.Decimal
	NetBalance       decimal.Decimal
}

// NewBalanceRecord builds a BalanceRecord and derives NetBalance.
func NewBalanceRecord(nocsCode string, accounts int64, credit, due decimal.Decimal) BalanceRecord {
	return BalanceRecord{
		NocsCode:         nocsCode,
		AccountCount:     accounts,
		CreditBalanceAmt: credit,
		DueBalanceAmt:    due,
		NetBalance:       credit.Sub(due),
	}
}

// BusinessKey implements SummaryRecord.
func (r BalanceRecord) BusinessKey() string { return r.NocsCode }

// Validate implements SummaryRecord.
func (r BalanceRecord) Validate() error {
	if r.NocsCode == "" {
		return fmt.Errorf("balance record has empty nocs code")
	}
	if r.AccountCount < 0 {
		return fmt.Errorf("balance record %s: negative account count %d", r.NocsCode, r.AccountCount)
	}
	if want := r.CreditBalanceAmt.Sub(r.DueBalanceAmt); !r.NetBalance.Equal(want) {
		return fmt.Errorf("balance record %s: net_balance %s != credit %s - due %s",
			r.NocsCode, r.NetBalance, r.CreditBalanceAmt, r.DueBalanceAmt)
	}
	return nil
}

// AnalysisRecord is one month of the bill-stop-analysis dataset.
// TotalCustomers must equal ActiveBillingCount + StoppedBillingCount.
type AnalysisRecord struct {
	AnalysisMonth         string // YYYY-MM
	TotalCustomers        int64
	ActiveBillingCount    int64
	StoppedBillingCount   int64
	StoppedOutstandingAmt decimal.Decimal
}

// BusinessKey implements SummaryRecord.
func (r AnalysisRecord) BusinessKey() string { return r.AnalysisMonth }

// Validate implements SummaryRecord.
func (r AnalysisRecord) Validate() error {
	if r.AnalysisMonth == "" {
		return fmt.Errorf("analysis record has empty month")
	}
	if r.ActiveBillingCount < 0 || r.StoppedBillingCount < 0 {
		return fmt.Errorf("analysis record %s: negative counts (active=%d, stopped=%d)",
			r.AnalysisMonth, r.ActiveBillingCount, r.StoppedBillingCount)
	}
	if r.TotalCustomers != r.ActiveBillingCount+r.StoppedBillingCount {
		return fmt.Errorf("analysis record %s: total_customers %d != active %d + stopped %d",
			r.AnalysisMonth, r.TotalCustomers, r.ActiveBillingCount, r.StoppedBillingCount)
	}
	return nil
}

// SummaryParameters carries the context a computation is bounded by.
type SummaryParameters struct {
	// CurrentMonthStart is midnight of the first day of the current month in the configured timezone.
	CurrentMonthStart time.Time
	// AsOf is the instant the refresh was requested.
	AsOf time.Time
}

// NewSummaryParameters derives parameters for "now" in loc.
func NewSummaryParameters(now time.Time, loc *time.Location) SummaryParameters {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return SummaryParameters{
		CurrentMonthStart: time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc),
		AsOf:              now,
	}
}

// SummaryPayload is the complete computed result for one dataset.
// Records are sorted by business key. A payload is never mutated after it is built.
type SummaryPayload struct {
	DatasetKey         string
	Records            []SummaryRecord
	Parameters         SummaryParameters
	QueryDuration      time.Duration
	ProcessingDuration time.Duration
	ComputedAt         time.Time
}

// NewSummaryPayload sorts records by business key and returns the payload.
func NewSummaryPayload(datasetKey string, records []SummaryRecord, params SummaryParameters) *SummaryPayload {
	sorted := make([]SummaryRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BusinessKey() < sorted[j].BusinessKey() })
	return &SummaryPayload{
		DatasetKey: datasetKey,
		Records:    sorted,
		Parameters: params,
	}
}

// Validate checks every record and rejects duplicate business keys.
func (p *SummaryPayload) Validate() error {
	if p == nil {
		return fmt.Errorf("nil payload")
	}
	seen := make(map[string]struct{}, len(p.Records))
	for _, r := range p.Records {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.BusinessKey()]; dup {
			return fmt.Errorf("duplicate business key %q", r.BusinessKey())
		}
		seen[r.BusinessKey()] = struct{}{}
	}
	return nil
}

// Clone returns a shallow copy with its own Records slice.
// Records are value types, so the copy can be handed to readers.
func (p *SummaryPayload) Clone() *SummaryPayload {
	if p == nil {
		return nil
	}
	c := *p
	c.Records = make([]SummaryRecord, len(p.Records))
	copy(c.Records, p.Records)
	return &c
}

// Snapshot is one published generation of a dataset.
type Snapshot struct {
	DatasetKey      string
	Generation      uint64
	Payload         *SummaryPayload
	RefreshedAt     time.Time
	RefreshDuration time.Duration
}

// Age returns how long ago the snapshot was refreshed, relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if age := now.Sub(s.RefreshedAt); age > 0 {
		return age
	}
	return 0
}

// RefreshFailure records the last refresh of a dataset that failed after its current snapshot
// was published. While set, the current snapshot is stale.
type RefreshFailure struct {
	Generation uint64
	At         time.Time
	Message    string
}

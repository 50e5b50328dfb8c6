package sql

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchLogEntity is one row of the append-only batch log.
type BatchLogEntity struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	WorkflowCode string
	RunID        string
	Iteration    int
	Status       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	DurationMs   int64
	TriggeredBy  string
	Remaining    *int64
	ErrorMessage string
}

func (BatchLogEntity) TableName() string {
	return "batch_log"
}

// WorkflowConfigEntity is one administered workflow step.
type WorkflowConfigEntity struct {
	Code          string `gorm:"primaryKey"`
	Name          string
	Description   string
	RepeatPolicy  string
	MaxIterations int
	Enabled       bool
	SortOrder     int
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (WorkflowConfigEntity) TableName() string {
	return "batch_workflow_config"
}

// SummaryDatasetEntity holds the metadata of the currently persisted generation of a dataset.
type SummaryDatasetEntity struct {
	DatasetKey           string `gorm:"primaryKey"`
	Generation           uint64
	RecordCount          int64
	CurrentMonthStart    time.Time
	AsOf                 time.Time
	QueryDurationMs      int64
	ProcessingDurationMs int64
	RefreshDurationMs    int64
	RefreshedAt          time.Time
	UpdatedAt            time.Time `gorm:"autoUpdateTime:false"`
}

func (SummaryDatasetEntity) TableName() string {
	return "summary_dataset"
}

// NocsBalanceSummaryEntity is one row of the nocs-balance-summary cache table.
type NocsBalanceSummaryEntity struct {
	NocsCode         string `gorm:"primaryKey"`
	AccountCount     int64
	CreditBalanceAmt decimal.Decimal `gorm:"type:decimal(18,2)"`
	DueBalanceAmt    decimal.Decimal `gorm:"type:decimal(18,2)"`
	NetBalance       decimal.Decimal `gorm:"type:decimal(18,2)"`
	Generation       uint64
	RefreshedAt      time.Time
}

func (NocsBalanceSummaryEntity) TableName() string {
	return "nocs_balance_summary"
}

// BillStopAnalysisEntity is one row of the bill-stop-analysis cache table.
type BillStopAnalysisEntity struct {
	AnalysisMonth         string `gorm:"primaryKey"`
	TotalCustomers        int64
	ActiveBillingCount    int64
	StoppedBillingCount   int64
	StoppedOutstandingAmt decimal.Decimal `gorm:"type:decimal(18,2)"`
	Generation            uint64
	RefreshedAt           time.Time
}

func (BillStopAnalysisEntity) TableName() string {
	return "bill_stop_analysis"
}

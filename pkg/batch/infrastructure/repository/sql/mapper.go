package sql

import (
	"fmt"
	"time"

	"github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

func fromDomainBatchRun(run *model.BatchRun) *BatchLogEntity {
	entity := &BatchLogEntity{
		ID:           run.ID,
		WorkflowCode: run.WorkflowCode,
		RunID:        run.RunID,
		Iteration:    run.Iteration,
		Status:       run.Status.String(),
		StartedAt:    run.StartedAt,
		DurationMs:   run.Duration.Milliseconds(),
		TriggeredBy:  run.TriggeredBy,
		Remaining:    run.Remaining,
		ErrorMessage: run.ErrorMessage,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		entity.FinishedAt = &finished
	}
	return entity
}

func toDomainBatchRun(entity *BatchLogEntity) model.BatchRun {
	run := model.BatchRun{
		ID:           entity.ID,
		WorkflowCode: entity.WorkflowCode,
		RunID:        entity.RunID,
		Iteration:    entity.Iteration,
		Status:       model.RunStatus(entity.Status),
		StartedAt:    entity.StartedAt,
		Duration:     time.Duration(entity.DurationMs) * time.Millisecond,
		TriggeredBy:  entity.TriggeredBy,
		Remaining:    entity.Remaining,
		ErrorMessage: entity.ErrorMessage,
	}
	if entity.FinishedAt != nil {
		run.FinishedAt = *entity.FinishedAt
	}
	return run
}

func fromDomainWorkflowConfig(cfg model.BatchWorkflowConfig) *WorkflowConfigEntity {
	return &WorkflowConfigEntity{
		Code:          cfg.Code,
		Name:          cfg.Name,
		Description:   cfg.Description,
		RepeatPolicy:  string(cfg.RepeatPolicy),
		MaxIterations: cfg.MaxIterations,
		Enabled:       cfg.Enabled,
		SortOrder:     cfg.SortOrder,
		UpdatedAt:     cfg.UpdatedAt,
	}
}

func toDomainWorkflowConfig(entity *WorkflowConfigEntity) model.BatchWorkflowConfig {
	return model.BatchWorkflowConfig{
		Code:          entity.Code,
		Name:          entity.Name,
		Description:   entity.Description,
		RepeatPolicy:  model.RepeatPolicy(entity.RepeatPolicy),
		MaxIterations: entity.MaxIterations,
		Enabled:       entity.Enabled,
		SortOrder:     entity.SortOrder,
		UpdatedAt:     entity.UpdatedAt,
	}
}

func fromDomainSnapshotMeta(snap *model.Snapshot, now time.Time) *SummaryDatasetEntity {
	p := snap.Payload
	return &SummaryDatasetEntity{
		DatasetKey:           snap.DatasetKey,
		Generation:           snap.Generation,
		RecordCount:          int64(len(p.Records)),
		CurrentMonthStart:    p.Parameters.CurrentMonthStart,
		AsOf:                 p.Parameters.AsOf,
		QueryDurationMs:      p.QueryDuration.Milliseconds(),
		ProcessingDurationMs: p.ProcessingDuration.Milliseconds(),
		RefreshDurationMs:    snap.RefreshDuration.Milliseconds(),
		RefreshedAt:          snap.RefreshedAt,
		UpdatedAt:            now,
	}
}

// balanceRows converts the payload of a nocs-balance-summary snapshot.
func balanceRows(snap *model.Snapshot) ([]NocsBalanceSummaryEntity, error) {
	rows := make([]NocsBalanceSummaryEntity, 0, len(snap.Payload.Records))
	for _, rec := range snap.Payload.Records {
		r, ok := rec.(model.BalanceRecord)
		if !ok {
			return nil, fmt.Errorf("dataset %s: unexpected record type %T", snap.DatasetKey, rec)
		}
		rows = append(rows, NocsBalanceSummaryEntity{
			NocsCode:         r.NocsCode,
			AccountCount:     r.AccountCount,
			CreditBalanceAmt: r.CreditBalanceAmt,
			DueBalanceAmt:    r.DueBalanceAmt,
			NetBalance:       r.NetBalance,
			Generation:       snap.Generation,
			RefreshedAt:      snap.RefreshedAt,
		})
	}
	return rows, nil
}

// analysisRows converts the payload of a bill-stop-analysis snapshot.
func analysisRows(snap *model.Snapshot) ([]BillStopAnalysisEntity, error) {
	rows := make([]BillStopAnalysisEntity, 0, len(snap.Payload.Records))
	for _, rec := range snap.Payload.Records {
		r, ok := rec.(model.AnalysisRecord)
		if !ok {
			return nil, fmt.Errorf("dataset %s: unexpected record type %T", snap.DatasetKey, rec)
		}
		rows = append(rows, BillStopAnalysisEntity{
			AnalysisMonth:         r.AnalysisMonth,
			TotalCustomers:        r.TotalCustomers,
			ActiveBillingCount:    r.ActiveBillingCount,
			StoppedBillingCount:   r.StoppedBillingCount,
			StoppedOutstandingAmt: r.StoppedOutstandingAmt,
			Generation:            snap.Generation,
			RefreshedAt:           snap.RefreshedAt,
		})
	}
	return rows, nil
}

// Package repository defines the persistence ports used by the cache and the workflow executor.
package repository

import (
	"context"
	"time"

	"github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

// BatchRunRepository is the append-only batch log.
type BatchRunRepository interface {
	// AppendRun stores one iteration row. Rows are never updated afterwards.
	AppendRun(ctx context.Context, run *model.BatchRun) error
	// FindRuns returns rows for code whose StartedAt lies in [from, to), oldest first.
	FindRuns(ctx context.Context, code string, from, to time.Time) ([]model.BatchRun, error)
	// LastRuns returns the n most recent rows for code, newest first.
	LastRuns(ctx context.Context, code string, n int) ([]model.BatchRun, error)
}

// WorkflowConfigRepository stores the administered workflow configuration.
type WorkflowConfigRepository interface {
	// FindWorkflow returns the config for code, or an error matching exception.ErrWorkflowNotFound.
	FindWorkflow(ctx context.Context, code string) (*model.BatchWorkflowConfig, error)
	// ListWorkflows returns all configs ordered by sort order, then code.
	ListWorkflows(ctx context.Context) ([]model.BatchWorkflowConfig, error)
	// SaveWorkflow inserts or replaces a config.
	SaveWorkflow(ctx context.Context, cfg model.BatchWorkflowConfig) error
	// SeedWorkflow inserts cfg only when no config with its code exists.
	SeedWorkflow(ctx context.Context, cfg model.BatchWorkflowConfig) error
}

// SummaryRepository persists published snapshots into the cache tables.
type SummaryRepository interface {
	// ReplaceSnapshot swaps all rows of the snapshot's dataset in one transaction.
	ReplaceSnapshot(ctx context.Context, snap *model.Snapshot) error
}

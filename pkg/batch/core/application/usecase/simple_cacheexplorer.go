package usecase

import (
	"context"
	"time"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
)

// SnapshotSource is the read side of the cache store.
type SnapshotSource interface {
	Snapshot(datasetKey string) (*model.Snapshot, error)
	LastFailure(datasetKey string) *model.RefreshFailure
}

// WorkflowLister lists registered workflow configs.
type WorkflowLister interface {
	List(ctx context.Context) ([]model.BatchWorkflowConfig, error)
}

// SimpleCacheExplorer is a simple implementation of the CacheExplorer interface.
type SimpleCacheExplorer struct {
	snapshots SnapshotSource
	workflows WorkflowController
	registry  WorkflowLister
	runs      repository.BatchRunRepository
	now       func() time.Time
}

// Verify that SimpleCacheExplorer implements the CacheExplorer interface.
var _ CacheExplorer = (*SimpleCacheExplorer)(nil)

// NewSimpleCacheExplorer creates a new instance of SimpleCacheExplorer.
func NewSimpleCacheExplorer(snapshots SnapshotSource, workflows WorkflowController, registry WorkflowLister, runs repository.BatchRunRepository) *SimpleCacheExplorer {
	return &SimpleCacheExplorer{snapshots: snapshots, workflows: workflows, registry: registry, runs: runs, now: time.Now}
}

// Read implements CacheExplorer. The returned payload is the reader's own copy.
func (e *SimpleCacheExplorer) Read(ctx context.Context, datasetKey string) (*DatasetView, error) {
	snap, err := e.snapshots.Snapshot(datasetKey)
	if err != nil {
		return nil, err
	}
	return &DatasetView{
		DatasetKey:  datasetKey,
		Generation:  snap.Generation,
		Payload:     snap.Payload.Clone(),
		RefreshedAt: snap.RefreshedAt,
		Age:         snap.Age(e.now()),
		LastFailure: e.snapshots.LastFailure(datasetKey),
	}, nil
}

// Status implements CacheExplorer using the configured history size.
func (e *SimpleCacheExplorer) Status(ctx context.Context, code string) (*model.WorkflowStatus, error) {
	return e.workflows.Status(ctx, code, 0)
}

// ListWorkflows implements CacheExplorer.
func (e *SimpleCacheExplorer) ListWorkflows(ctx context.Context) ([]model.BatchWorkflowConfig, error) {
	return e.registry.List(ctx)
}

// FindRuns implements CacheExplorer.
func (e *SimpleCacheExplorer) FindRuns(ctx context.Context, code string, from, to time.Time) ([]model.BatchRun, error) {
	return e.runs.FindRuns(ctx, code, from, to)
}

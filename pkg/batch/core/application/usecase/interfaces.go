package usecase

import (
	"context"
	"time"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

// CacheOperator is the administrative trigger surface: refreshes and workflow runs.
type CacheOperator interface {
	// Refresh refreshes datasetKey and waits for the result. When a refresh of the dataset is
	// already running the call attaches to it and attached is true.
	Refresh(ctx context.Context, datasetKey string, triggeredBy string) (snap *model.Snapshot, attached bool, err error)

	// RunWorkflow runs the workflow code to completion. A run already in progress is reported
	// as an error matching exception.ErrConcurrentRunRejected.
	RunWorkflow(ctx context.Context, code string, triggeredBy string) (*model.RunResult, error)

	// RunAllWorkflows runs every enabled workflow in sort order, stopping at the first one
	// that does not succeed.
	RunAllWorkflows(ctx context.Context, triggeredBy string) ([]*model.RunResult, error)
}

// CacheExplorer is the read side: cached datasets, workflow states and the batch log.
type CacheExplorer interface {
	// Read returns the current payload of datasetKey with its age and staleness.
	Read(ctx context.Context, datasetKey string) (*DatasetView, error)

	// Status returns the state of workflow code and its most recent batch log rows.
	Status(ctx context.Context, code string) (*model.WorkflowStatus, error)

	// ListWorkflows returns every registered workflow config in sort order.
	ListWorkflows(ctx context.Context) ([]model.BatchWorkflowConfig, error)

	// FindRuns returns the batch log rows of code started in [from, to), oldest first.
	FindRuns(ctx context.Context, code string, from, to time.Time) ([]model.BatchRun, error)
}

// DatasetView is what a reader of a cached dataset gets.
type DatasetView struct {
	DatasetKey  string
	Generation  uint64
	Payload     *model.SummaryPayload
	RefreshedAt time.Time
	Age         time.Duration
	// LastFailure is set when a refresh failed after this snapshot was published.
	LastFailure *model.RefreshFailure
}

// Stale reports whether a refresh failed after the snapshot was published.
func (v *DatasetView) Stale() bool {
	return v.LastFailure != nil
}

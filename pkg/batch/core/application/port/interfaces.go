// Package port defines the core interfaces (ports) the refresh engine and the workflow executor
// are built against. Implementations live in the component and engine packages.
package port

import (
	"context"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

// StepResult is what a step action reports for one iteration.
type StepResult struct {
	// Remaining is the terminating-condition value observed after the iteration
	// (e.g. devices still pending migration). Nil means the action reports no count,
	// which is only valid for steps with the "once" repeat policy.
	Remaining *int64
	// Detail is an optional human-readable note stored with the iteration.
	Detail string
}

// Remaining returns a StepResult reporting n.
func Remaining(n int64) StepResult {
	return StepResult{Remaining: &n}
}

// Tasklet is the action a workflow step runs on every iteration.
type Tasklet interface {
	// Execute runs one iteration of the step.
	//
	// Parameters:
	//   ctx: Cancelled when the run is aborted or the process shuts down.
	//   iteration: The 1-based iteration number within the run.
	//
	// Returns:
	//   The reported result, or an error that fails the run.
	Execute(ctx context.Context, iteration int) (StepResult, error)
}

// TaskletFunc adapts a function to the Tasklet interface.
type TaskletFunc func(ctx context.Context, iteration int) (StepResult, error)

// Execute implements Tasklet.
func (f TaskletFunc) Execute(ctx context.Context, iteration int) (StepResult, error) {
	return f(ctx, iteration)
}

// Refresher recomputes a dataset and publishes it into the cache store.
type Refresher interface {
	// Refresh computes datasetKey from upstream and publishes the result.
	// On failure the previously published snapshot stays current.
	Refresh(ctx context.Context, datasetKey string) (*model.Snapshot, error)
}

// WorkflowRunner runs administered workflow steps.
type WorkflowRunner interface {
	// Run executes the workflow step code once, to completion.
	// It returns an error without a result when the run could not start
	// (unknown or disabled code, or a run already in progress).
	Run(ctx context.Context, code string, triggeredBy string) (*model.RunResult, error)
}

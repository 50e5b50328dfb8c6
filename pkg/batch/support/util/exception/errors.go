package exception

import "errors"

// Domain sentinels. Match them with errors.Is; components wrap them in BatchError.
var (
	// ErrUpstreamUnavailable means the upstream source timed out or was unreachable.
	// It is the only retryable failure class.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrComputation means the upstream rows could not be turned into a valid summary.
	// Such a summary is never published.
	ErrComputation = errors.New("summary computation failed")
	// ErrConcurrentRunRejected means a run for the same workflow code is already in progress.
	ErrConcurrentRunRejected = errors.New("run already in progress")
	// ErrLeaseReclaimed means a run outlived max_run_duration and another run took its lease.
	ErrLeaseReclaimed = errors.New("lease reclaimed")
	// ErrMaxIterationsExceeded means a repeat-until-zero step hit its iteration bound.
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
	// ErrNotYetAvailable means a dataset has never been published since process start.
	ErrNotYetAvailable = errors.New("dataset not yet available")
	// ErrStaleGeneration means a publish carried a generation not newer than the stored one.
	ErrStaleGeneration = errors.New("stale generation")
	// ErrWorkflowNotFound means no workflow config exists for the code.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrWorkflowDisabled means the workflow config exists but is disabled.
	ErrWorkflowDisabled = errors.New("workflow disabled")
	// ErrDatasetNotFound means the dataset key is not configured.
	ErrDatasetNotFound = errors.New("dataset not found")
)

var sentinels = map[string]error{
	"UpstreamUnavailable":   ErrUpstreamUnavailable,
	"ComputationError":      ErrComputation,
	"ConcurrentRunRejected": ErrConcurrentRunRejected,
	"LeaseReclaimed":        ErrLeaseReclaimed,
	"MaxIterationsExceeded": ErrMaxIterationsExceeded,
	"NotYetAvailable":       ErrNotYetAvailable,
	"StaleGeneration":       ErrStaleGeneration,
	"WorkflowNotFound":      ErrWorkflowNotFound,
	"WorkflowDisabled":      ErrWorkflowDisabled,
	"DatasetNotFound":       ErrDatasetNotFound,
}

// NewUpstreamUnavailable wraps cause as a retryable upstream failure.
func NewUpstreamUnavailable(module, message string, cause error) *BatchError {
	return NewBatchError(module, message, joinCause(ErrUpstreamUnavailable, cause), true)
}

// NewComputationError wraps cause as a non-retryable computation failure.
func NewComputationError(module, message string, cause error) *BatchError {
	return NewBatchError(module, message, joinCause(ErrComputation, cause), false)
}

func joinCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}

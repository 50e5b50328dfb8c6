package ports

import (
	"context"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

// Notifier is an abstract interface for telling operators about runs that need attention.
type Notifier interface {
	// NotifyRunCompletion reports a workflow run that ended Failed or AbortedMaxIterations.
	NotifyRunCompletion(ctx context.Context, result *model.RunResult)
	// NotifyAnomaly reports an internal anomaly such as a reclaimed run lease.
	NotifyAnomaly(ctx context.Context, workflowCode string, message string)
}

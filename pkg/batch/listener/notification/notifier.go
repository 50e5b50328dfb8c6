package notification

import (
	"context"
	"strconv"
	"sync"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// LoggingNotifier reports runs that need attention through the application log.
type LoggingNotifier struct{}

// NewLoggingNotifier creates a new instance of LoggingNotifier.
func NewLoggingNotifier() *LoggingNotifier {
	logger.Infof("Notification: Initializing logging notifier.")
	return &LoggingNotifier{}
}

// NotifyRunCompletion logs a run that ended Failed or AbortedMaxIterations.
func (n *LoggingNotifier) NotifyRunCompletion(ctx context.Context, result *model.RunResult) {
	duration := result.FinishedAt.Sub(result.StartedAt)
	remaining := "n/a"
	if result.LastRemaining != nil {
		remaining = strconv.FormatInt(*result.LastRemaining, 10)
	}
	logger.Errorf("NOTIFY: workflow '%s' run %s ended %s after %d iteration(s) in %s (triggered by '%s', remaining %s): %s",
		result.WorkflowCode, result.RunID, result.State, result.Iterations, duration, result.TriggeredBy, remaining,
		exception.ExtractErrorMessage(result.Err))
}

// NotifyAnomaly logs an internal anomaly.
func (n *LoggingNotifier) NotifyAnomaly(ctx context.Context, workflowCode string, message string) {
	logger.Errorf("NOTIFY: anomaly in workflow '%s': %s", workflowCode, message)
}

var _ ports.Notifier = (*LoggingNotifier)(nil)

// RecordingNotifier keeps every notification in memory. Tests use it to assert on what
// operators would have been told.
type RecordingNotifier struct {
	mu        sync.Mutex
	Runs      []model.RunResult
	Anomalies []string
}

// NewRecordingNotifier creates an empty RecordingNotifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// NotifyRunCompletion implements ports.Notifier.
func (n *RecordingNotifier) NotifyRunCompletion(ctx context.Context, result *model.RunResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Runs = append(n.Runs, *result)
}

// NotifyAnomaly implements ports.Notifier.
func (n *RecordingNotifier) NotifyAnomaly(ctx context.Context, workflowCode string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Anomalies = append(n.Anomalies, workflowCode+": "+message)
}

// Snapshot returns copies of the recorded runs and anomalies.
func (n *RecordingNotifier) Snapshot() ([]model.RunResult, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	runs := append([]model.RunResult(nil), n.Runs...)
	anomalies := append([]string(nil), n.Anomalies...)
	return runs, anomalies
}

var _ ports.Notifier = (*RecordingNotifier)(nil)

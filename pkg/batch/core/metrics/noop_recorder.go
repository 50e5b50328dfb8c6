package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordRefresh does nothing.
func (r *NoOpMetricRecorder) RecordRefresh(ctx context.Context, obs RefreshObservation) {}

// RecordCoalesced does nothing.
func (r *NoOpMetricRecorder) RecordCoalesced(ctx context.Context, datasetKey string, source string) {}

// RecordPublish does nothing.
func (r *NoOpMetricRecorder) RecordPublish(ctx context.Context, snap *model.Snapshot) {}

// RecordUpstreamRetry does nothing.
func (r *NoOpMetricRecorder) RecordUpstreamRetry(ctx context.Context, datasetKey string, reason string) {
}

// RecordIteration does nothing.
func (r *NoOpMetricRecorder) RecordIteration(ctx context.Context, run *model.BatchRun) {}

// RecordWorkflowRun does nothing.
func (r *NoOpMetricRecorder) RecordWorkflowRun(ctx context.Context, result *model.RunResult) {}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartRefreshSpan returns ctx unchanged.
func (t *NoOpTracer) StartRefreshSpan(ctx context.Context, datasetKey string) (context.Context, func()) {
	return ctx, func() {}
}

// StartWorkflowSpan returns ctx unchanged.
func (t *NoOpTracer) StartWorkflowSpan(ctx context.Context, code string, runID string) (context.Context, func()) {
	return ctx, func() {}
}

// StartSpan returns ctx unchanged.
func (t *NoOpTracer) StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)

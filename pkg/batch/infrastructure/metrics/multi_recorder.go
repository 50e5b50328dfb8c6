package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
)

// MultiRecorder forwards every observation to each of its recorders in order.
type MultiRecorder []metrics.MetricRecorder

// NewMultiRecorder creates a MultiRecorder.
func NewMultiRecorder(recorders ...metrics.MetricRecorder) MultiRecorder {
	return MultiRecorder(recorders)
}

func (m MultiRecorder) RecordRefresh(ctx context.Context, obs metrics.RefreshObservation) {
	for _, r := range m {
		r.RecordRefresh(ctx, obs)
	}
}

func (m MultiRecorder) RecordCoalesced(ctx context.Context, datasetKey string, source string) {
	for _, r := range m {
		r.RecordCoalesced(ctx, datasetKey, source)
	}
}

func (m MultiRecorder) RecordPublish(ctx context.Context, snap *model.Snapshot) {
	for _, r := range m {
		r.RecordPublish(ctx, snap)
	}
}

func (m MultiRecorder) RecordUpstreamRetry(ctx context.Context, datasetKey string, reason string) {
	for _, r := range m {
		r.RecordUpstreamRetry(ctx, datasetKey, reason)
	}
}

func (m MultiRecorder) RecordIteration(ctx context.Context, run *model.BatchRun) {
	for _, r := range m {
		r.RecordIteration(ctx, run)
	}
}

func (m MultiRecorder) RecordWorkflowRun(ctx context.Context, result *model.RunResult) {
	for _, r := range m {
		r.RecordWorkflowRun(ctx, result)
	}
}

func (m MultiRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	for _, r := range m {
		r.RecordDuration(ctx, name, duration, tags)
	}
}

var _ metrics.MetricRecorder = MultiRecorder(nil)

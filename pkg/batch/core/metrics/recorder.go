package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
)

// Refresh outcomes reported to RecordRefresh.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// RefreshObservation describes one finished dataset refresh.
type RefreshObservation struct {
	DatasetKey         string
	Outcome            string
	QueryDuration      time.Duration
	ProcessingDuration time.Duration
	TotalDuration      time.Duration
	Attempts           int
}

// MetricRecorder is an abstract interface for recording metrics of the refresh engine.
//
// This interface covers dataset refreshes, cache publishes and workflow runs.
// It allows the engine to stay independent of the metrics backend (Prometheus, OpenTelemetry Metrics).
type MetricRecorder interface {
	// RecordRefresh records the outcome and timings of a dataset refresh.
	//
	// ctx: The context for the operation.
	// obs: The observed refresh.
	RecordRefresh(ctx context.Context, obs RefreshObservation)

	// RecordCoalesced records a trigger that attached to an in-flight refresh or a skipped tick.
	//
	// ctx: The context for the operation.
	// datasetKey: The dataset whose refresh was already running.
	// source: "trigger" or "tick".
	RecordCoalesced(ctx context.Context, datasetKey string, source string)

	// RecordPublish records a successful publish into the cache store.
	//
	// ctx: The context for the operation.
	// snap: The published snapshot.
	RecordPublish(ctx context.Context, snap *model.Snapshot)

	// RecordUpstreamRetry records a retry of an upstream call.
	RecordUpstreamRetry(ctx context.Context, datasetKey string, reason string)

	// RecordIteration records one workflow iteration row.
	//
	// ctx: The context for the operation.
	// run: The BatchRun row written for the iteration.
	RecordIteration(ctx context.Context, run *model.BatchRun)

	// RecordWorkflowRun records the final state of a workflow run.
	//
	// ctx: The context for the operation.
	// result: The result of the finished run.
	RecordWorkflowRun(ctx context.Context, result *model.RunResult)

	// RecordDuration records the execution time of a specific operation.
	//
	// ctx: The context for the operation.
	// name: The name of the duration to record (e.g., "upstream_query", "archive_upload").
	// duration: The length of the duration to record.
	// tags: Additional labels, e.g. `{"query_id": "nocs_balance"}`.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

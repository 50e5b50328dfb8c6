package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
)

func TestPrometheusRecorder_RefreshAndCoalesce(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx := context.Background()
	key := model.DatasetNocsBalanceSummary

	r.RecordRefresh(ctx, coremetrics.RefreshObservation{
		DatasetKey: key, Outcome: coremetrics.OutcomeSucceeded,
		QueryDuration: time.Second, ProcessingDuration: 10 * time.Millisecond, TotalDuration: 2 * time.Second, Attempts: 1,
	})
	r.RecordRefresh(ctx, coremetrics.RefreshObservation{DatasetKey: key, Outcome: coremetrics.OutcomeFailed, Attempts: 3})
	r.RecordCoalesced(ctx, key, "trigger")
	r.RecordCoalesced(ctx, key, "trigger")
	r.RecordUpstreamRetry(ctx, key, "timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.refreshTotal.WithLabelValues(key, coremetrics.OutcomeSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.refreshTotal.WithLabelValues(key, coremetrics.OutcomeFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.coalescedTotal.WithLabelValues(key, "trigger")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.upstreamRetryTotal.WithLabelValues(key, "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.queryDurationSeconds))
}

func TestPrometheusRecorder_PublishAndWorkflow(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx := context.Background()
	refreshed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	r.RecordPublish(ctx, &model.Snapshot{
		DatasetKey:  model.DatasetBillStopAnalysis,
		Generation:  7,
		RefreshedAt: refreshed,
		Payload:     &model.SummaryPayload{Records: []model.SummaryRecord{model.AnalysisRecord{AnalysisMonth: "2026-03"}}},
	})
	assert.Equal(t, 7.0, testutil.ToFloat64(r.cacheGeneration.WithLabelValues(model.DatasetBillStopAnalysis)))
	assert.Equal(t, float64(refreshed.Unix()), testutil.ToFloat64(r.cacheRefreshedAt.WithLabelValues(model.DatasetBillStopAnalysis)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheRecordCount.WithLabelValues(model.DatasetBillStopAnalysis)))

	r.RecordIteration(ctx, &model.BatchRun{WorkflowCode: "migrate", Status: model.RunStatusRunning})
	r.RecordIteration(ctx, &model.BatchRun{WorkflowCode: "migrate", Status: model.RunStatusSucceeded})
	r.RecordWorkflowRun(ctx, &model.RunResult{WorkflowCode: "migrate", State: model.StateSucceeded, Iterations: 2})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.iterationTotal.WithLabelValues("migrate", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runTotal.WithLabelValues("migrate", "succeeded")))

	count, err := testutil.GatherAndCount(r.GetRegistry(), "billcache_workflow_run_iterations")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOpenTelemetryTracer_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := NewOpenTelemetryTracer(tp)
	ctx := context.Background()

	refreshCtx, endRefresh := tracer.StartRefreshSpan(ctx, model.DatasetNocsBalanceSummary)
	queryCtx, endQuery := tracer.StartSpan(refreshCtx, "billcache.upstream.query", map[string]interface{}{"query_id": "nocs_balance", "attempt": 2})
	tracer.RecordEvent(queryCtx, "retry", map[string]interface{}{"delay_ms": int64(200)})
	tracer.RecordError(queryCtx, "upstream", errors.New("timeout"))
	endQuery()
	endRefresh()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "billcache.upstream.query", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	require.Len(t, spans[0].Events(), 2)
	assert.Equal(t, "retry", spans[0].Events()[0].Name)
	assert.Equal(t, "billcache.refresh", spans[1].Name())
}

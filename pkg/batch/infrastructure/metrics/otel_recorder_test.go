package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
)

func newManualRecorder(t *testing.T) (*OpenTelemetryRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	r, err := NewOpenTelemetryRecorder(mp.Meter("test"))
	require.NoError(t, err)
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T", m.Name, m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestOpenTelemetryRecorder_Instruments(t *testing.T) {
	r, reader := newManualRecorder(t)
	ctx := context.Background()
	key := model.DatasetNocsBalanceSummary

	r.RecordRefresh(ctx, coremetrics.RefreshObservation{DatasetKey: key, Outcome: coremetrics.OutcomeSucceeded, TotalDuration: time.Second})
	r.RecordRefresh(ctx, coremetrics.RefreshObservation{DatasetKey: key, Outcome: coremetrics.OutcomeFailed})
	r.RecordCoalesced(ctx, key, "tick")
	r.RecordPublish(ctx, &model.Snapshot{DatasetKey: key, Generation: 1, Payload: &model.SummaryPayload{
		Records: []model.SummaryRecord{model.AnalysisRecord{AnalysisMonth: "2026-02"}, model.AnalysisRecord{AnalysisMonth: "2026-03"}},
	}})
	r.RecordWorkflowRun(ctx, &model.RunResult{WorkflowCode: "device-migration", State: model.StateSucceeded, Iterations: 4})
	r.RecordDuration(ctx, "upstream_query", 250*time.Millisecond, map[string]string{"query_id": "nocs_balances"})

	got := collect(t, reader)
	assert.EqualValues(t, 2, sumOf(t, got["billcache.refresh.total"]))
	assert.EqualValues(t, 1, sumOf(t, got["billcache.refresh.coalesced"]))
	assert.EqualValues(t, 1, sumOf(t, got["billcache.cache.publish.total"]))
	assert.EqualValues(t, 1, sumOf(t, got["billcache.workflow.run"]))

	gauge, ok := got["billcache.cache.records"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.EqualValues(t, 2, gauge.DataPoints[0].Value)

	query, ok := got["billcache.refresh.query.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, query.DataPoints, 1, "only successful refreshes record query time")

	op, ok := got["billcache.operation.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, op.DataPoints, 1)
	v, found := op.DataPoints[0].Attributes.Value("query_id")
	require.True(t, found)
	assert.Equal(t, "nocs_balances", v.AsString())
}

func TestMultiRecorder_ForwardsToEveryRecorder(t *testing.T) {
	otelRecorder, reader := newManualRecorder(t)
	prom := NewPrometheusRecorder()
	multi := NewMultiRecorder(prom, otelRecorder)

	multi.RecordUpstreamRetry(context.Background(), model.DatasetBillStopAnalysis, "timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.upstreamRetryTotal.WithLabelValues(model.DatasetBillStopAnalysis, "timeout")))
	assert.EqualValues(t, 1, sumOf(t, collect(t, reader)["billcache.upstream.retry"]))
}

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("https://collector.internal:4318"))
	assert.False(t, isURL("collector.internal:4317"))
	assert.Equal(t, "OTLP/gRPC", protocolName(ProtocolGRPC))
	assert.Equal(t, "OTLP/HTTP", protocolName(""))
}

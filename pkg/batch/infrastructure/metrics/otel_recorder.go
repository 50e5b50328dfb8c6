package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	logger "github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// NewMeterProvider builds an SDK meter provider that pushes to the OTLP collector at endpoint
// every interval.
func NewMeterProvider(ctx context.Context, serviceName, endpoint, protocol string, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	exporter, err := newMetricExporter(ctx, endpoint, protocol)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, fmt.Errorf("creating metric resource: %w", err)
	}
	var readerOpts []sdkmetric.PeriodicReaderOption
	if interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(interval))
	}
	logger.Infof("Metrics: pushing to %s over %s every %s", endpoint, protocolName(protocol), interval)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	), nil
}

func newMetricExporter(ctx context.Context, endpoint, protocol string) (sdkmetric.Exporter, error) {
	if protocol == ProtocolGRPC {
		var opts []otlpmetricgrpc.Option
		if isURL(endpoint) {
			opts = append(opts, otlpmetricgrpc.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
	var opts []otlpmetrichttp.Option
	if isURL(endpoint) {
		opts = append(opts, otlpmetrichttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

// OpenTelemetryRecorder is an implementation of metrics.MetricRecorder on OpenTelemetry
// instruments. Instrument names mirror the Prometheus ones with dots as separators.
type OpenTelemetryRecorder struct {
	refreshTotal       metric.Int64Counter
	refreshDuration    metric.Float64Histogram
	queryDuration      metric.Float64Histogram
	processingDuration metric.Float64Histogram
	coalescedTotal     metric.Int64Counter
	publishTotal       metric.Int64Counter
	cacheRecordCount   metric.Int64Gauge
	upstreamRetryTotal metric.Int64Counter
	iterationTotal     metric.Int64Counter
	runTotal           metric.Int64Counter
	runIterations      metric.Int64Histogram
	operationDuration  metric.Float64Histogram
}

// NewOpenTelemetryRecorder creates every instrument on meter. All creation errors are
// reported together.
func NewOpenTelemetryRecorder(meter metric.Meter) (*OpenTelemetryRecorder, error) {
	var result *multierror.Error
	collect := func(err error) {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	seconds := metric.WithUnit("s")
	r := &OpenTelemetryRecorder{}
	var err error

	r.refreshTotal, err = meter.Int64Counter("billcache.refresh.total", metric.WithDescription("Dataset refreshes by outcome."))
	collect(err)
	r.refreshDuration, err = meter.Float64Histogram("billcache.refresh.duration", metric.WithDescription("Total refresh duration."), seconds)
	collect(err)
	r.queryDuration, err = meter.Float64Histogram("billcache.refresh.query.duration", metric.WithDescription("Upstream query time of successful refreshes."), seconds)
	collect(err)
	r.processingDuration, err = meter.Float64Histogram("billcache.refresh.processing.duration", metric.WithDescription("Aggregation time of successful refreshes."), seconds)
	collect(err)
	r.coalescedTotal, err = meter.Int64Counter("billcache.refresh.coalesced", metric.WithDescription("Triggers attached to an in-flight refresh and skipped ticks."))
	collect(err)
	r.publishTotal, err = meter.Int64Counter("billcache.cache.publish.total", metric.WithDescription("Snapshots published into the cache."))
	collect(err)
	r.cacheRecordCount, err = meter.Int64Gauge("billcache.cache.records", metric.WithDescription("Records in the current snapshot."))
	collect(err)
	r.upstreamRetryTotal, err = meter.Int64Counter("billcache.upstream.retry", metric.WithDescription("Retried upstream calls."))
	collect(err)
	r.iterationTotal, err = meter.Int64Counter("billcache.workflow.iteration", metric.WithDescription("Workflow iteration rows by status."))
	collect(err)
	r.runTotal, err = meter.Int64Counter("billcache.workflow.run", metric.WithDescription("Finished workflow runs by state."))
	collect(err)
	r.runIterations, err = meter.Int64Histogram("billcache.workflow.run.iterations", metric.WithDescription("Iterations per finished workflow run."))
	collect(err)
	r.operationDuration, err = meter.Float64Histogram("billcache.operation.duration", metric.WithDescription("Duration of named operations."), seconds)
	collect(err)

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

func datasetAttr(key string) attribute.KeyValue { return attribute.String("dataset", key) }

// RecordRefresh implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordRefresh(ctx context.Context, obs metrics.RefreshObservation) {
	attrs := metric.WithAttributes(datasetAttr(obs.DatasetKey), attribute.String("outcome", obs.Outcome))
	r.refreshTotal.Add(ctx, 1, attrs)
	r.refreshDuration.Record(ctx, obs.TotalDuration.Seconds(), attrs)
	if obs.Outcome == metrics.OutcomeSucceeded {
		ds := metric.WithAttributes(datasetAttr(obs.DatasetKey))
		r.queryDuration.Record(ctx, obs.QueryDuration.Seconds(), ds)
		r.processingDuration.Record(ctx, obs.ProcessingDuration.Seconds(), ds)
	}
}

// RecordCoalesced implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordCoalesced(ctx context.Context, datasetKey string, source string) {
	r.coalescedTotal.Add(ctx, 1, metric.WithAttributes(datasetAttr(datasetKey), attribute.String("source", source)))
}

// RecordPublish implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordPublish(ctx context.Context, snap *model.Snapshot) {
	ds := metric.WithAttributes(datasetAttr(snap.DatasetKey))
	r.publishTotal.Add(ctx, 1, ds)
	if snap.Payload != nil {
		r.cacheRecordCount.Record(ctx, int64(len(snap.Payload.Records)), ds)
	}
}

// RecordUpstreamRetry implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordUpstreamRetry(ctx context.Context, datasetKey string, reason string) {
	r.upstreamRetryTotal.Add(ctx, 1, metric.WithAttributes(datasetAttr(datasetKey), attribute.String("reason", reason)))
}

// RecordIteration implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordIteration(ctx context.Context, run *model.BatchRun) {
	r.iterationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", run.WorkflowCode), attribute.String("status", run.Status.String())))
}

// RecordWorkflowRun implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordWorkflowRun(ctx context.Context, result *model.RunResult) {
	wf := attribute.String("workflow", result.WorkflowCode)
	r.runTotal.Add(ctx, 1, metric.WithAttributes(wf, attribute.String("state", string(result.State))))
	r.runIterations.Record(ctx, int64(result.Iterations), metric.WithAttributes(wf))
}

// RecordDuration implements metrics.MetricRecorder. Unlike the Prometheus recorder, tags are
// kept as attributes.
func (r *OpenTelemetryRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("name", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	logger "github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const tracerName = "github.com/tigerroll/billcache"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer on top of the given provider.
func NewOpenTelemetryTracer(tp trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tp.Tracer(tracerName)}
}

// NewTracerProvider builds the SDK tracer provider.
// When endpoint is empty, spans are sampled but never exported.
//
// Parameters:
//
//	ctx: The context used to create the exporter.
//	serviceName: Reported as the service.name resource attribute.
//	endpoint: The OTLP collector, either "host:port" or a full URL.
//	protocol: "grpc" selects OTLP/gRPC; anything else OTLP/HTTP.
//
// Returns:
//
//	The provider (to be shut down on exit), or an error if the exporter cannot be created.
func NewTracerProvider(ctx context.Context, serviceName, endpoint, protocol string) (*sdktrace.TracerProvider, error) {
	res, err := newResource(serviceName)
	if err != nil {
		return nil, fmt.Errorf("creating trace resource: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if endpoint != "" {
		exporter, err := newSpanExporter(ctx, endpoint, protocol)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Infof("Tracing: exporting spans to %s over %s", endpoint, protocolName(protocol))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newSpanExporter(ctx context.Context, endpoint, protocol string) (sdktrace.SpanExporter, error) {
	if protocol == ProtocolGRPC {
		var opts []otlptracegrpc.Option
		if isURL(endpoint) {
			opts = append(opts, otlptracegrpc.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	var opts []otlptracehttp.Option
	if isURL(endpoint) {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// StartRefreshSpan starts a new span for a dataset refresh.
func (t *OpenTelemetryTracer) StartRefreshSpan(ctx context.Context, datasetKey string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "billcache.refresh",
		trace.WithAttributes(attribute.String("billcache.dataset", datasetKey)))
	return ctx, func() { span.End() }
}

// StartWorkflowSpan starts a new span for a workflow run.
func (t *OpenTelemetryTracer) StartWorkflowSpan(ctx context.Context, code string, runID string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "billcache.workflow.run",
		trace.WithAttributes(
			attribute.String("billcache.workflow", code),
			attribute.String("billcache.run_id", runID),
		))
	return ctx, func() { span.End() }
}

// StartSpan starts a generic child span.
func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attributes)...))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span and marks it failed.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("billcache.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(in map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case uint64:
			attrs = append(attrs, attribute.Int64(k, int64(val)))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)

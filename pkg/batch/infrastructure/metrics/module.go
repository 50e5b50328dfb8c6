package metrics

import (
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
)

func newTracerProvider(lc fx.Lifecycle, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	infra := cfg.BillCache.Infrastructure
	tp, err := NewTracerProvider(context.Background(), cfg.BillCache.System.ServiceName, infra.OTLPEndpoint, infra.OTLPProtocol)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: tp.Shutdown})
	return tp, nil
}

// newRecorder returns the Prometheus recorder, fanned out to an OTLP meter when an endpoint
// is configured.
func newRecorder(lc fx.Lifecycle, cfg *config.Config, prom *PrometheusRecorder) (metrics.MetricRecorder, error) {
	infra := cfg.BillCache.Infrastructure
	if infra.OTLPEndpoint == "" {
		return prom, nil
	}
	interval := time.Duration(infra.OTLPMetricIntervalSeconds) * time.Second
	mp, err := NewMeterProvider(context.Background(), cfg.BillCache.System.ServiceName, infra.OTLPEndpoint, infra.OTLPProtocol, interval)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: mp.Shutdown})
	otelRecorder, err := NewOpenTelemetryRecorder(mp.Meter(tracerName))
	if err != nil {
		return nil, err
	}
	return NewMultiRecorder(prom, otelRecorder), nil
}

func newTracer(tp *sdktrace.TracerProvider) *OpenTelemetryTracer {
	return NewOpenTelemetryTracer(tp)
}

func registerServer(lc fx.Lifecycle, cfg *config.Config, recorder *PrometheusRecorder) {
	addr := cfg.BillCache.Infrastructure.MetricsAddr
	if addr == "" {
		return
	}
	srv := NewServer(addr, recorder)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return srv.Start() },
		OnStop:  srv.Stop,
	})
}

// Module provides PrometheusRecorder and OpenTelemetryTracer as the core metrics interfaces
// and serves the Prometheus registry when billcache.infrastructure.metrics_addr is set.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(newRecorder),
	fx.Provide(newTracerProvider),
	fx.Provide(fx.Annotate(
		newTracer,
		fx.As(new(metrics.Tracer)),
	)),
	fx.Invoke(registerServer),
)

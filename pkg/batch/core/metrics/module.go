package metrics

import (
	"go.uber.org/fx"
)

// Module provides the no-op recorder and tracer.
// Applications that want real backends use the infrastructure metrics module instead.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewNoOpMetricRecorder,
		fx.As(new(MetricRecorder)),
	)),
	fx.Provide(fx.Annotate(
		NewNoOpTracer,
		fx.As(new(Tracer)),
	)),
)

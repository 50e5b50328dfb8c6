package upstream

import (
	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
)

// SourceParams are the Fx inputs of the upstream source.
type SourceParams struct {
	fx.In
	Resolver database.DBConnectionResolver
	Cfg      *config.Config
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

func newSource(p SourceParams) ports.UpstreamSource {
	return NewSQLSource(p.Resolver, p.Cfg.BillCache.Infrastructure.UpstreamDBRef, p.Cfg.BillCache.Upstream, p.Recorder, p.Tracer)
}

// Module provides the SQL upstream source as ports.UpstreamSource.
var Module = fx.Options(
	fx.Provide(newSource),
)

package refresh

import (
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/engine/summary"
)

// ServiceParams are the Fx inputs of the refresh Service.
type ServiceParams struct {
	fx.In
	Computer *summary.Computer
	Store    *cache.Store
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	Cfg      *config.Config
}

// NewServiceFromConfig creates the refresh Service in the configured timezone.
func NewServiceFromConfig(p ServiceParams) *Service {
	loc, err := time.LoadLocation(p.Cfg.BillCache.System.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return NewService(p.Computer, p.Store, p.Recorder, p.Tracer, loc)
}

// Module provides the refresh Service, also as port.Refresher.
var Module = fx.Options(
	fx.Provide(NewServiceFromConfig),
	fx.Provide(func(s *Service) port.Refresher { return s }),
)

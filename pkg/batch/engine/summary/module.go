package summary

import (
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/core/ports"
	"github.com/tigerroll/billcache/pkg/batch/engine/step/retry"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// ComputerParams are the Fx inputs of the summary computer.
type ComputerParams struct {
	fx.In
	Source   ports.UpstreamSource
	Cfg      *config.Config
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// NewComputerFromConfig wires the built-in aggregators and the configured retry policy.
func NewComputerFromConfig(p ComputerParams) *Computer {
	loc, err := time.LoadLocation(p.Cfg.BillCache.System.Timezone)
	if err != nil {
		logger.Warnf("Summary: unknown timezone '%s' (%v). Using UTC.", p.Cfg.BillCache.System.Timezone, err)
		loc = time.UTC
	}
	policy := retry.NewDefaultRetryPolicyFactory().Create(p.Cfg.BillCache.Batch.Retry, nil)
	return NewComputer(p.Source, p.Cfg, policy, p.Recorder, p.Tracer,
		NewBalanceAggregator(),
		NewAnalysisAggregator(loc),
	)
}

// Module provides the summary Computer.
var Module = fx.Options(
	fx.Provide(NewComputerFromConfig),
)

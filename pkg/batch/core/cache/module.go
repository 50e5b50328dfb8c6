package cache

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
)

// StoreParams are the Fx inputs of the cache store.
type StoreParams struct {
	fx.In
	Repo      repository.SummaryRepository
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
	Cfg       *config.Config
	Listeners []PublishListener `group:"publish_listeners"`
}

// PublishListenerGroup is the Fx value group publish listeners are provided into.
const PublishListenerGroup = "publish_listeners"

// NewStoreFromConfig creates a store restricted to the configured datasets.
func NewStoreFromConfig(p StoreParams) *Store {
	keys := make([]string, 0, len(p.Cfg.BillCache.Datasets))
	for _, ds := range p.Cfg.BillCache.Datasets {
		keys = append(keys, ds.Key)
	}
	s := NewStore(p.Repo, p.Recorder, p.Tracer, keys...)
	for _, l := range p.Listeners {
		if l != nil {
			s.AddListener(l)
		}
	}
	return s
}

// Module provides the cache Store.
var Module = fx.Options(
	fx.Provide(NewStoreFromConfig),
)

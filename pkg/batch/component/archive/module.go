package archive

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/adapter/storage"
	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

type listenerResult struct {
	fx.Out
	Listeners []cache.PublishListener `group:"publish_listeners,flatten"`
}

// newListener contributes the Archiver to the publish listeners when archiving is enabled.
// A disabled archive contributes nothing.
func newListener(lc fx.Lifecycle, resolver storage.StorageConnectionResolver, cfg *config.Config) (listenerResult, error) {
	ac := cfg.BillCache.Archive
	if !ac.Enabled {
		return listenerResult{}, nil
	}
	a, err := NewArchiver(resolver, ac)
	if err != nil {
		return listenerResult{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Archive: waiting for pending uploads.")
			return a.Wait()
		},
	})
	logger.Infof("Archive: snapshots are archived to storage '%s' under '%s'.", ac.StorageRef, ac.Prefix)
	return listenerResult{Listeners: []cache.PublishListener{a}}, nil
}

// Module registers the snapshot Archiver as a cache publish listener.
var Module = fx.Options(
	fx.Provide(newListener),
)

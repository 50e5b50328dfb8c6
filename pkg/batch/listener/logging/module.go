package logging

import (
	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/core/cache"
)

// Module adds the PublishLogger to the cache publish listeners.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewPublishLogger,
		fx.As(new(cache.PublishListener)),
		fx.ResultTags(`group:"`+cache.PublishListenerGroup+`"`),
	)),
)

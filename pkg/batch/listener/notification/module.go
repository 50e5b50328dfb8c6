package notification

import (
	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/core/ports"
)

// Module provides the logging notifier as ports.Notifier.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLoggingNotifier,
		fx.As(new(ports.Notifier)),
	)),
)

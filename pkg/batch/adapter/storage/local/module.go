package local

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/billcache/pkg/batch/adapter/storage"
)

// Module contributes the local StorageProvider to the storage provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLocalProvider,
		fx.ResultTags(`group:"`+storageAdapter.StorageProviderGroup+`"`),
	)),
)

package gcs

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/billcache/pkg/batch/adapter/storage"
)

// Module contributes the GCS StorageProvider to the storage provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGCSProvider,
		fx.ResultTags(`group:"`+storageAdapter.StorageProviderGroup+`"`),
	)),
)

// Package app assembles the billcache service from the batch packages.
package app

import (
	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/billcache/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/billcache/pkg/batch/adapter/storage/local"
	migrationTasklet "github.com/tigerroll/billcache/pkg/batch/component/tasklet/migration"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	infraMetrics "github.com/tigerroll/billcache/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/billcache/pkg/batch/infrastructure/repository/inmemory"
	sqlRepo "github.com/tigerroll/billcache/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// DBProviderMap is used by main.go to select database providers by name.
var DBProviderMap = map[string]fx.Option{
	"postgres": postgres.Module,
	"mysql":    mysql.Module,
	"sqlite":   sqlite.Module,
}

// StorageModuleMap is used by main.go to select storage providers by name.
var StorageModuleMap = map[string]fx.Option{
	"local": local.Module,
	"gcs":   gcs.Module,
}

// ProviderOptions turns provider names into the Fx modules contributing to the db_providers
// and storage_providers groups. Unknown names are logged and skipped.
func ProviderOptions(dbNames, storageNames []string) []fx.Option {
	var options []fx.Option
	for _, name := range dbNames {
		if module, ok := DBProviderMap[name]; ok {
			options = append(options, module)
			logger.Debugf("DB Provider '%s' selected and registered.", name)
		} else {
			logger.Warnf("DB Provider '%s' is configured but not recognized/supported. Skipping.", name)
		}
	}
	for _, name := range storageNames {
		if module, ok := StorageModuleMap[name]; ok {
			options = append(options, module)
			logger.Debugf("Storage Provider '%s' selected and registered.", name)
		} else {
			logger.Warnf("Storage Provider '%s' is configured but not recognized/supported. Skipping.", name)
		}
	}
	return options
}

// Backends selects the implementations behind the repository and metrics ports.
type Backends struct {
	// Repository is "sql" (cache database, migrated on start) or "memory".
	Repository string
	// Metrics is "prometheus" (with OpenTelemetry tracing) or "noop".
	Metrics string
}

// DefaultBackends is what a production deployment runs with.
var DefaultBackends = Backends{Repository: "sql", Metrics: "prometheus"}

func (b Backends) options() fx.Option {
	var repo fx.Option
	switch b.Repository {
	case "memory":
		logger.Warnf("Using in-memory repositories. Cache tables and the batch log are not persisted.")
		repo = inmemory.Module
	default:
		// Migrations run in OnStart before anything touches the cache database.
		repo = fx.Options(migrationTasklet.Module, sqlRepo.Module)
	}

	var observe fx.Option
	switch b.Metrics {
	case "noop":
		observe = metrics.Module
	default:
		observe = infraMetrics.Module
	}
	return fx.Options(observe, repo)
}

package action

import (
	"go.uber.org/fx"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	"github.com/tigerroll/billcache/pkg/batch/core/workflow"
)

func bindExecutor(exec *workflow.Executor, cfg *config.Config, refresher port.Refresher, resolver database.DBConnectionResolver) error {
	return BindDeclared(exec, cfg, refresher, resolver)
}

// Module binds the declared workflow actions to the Executor.
var Module = fx.Options(
	fx.Invoke(bindExecutor),
)

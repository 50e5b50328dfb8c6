package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/billcache/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/billcache/pkg/batch/adapter/storage"
	upstream "github.com/tigerroll/billcache/pkg/batch/adapter/upstream"
	"github.com/tigerroll/billcache/pkg/batch/component/archive"
	"github.com/tigerroll/billcache/pkg/batch/component/tasklet/action"
	"github.com/tigerroll/billcache/pkg/batch/core/application/usecase"
	"github.com/tigerroll/billcache/pkg/batch/core/cache"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	"github.com/tigerroll/billcache/pkg/batch/core/scheduler"
	"github.com/tigerroll/billcache/pkg/batch/core/workflow"
	"github.com/tigerroll/billcache/pkg/batch/engine/refresh"
	"github.com/tigerroll/billcache/pkg/batch/engine/summary"
	publishLog "github.com/tigerroll/billcache/pkg/batch/listener/logging"
	"github.com/tigerroll/billcache/pkg/batch/listener/notification"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// Command selects what the process does once the container has started.
type Command struct {
	// Name is "serve", "refresh", "run" or "run-all".
	Name string
	// Args are the dataset keys for "refresh" and the workflow codes for "run".
	Args []string
	// TriggeredBy is recorded on every refresh and workflow run started by the command.
	TriggeredBy string
}

// Options returns the Fx options of the complete service.
func Options(envFilePath string, embeddedConfig config.EmbeddedConfig, providerOptions []fx.Option, backends Backends) fx.Option {
	return fx.Options(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		fx.Options(providerOptions...),
		logger.Module,
		config.Module,
		gormadapter.Module,
		storage.Module,
		backends.options(),

		notification.Module,
		publishLog.Module,
		upstream.Module,
		summary.Module,
		archive.Module,
		cache.Module,
		refresh.Module,
		workflow.Module,
		action.Module,
		scheduler.Module,
		usecase.Module,
	)
}

// RunApplication builds the service and executes cmd. "serve" runs until ctx is cancelled;
// the other commands stop the application when they are done.
func RunApplication(ctx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, providerOptions []fx.Option, backends Backends, cmd Command) error {
	var operator usecase.CacheOperator
	app := fx.New(
		Options(envFilePath, embeddedConfig, providerOptions, backends),
		fx.Populate(&operator),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	runErr := runCommand(ctx, operator, cmd)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	logger.Infof("Application is shutting down.")
	if err := app.Stop(stopCtx); err != nil {
		logger.Errorf("Failed to stop application cleanly: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func runCommand(ctx context.Context, operator usecase.CacheOperator, cmd Command) error {
	switch cmd.Name {
	case "", "serve":
		logger.Infof("Serving. Waiting for shutdown signal.")
		<-ctx.Done()
		return nil
	case "refresh":
		for _, key := range cmd.Args {
			snap, _, err := operator.Refresh(ctx, key, cmd.TriggeredBy)
			if err != nil {
				return fmt.Errorf("refresh '%s': %w", key, err)
			}
			logger.Infof("Refreshed '%s': generation %d with %d record(s).", key, snap.Generation, len(snap.Payload.Records))
		}
		return nil
	case "run":
		for _, code := range cmd.Args {
			result, err := operator.RunWorkflow(ctx, code, cmd.TriggeredBy)
			if err != nil {
				return fmt.Errorf("run workflow '%s': %w", code, err)
			}
			if result.Err != nil {
				return fmt.Errorf("workflow '%s' ended %s: %w", code, result.State, result.Err)
			}
		}
		return nil
	case "run-all":
		_, err := operator.RunAllWorkflows(ctx, cmd.TriggeredBy)
		return err
	}
	return fmt.Errorf("unknown command '%s'", cmd.Name)
}

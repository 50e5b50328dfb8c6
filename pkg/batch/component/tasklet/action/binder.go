package action

import (
	"fmt"

	"github.com/tigerroll/billcache/pkg/batch/adapter/database"
	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
	config "github.com/tigerroll/billcache/pkg/batch/core/config"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// Binder attaches actions to workflow codes.
type Binder interface {
	Bind(code string, action port.Tasklet)
}

// NewTasklet builds the action declared for a workflow.
func NewTasklet(ac config.ActionConfig, cfg *config.Config, refresher port.Refresher, resolver database.DBConnectionResolver) (port.Tasklet, error) {
	switch ac.Type {
	case config.ActionTypeRefresh:
		if _, ok := cfg.Dataset(ac.Dataset); !ok {
			return nil, fmt.Errorf("refresh action names unknown dataset '%s'", ac.Dataset)
		}
		return NewRefreshTasklet(refresher, ac.Dataset), nil
	case config.ActionTypeSQL:
		if ac.ActionQuery == "" && ac.CountQuery == "" {
			return nil, fmt.Errorf("sql action needs an action_query or a count_query")
		}
		dbRef := ac.DBRef
		if dbRef == "" {
			dbRef = cfg.BillCache.Infrastructure.UpstreamDBRef
		}
		return NewSQLTasklet(resolver, dbRef, ac.ActionQuery, ac.CountQuery), nil
	}
	return nil, fmt.Errorf("unknown action type '%s'", ac.Type)
}

// BindDeclared binds the action of every workflow declared in configuration.
func BindDeclared(binder Binder, cfg *config.Config, refresher port.Refresher, resolver database.DBConnectionResolver) error {
	for _, wc := range cfg.BillCache.Workflows {
		t, err := NewTasklet(wc.Action, cfg, refresher, resolver)
		if err != nil {
			return fmt.Errorf("workflow '%s': %w", wc.Code, err)
		}
		binder.Bind(wc.Code, t)
		logger.Debugf("Workflow '%s' bound to a %s action.", wc.Code, wc.Action.Type)
	}
	return nil
}

// Package action holds the step actions a workflow can run: a dataset refresh or a pair of
// SQL statements that move a batch of rows and report how many are left.
package action

import (
	"context"
	"fmt"

	port "github.com/tigerroll/billcache/pkg/batch/core/application/port"
)

// RefreshTasklet refreshes one dataset per iteration. A successful refresh leaves nothing
// remaining.
type RefreshTasklet struct {
	refresher  port.Refresher
	datasetKey string
}

// NewRefreshTasklet creates a RefreshTasklet for datasetKey.
func NewRefreshTasklet(refresher port.Refresher, datasetKey string) *RefreshTasklet {
	return &RefreshTasklet{refresher: refresher, datasetKey: datasetKey}
}

// Execute implements port.Tasklet.
func (t *RefreshTasklet) Execute(ctx context.Context, iteration int) (port.StepResult, error) {
	snap, err := t.refresher.Refresh(ctx, t.datasetKey)
	if err != nil {
		return port.StepResult{}, err
	}
	res := port.Remaining(0)
	res.Detail = fmt.Sprintf("published %s generation %d", snap.DatasetKey, snap.Generation)
	return res, nil
}

var _ port.Tasklet = (*RefreshTasklet)(nil)

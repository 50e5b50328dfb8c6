package ports

import (
	"context"
	"time"
)

// Row is one upstream result row keyed by column name.
type Row map[string]interface{}

// UpstreamSource runs registered analytical queries against the slow upstream system.
// Queries are opaque to the caller; only their ids are known.
type UpstreamSource interface {
	// RunQuery executes the query registered under queryID with named params.
	// timeout bounds the query; zero means the caller's context is the only bound.
	// Timeouts and connectivity failures are reported as exception.ErrUpstreamUnavailable.
	RunQuery(ctx context.Context, queryID string, params map[string]interface{}, timeout time.Duration) ([]Row, error)
}

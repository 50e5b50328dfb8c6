package test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/billcache/pkg/batch/core/ports"
)

// FakeUpstream is an in-memory ports.UpstreamSource.
// Each query id answers with its registered rows, after popping any queued errors.
type FakeUpstream struct {
	mu     sync.Mutex
	rows   map[string][]ports.Row
	errs   map[string][]error
	calls  map[string]int
	params []map[string]interface{}
	// Gate, when set, blocks every query until it is closed or the context ends.
	Gate chan struct{}
	// Started receives the query id each time a query begins, if set.
	Started chan string
}

// NewFakeUpstream creates an empty FakeUpstream.
func NewFakeUpstream() *FakeUpstream {
	return &FakeUpstream{
		rows:  make(map[string][]ports.Row),
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

// SetRows registers the rows returned for queryID.
func (f *FakeUpstream) SetRows(queryID string, rows ...ports.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[queryID] = rows
}

// FailNext queues errors returned by the next calls of queryID, one per call.
func (f *FakeUpstream) FailNext(queryID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[queryID] = append(f.errs[queryID], errs...)
}

// Calls returns how many times queryID was run.
func (f *FakeUpstream) Calls(queryID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[queryID]
}

// LastParams returns the params of the most recent call.
func (f *FakeUpstream) LastParams() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.params) == 0 {
		return nil
	}
	return f.params[len(f.params)-1]
}

// RunQuery implements ports.UpstreamSource.
func (f *FakeUpstream) RunQuery(ctx context.Context, queryID string, params map[string]interface{}, timeout time.Duration) ([]ports.Row, error) {
	f.mu.Lock()
	f.calls[queryID]++
	f.params = append(f.params, params)
	gate, started := f.Gate, f.Started
	f.mu.Unlock()

	if started != nil {
		started <- queryID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if queued := f.errs[queryID]; len(queued) > 0 {
		f.errs[queryID] = queued[1:]
		return nil, queued[0]
	}
	rows, ok := f.rows[queryID]
	if !ok {
		return nil, fmt.Errorf("fake upstream: no rows registered for '%s'", queryID)
	}
	out := make([]ports.Row, len(rows))
	copy(out, rows)
	return out, nil
}

var _ ports.UpstreamSource = (*FakeUpstream)(nil)

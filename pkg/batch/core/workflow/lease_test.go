package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
)

func TestLease_DoubleReleasePanics(t *testing.T) {
	table := newLeaseTable(time.Minute)
	l, _, ok := table.acquire("migrate", "run-1", time.Now(), nil)
	require.True(t, ok)
	l.Release()
	assert.Panics(t, l.Release)
}

func TestLease_ReclaimKeepsNewHolder(t *testing.T) {
	table := newLeaseTable(time.Minute)
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	old, _, ok := table.acquire("migrate", "run-1", start, nil)
	require.True(t, ok)
	_, _, ok = table.acquire("migrate", "run-2", start.Add(30*time.Second), nil)
	assert.False(t, ok)

	fresh, stale, ok := table.acquire("migrate", "run-3", start.Add(2*time.Minute), nil)
	require.True(t, ok)
	assert.Same(t, old, stale)

	old.Release()
	runID, _, held := table.holder("migrate")
	assert.True(t, held, "releasing a reclaimed lease must not free the slot")
	assert.Equal(t, "run-3", runID)

	fresh.Release()
	_, _, held = table.holder("migrate")
	assert.False(t, held)
}

func TestLease_ReclaimCancelsStaleHolder(t *testing.T) {
	table := newLeaseTable(time.Minute)
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	old, _, ok := table.acquire("migrate", "run-1", start, cancel)
	require.True(t, ok)
	assert.True(t, old.current())

	fresh, stale, ok := table.acquire("migrate", "run-2", start.Add(2*time.Minute), nil)
	require.True(t, ok)
	require.Same(t, old, stale)
	assert.ErrorIs(t, context.Cause(ctx), exception.ErrLeaseReclaimed)
	assert.False(t, old.current())
	assert.True(t, fresh.current())

	select {
	case <-stale.Done():
		t.Fatal("stale lease reported done before release")
	default:
	}
	old.Release()
	<-stale.Done()
	fresh.Release()
}

func TestLease_CodesAreIndependent(t *testing.T) {
	table := newLeaseTable(0)
	a, _, ok := table.acquire("a", "run-a", time.Now(), nil)
	require.True(t, ok)
	b, _, ok := table.acquire("b", "run-b", time.Now(), nil)
	require.True(t, ok)
	a.Release()
	b.Release()
}

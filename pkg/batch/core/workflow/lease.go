package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
)

// lease is the per-code run token. Exactly one lease per code is current at a time.
type lease struct {
	code      string
	runID     string
	heldSince time.Time
	released  atomic.Bool
	slot      *leaseSlot
	// cancel stops the run holding the lease; done is closed on Release.
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Release gives the token back. Releasing the same lease twice is an invariant violation.
func (l *lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("workflow: lease for '%s' (run %s) released twice", l.code, l.runID))
	}
	l.slot.mu.Lock()
	// A reclaimed lease no longer owns the slot.
	if l.slot.current == l {
		l.slot.current = nil
	}
	l.slot.mu.Unlock()
	close(l.done)
}

// current reports whether l still owns its slot.
func (l *lease) current() bool {
	l.slot.mu.Lock()
	defer l.slot.mu.Unlock()
	return l.slot.current == l
}

// Done is closed once the holder released the lease.
func (l *lease) Done() <-chan struct{} {
	return l.done
}

type leaseSlot struct {
	mu      sync.Mutex
	current *lease
}

// leaseTable hands out per-code leases. Codes never contend with each other.
type leaseTable struct {
	slots          sync.Map // code -> *leaseSlot
	maxRunDuration time.Duration
}

func newLeaseTable(maxRunDuration time.Duration) *leaseTable {
	return &leaseTable{maxRunDuration: maxRunDuration}
}

func (t *leaseTable) slot(code string) *leaseSlot {
	s, _ := t.slots.LoadOrStore(code, &leaseSlot{})
	return s.(*leaseSlot)
}

// acquire takes the lease for code; cancel stops the new holder when its own lease is reclaimed.
// When the current holder has exceeded maxRunDuration its lease is reclaimed, its run is
// cancelled with exception.ErrLeaseReclaimed, and the lease is returned as stale so the caller
// can report the anomaly and wait for the old run to exit.
func (t *leaseTable) acquire(code, runID string, now time.Time, cancel context.CancelCauseFunc) (l *lease, stale *lease, ok bool) {
	s := t.slot(code)
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current; cur != nil {
		if t.maxRunDuration <= 0 || now.Sub(cur.heldSince) <= t.maxRunDuration {
			return nil, nil, false
		}
		stale = cur
		if stale.cancel != nil {
			stale.cancel(exception.ErrLeaseReclaimed)
		}
	}
	l = &lease{code: code, runID: runID, heldSince: now, slot: s, cancel: cancel, done: make(chan struct{})}
	s.current = l
	return l, stale, true
}

// holder returns the run id and start time of the current lease for code, if any.
func (t *leaseTable) holder(code string) (runID string, since time.Time, held bool) {
	v, ok := t.slots.Load(code)
	if !ok {
		return "", time.Time{}, false
	}
	s := v.(*leaseSlot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", time.Time{}, false
	}
	return s.current.runID, s.current.heldSince, true
}

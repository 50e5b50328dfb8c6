// Package cache holds the latest published snapshot of every dataset.
//
// Readers never take a lock: each dataset key owns an entry whose current snapshot sits behind
// an atomically swapped pointer. Publishes to the same key are serialized by the entry's mutex;
// publishes to different keys never contend.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	model "github.com/tigerroll/billcache/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/billcache/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/billcache/pkg/batch/core/metrics"
	"github.com/tigerroll/billcache/pkg/batch/support/util/exception"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

const module = "cache"

type entry struct {
	mu      sync.Mutex
	current atomic.Pointer[model.Snapshot]
	nextGen atomic.Uint64
	failure atomic.Pointer[model.RefreshFailure]
}

// PublishListener is notified after a snapshot became current.
type PublishListener interface {
	OnPublished(ctx context.Context, snap *model.Snapshot)
}

// Store is the cache store.
type Store struct {
	entries   sync.Map // dataset key -> *entry
	declared  map[string]struct{}
	repo      repository.SummaryRepository
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
	listeners []PublishListener
	now       func() time.Time
}

// NewStore creates an empty store.
// When datasetKeys is non-empty, only those keys can be read or published.
func NewStore(repo repository.SummaryRepository, recorder metrics.MetricRecorder, tracer metrics.Tracer, datasetKeys ...string) *Store {
	s := &Store{
		repo:     repo,
		recorder: recorder,
		tracer:   tracer,
		now:      time.Now,
	}
	if len(datasetKeys) > 0 {
		s.declared = make(map[string]struct{}, len(datasetKeys))
		for _, k := range datasetKeys {
			s.declared[k] = struct{}{}
			s.entries.Store(k, &entry{})
		}
	}
	return s
}

// AddListener registers l to be called after every successful publish.
// It must be called before the store is used concurrently.
func (s *Store) AddListener(l PublishListener) {
	s.listeners = append(s.listeners, l)
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) entry(datasetKey string) (*entry, error) {
	if s.declared != nil {
		if _, ok := s.declared[datasetKey]; !ok {
			return nil, exception.NewBatchError(module, fmt.Sprintf("dataset '%s' is not configured", datasetKey), exception.ErrDatasetNotFound, false)
		}
	}
	e, _ := s.entries.LoadOrStore(datasetKey, &entry{})
	return e.(*entry), nil
}

// NextGeneration reserves the next generation number for datasetKey.
// Generations start at 1 and increase by one per call.
func (s *Store) NextGeneration(datasetKey string) (uint64, error) {
	e, err := s.entry(datasetKey)
	if err != nil {
		return 0, err
	}
	return e.nextGen.Add(1), nil
}

// Publish makes payload the current snapshot of datasetKey.
//
// The payload is validated first; a payload breaking a record invariant is rejected with
// exception.ErrComputation. A generation not newer than the current one is rejected with
// exception.ErrStaleGeneration. The snapshot is persisted through the SummaryRepository in one
// transaction and becomes visible to readers only after that succeeded. On any error the
// previous snapshot stays current.
//
// Parameters:
//
//	ctx: The context for persistence.
//	datasetKey: The dataset to publish.
//	generation: The generation reserved with NextGeneration.
//	payload: The fully computed payload. The store keeps its own copy.
//	duration: How long the refresh took.
//
// Returns:
//
//	The published snapshot.
func (s *Store) Publish(ctx context.Context, datasetKey string, generation uint64, payload *model.SummaryPayload, duration time.Duration) (*model.Snapshot, error) {
	e, err := s.entry(datasetKey)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, exception.NewComputationError(module, fmt.Sprintf("nil payload for '%s'", datasetKey), nil)
	}
	if payload.DatasetKey != datasetKey {
		return nil, exception.NewComputationError(module,
			fmt.Sprintf("payload for '%s' published under '%s'", payload.DatasetKey, datasetKey), nil)
	}
	if err := payload.Validate(); err != nil {
		return nil, exception.NewComputationError(module, fmt.Sprintf("rejecting payload for '%s'", datasetKey), err)
	}

	ctx, end := s.tracer.StartSpan(ctx, "billcache.cache.publish", map[string]interface{}{
		"dataset": datasetKey, "generation": generation,
	})
	defer end()

	snap, err := s.swap(ctx, e, datasetKey, generation, payload, duration)
	if err != nil {
		s.tracer.RecordError(ctx, module, err)
		return nil, err
	}

	s.recorder.RecordPublish(ctx, snap)
	logger.Infof("Cache: published '%s' generation %d (%d record(s), refresh took %s).",
		datasetKey, generation, len(snap.Payload.Records), duration)
	for _, l := range s.listeners {
		l.OnPublished(ctx, snap)
	}
	return snap, nil
}

// swap persists and installs the snapshot while holding the entry lock.
func (s *Store) swap(ctx context.Context, e *entry, datasetKey string, generation uint64, payload *model.SummaryPayload, duration time.Duration) (*model.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur := e.current.Load(); cur != nil && generation <= cur.Generation {
		return nil, exception.NewBatchError(module,
			fmt.Sprintf("generation %d of '%s' is not newer than current generation %d", generation, datasetKey, cur.Generation),
			exception.ErrStaleGeneration, false)
	}

	snap := &model.Snapshot{
		DatasetKey:      datasetKey,
		Generation:      generation,
		Payload:         payload.Clone(),
		RefreshedAt:     s.now(),
		RefreshDuration: duration,
	}
	if err := s.repo.ReplaceSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	e.current.Store(snap)
	e.failure.Store(nil)
	for {
		reserved := e.nextGen.Load()
		if reserved >= generation || e.nextGen.CompareAndSwap(reserved, generation) {
			break
		}
	}
	return snap, nil
}

// Get returns a copy of the current payload of datasetKey with its refresh time and age.
// A dataset never published since process start yields exception.ErrNotYetAvailable.
func (s *Store) Get(datasetKey string) (*model.SummaryPayload, time.Time, time.Duration, error) {
	snap, err := s.Snapshot(datasetKey)
	if err != nil {
		return nil, time.Time{}, 0, err
	}
	return snap.Payload.Clone(), snap.RefreshedAt, snap.Age(s.now()), nil
}

// Snapshot returns the current snapshot of datasetKey. The snapshot must be treated as read-only.
func (s *Store) Snapshot(datasetKey string) (*model.Snapshot, error) {
	e, err := s.entry(datasetKey)
	if err != nil {
		return nil, err
	}
	snap := e.current.Load()
	if snap == nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("dataset '%s' has not been refreshed yet", datasetKey), exception.ErrNotYetAvailable, false)
	}
	return snap, nil
}

// MarkFailed records that refreshing datasetKey at generation failed, leaving the current
// snapshot stale until the next successful publish. A failure of a generation not newer than
// the current snapshot, or older than an already recorded failure, is ignored.
func (s *Store) MarkFailed(datasetKey string, generation uint64, cause error) {
	e, err := s.entry(datasetKey)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur := e.current.Load(); cur != nil && generation <= cur.Generation {
		logger.Debugf("Cache: ignoring failure of '%s' generation %d; generation %d is current.", datasetKey, generation, cur.Generation)
		return
	}
	if prev := e.failure.Load(); prev != nil && generation < prev.Generation {
		return
	}
	e.failure.Store(&model.RefreshFailure{
		Generation: generation,
		At:         s.now(),
		Message:    exception.ExtractErrorMessage(cause),
	})
}

// LastFailure returns the failure recorded since the current snapshot was published, if any.
func (s *Store) LastFailure(datasetKey string) *model.RefreshFailure {
	e, err := s.entry(datasetKey)
	if err != nil {
		return nil
	}
	return e.failure.Load()
}

// Keys returns the dataset keys the store knows about, sorted.
func (s *Store) Keys() []string {
	var keys []string
	s.entries.Range(func(k, _ interface{}) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

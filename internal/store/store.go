package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/analytics-dashboard/internal/fetch"
	"github.com/sdko-org/analytics-dashboard/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Store is the process-wide arena of query results, keyed by cache key.
// It is the single source of truth for whether a key is idle, loading,
// fresh or failed. All transitions happen under one mutex and never block
// on I/O.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*entry
	handles   map[uuid.UUID]string
	gen       uint64
	base      context.Context
	retention time.Duration
	now       func() time.Time
	log       *logrus.Entry
	metrics   metrics.Recorder
}

type Option func(*Store)

// WithRetention sets how long an unreferenced entry is kept. Zero disables
// the opportunistic sweep.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store. Fetch contexts handed out by BeginFetch derive from
// ctx, so cancelling it aborts every in-flight fetch.
func New(ctx context.Context, logger *logrus.Logger, opts ...Option) *Store {
	s := &Store{
		entries:   make(map[string]*entry),
		handles:   make(map[uuid.UUID]string),
		base:      ctx,
		retention: 5 * time.Minute,
		now:       time.Now,
		log:       logger.WithField("component", "query_store"),
		metrics:   metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the entry for key, creating an idle one if needed.
func (s *Store) GetOrCreate(key string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getOrCreateLocked(key).snapshot()
}

func (s *Store) getOrCreateLocked(key string) *entry {
	now := s.now()
	if s.retention > 0 {
		s.evictLocked(now, s.retention, key)
	}
	e, ok := s.entries[key]
	if !ok {
		e = newEntry(key, now)
		s.entries[key] = e
	}
	return e
}

// Subscribe registers a consumer of key.
func (s *Store) Subscribe(key string) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreateLocked(key)
	e.subscribers++

	h := Handle{ID: uuid.New(), Key: key}
	s.handles[h.ID] = key
	return h
}

// Unsubscribe releases h. When the last subscriber leaves while a fetch is
// in flight, the fetch is cancelled and the entry goes back to idle.
func (s *Store) Unsubscribe(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.handles[h.ID]
	if !ok || key != h.Key {
		return &ImbalancedSubscriptionError{Key: h.Key, ID: h.ID}
	}
	e, ok := s.entries[key]
	if !ok || e.subscribers == 0 {
		return &ImbalancedSubscriptionError{Key: h.Key, ID: h.ID}
	}

	delete(s.handles, h.ID)
	e.subscribers--
	if e.subscribers > 0 {
		return nil
	}

	e.releasedAt = s.now()
	if e.status == StatusLoading {
		e.abort(s.nextGenerationLocked())
		e.status = StatusIdle
		s.log.WithField("cache_key", key).Debug("Last subscriber left, in-flight fetch cancelled")
		e.notify()
	}
	return nil
}

// BeginFetch moves key to loading and returns the new generation with a
// context for the request. started is false when a fetch is already in
// flight; callers must then not issue another request.
func (s *Store) BeginFetch(key string) (generation uint64, ctx context.Context, started bool) {
	return s.BeginFetchIf(key, nil)
}

// BeginFetchIf is BeginFetch gated by should, which is evaluated under the
// store lock against the entry's current state. The snapshot passed to
// should carries no Data. A nil should always fetches.
func (s *Store) BeginFetchIf(key string, should func(Snapshot) bool) (generation uint64, ctx context.Context, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreateLocked(key)
	if e.status == StatusLoading {
		return e.generation, nil, false
	}
	if should != nil && !should(e.state()) {
		return e.generation, nil, false
	}

	e.generation = s.nextGenerationLocked()
	e.status = StatusLoading
	ctx, e.cancel = context.WithCancel(s.base)
	e.notify()
	return e.generation, ctx, true
}

// nextGenerationLocked hands out store-wide generations so that a
// recreated entry never reuses one.
func (s *Store) nextGenerationLocked() uint64 {
	s.gen++
	return s.gen
}

// CompleteFetch applies the result of fetch generation to key. A nil err
// means success. It reports false when the result was dropped because the
// entry is gone, no longer loading, or a newer generation started.
func (s *Store) CompleteFetch(key string, generation uint64, data []fetch.Record, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.status != StatusLoading || e.generation != generation {
		return false
	}

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.lastFetchedAt = s.now()
	if err != nil {
		e.status = StatusError
		e.err = fetch.AsError(err)
	} else {
		if data == nil {
			data = []fetch.Record{}
		}
		e.status = StatusSuccess
		e.data = data
		e.err = nil
	}
	e.notify()
	return true
}

// Invalidate forces key back to idle so the next activation refetches. An
// in-flight fetch is cancelled and its result will be discarded.
func (s *Store) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if e.status == StatusLoading {
		e.abort(s.nextGenerationLocked())
	}
	e.status = StatusIdle
	e.notify()
	return true
}

// EvictUnreferenced removes entries nobody subscribes to that have been
// inactive for at least window.
func (s *Store) EvictUnreferenced(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.evictLocked(now, window, "")
}

func (s *Store) evictLocked(now time.Time, window time.Duration, keep string) int {
	cutoff := now.Add(-window)
	evicted := 0
	for key, e := range s.entries {
		if key == keep || e.subscribers > 0 || e.status == StatusLoading {
			continue
		}
		if e.lastActive().After(cutoff) {
			continue
		}
		delete(s.entries, key)
		close(e.changed)
		evicted++
	}
	if evicted > 0 {
		s.metrics.Evicted(evicted)
		s.log.WithField("count", evicted).Debug("Evicted unreferenced entries")
	}
	return evicted
}

// Snapshot returns a copy of the entry for key.
func (s *Store) Snapshot(key string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Watch returns the current snapshot of key and a channel closed on its
// next change. The channel is also closed if the entry is evicted.
func (s *Store) Watch(key string) (Snapshot, <-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Snapshot{}, nil, false
	}
	return e.snapshot(), e.changed, true
}

// Keys returns the cache keys currently stored, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

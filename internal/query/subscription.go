package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/fetch"
	"github.com/sdko-org/analytics-dashboard/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned when waiting on a closed subscription.
var ErrClosed = errors.New("query: subscription closed")

// Result is the consumer view of a cache entry.
type Result struct {
	Endpoint      string
	Status        store.Status
	Data          []fetch.Record
	Error         *fetch.Error
	IsFetching    bool
	IsSuccess     bool
	IsError       bool
	LastFetchedAt time.Time
}

func newResult(endpointKey string, s store.Snapshot) Result {
	return Result{
		Endpoint:      endpointKey,
		Status:        s.Status,
		Data:          s.Data,
		Error:         s.Err,
		IsFetching:    s.Status == store.StatusLoading,
		IsSuccess:     s.Status == store.StatusSuccess,
		IsError:       s.Status == store.StatusError,
		LastFetchedAt: s.LastFetchedAt,
	}
}

// Subscription is one consumer's interest in a cache entry.
type Subscription struct {
	client *Client
	target target
	handle store.Handle

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
}

// Key returns the cache key the subscription is bound to.
func (s *Subscription) Key() string {
	return s.target.key
}

// Snapshot reads the current state of the entry.
func (s *Subscription) Snapshot() Result {
	snap, _ := s.client.store.Snapshot(s.target.key)
	return newResult(s.target.descriptor.Key, snap)
}

// Changed returns a channel closed on the next change of the entry.
func (s *Subscription) Changed() <-chan struct{} {
	_, ch, ok := s.client.store.Watch(s.target.key)
	if !ok {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return ch
}

// Wait blocks until the entry holds a success or an error. An idle entry,
// for instance after an invalidation, is fetched first.
func (s *Subscription) Wait(ctx context.Context) (Result, error) {
	for {
		if s.isClosed() {
			return s.Snapshot(), ErrClosed
		}

		snap, changed, ok := s.client.store.Watch(s.target.key)
		if !ok {
			return Result{Endpoint: s.target.descriptor.Key}, ErrClosed
		}
		switch snap.Status {
		case store.StatusSuccess, store.StatusError:
			return newResult(s.target.descriptor.Key, snap), nil
		case store.StatusIdle:
			s.client.start(s.target)
			continue
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return newResult(s.target.descriptor.Key, snap), ctx.Err()
		}
	}
}

// Refetch invalidates the entry and fetches it again, whatever its status.
func (s *Subscription) Refetch() {
	s.client.refetch(s.target)
}

// Close releases the subscription. Calling Close more than once is a no-op.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	if err := s.client.store.Unsubscribe(s.handle); err != nil {
		s.client.log.WithFields(logrus.Fields{
			"cache_key": s.target.key,
			"error":     err,
		}).Error("Unsubscribe failed")
		return err
	}
	return nil
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) poll(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.client.revalidate(s.target, interval)
		case <-s.stop:
			return
		}
	}
}

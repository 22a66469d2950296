package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/analytics-dashboard/internal/fetch"
)

// Status is the fetch state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of an entry. Data is copied on every read,
// so consumers may keep it without racing later fetches.
type Snapshot struct {
	Key           string
	Status        Status
	Data          []fetch.Record
	Err           *fetch.Error
	LastFetchedAt time.Time
	Subscribers   int
	Generation    uint64
}

// Handle identifies one subscription to a cache key.
type Handle struct {
	ID  uuid.UUID
	Key string
}

type entry struct {
	key           string
	status        Status
	data          []fetch.Record
	err           *fetch.Error
	createdAt     time.Time
	lastFetchedAt time.Time
	releasedAt    time.Time
	subscribers   int
	generation    uint64
	cancel        context.CancelFunc
	changed       chan struct{}
}

func newEntry(key string, now time.Time) *entry {
	return &entry{
		key:       key,
		status:    StatusIdle,
		createdAt: now,
		changed:   make(chan struct{}),
	}
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Key:           e.key,
		Status:        e.status,
		Data:          fetch.CloneRecords(e.data),
		Err:           e.err,
		LastFetchedAt: e.lastFetchedAt,
		Subscribers:   e.subscribers,
		Generation:    e.generation,
	}
}

// state is snapshot without the records.
func (e *entry) state() Snapshot {
	return Snapshot{
		Key:           e.key,
		Status:        e.status,
		Err:           e.err,
		LastFetchedAt: e.lastFetchedAt,
		Subscribers:   e.subscribers,
		Generation:    e.generation,
	}
}

// lastActive is the latest moment the entry was created, fetched or
// released by its last subscriber.
func (e *entry) lastActive() time.Time {
	t := e.createdAt
	if e.lastFetchedAt.After(t) {
		t = e.lastFetchedAt
	}
	if e.releasedAt.After(t) {
		t = e.releasedAt
	}
	return t
}

// notify wakes every watcher and arms a fresh channel.
func (e *entry) notify() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// abort cancels an in-flight fetch and supersedes its generation with next.
func (e *entry) abort(next uint64) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.generation = next
}

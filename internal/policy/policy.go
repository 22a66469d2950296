// Package policy decides when a cached query result must be fetched again.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/store"
)

// Policy is consulted on every activation of a query. It never touches the
// store itself.
type Policy interface {
	// ShouldFetch reports whether activating a consumer on s must start a
	// fetch.
	ShouldFetch(s store.Snapshot, now time.Time) bool

	// RefetchInterval is how often subscribed keys are revalidated in the
	// background. Zero means never.
	RefetchInterval() time.Duration
}

// Default fetches idle entries only. Errors are retried by an explicit
// refetch, never automatically.
type Default struct{}

func (Default) ShouldFetch(s store.Snapshot, _ time.Time) bool {
	return s.Status == store.StatusIdle
}

func (Default) RefetchInterval() time.Duration { return 0 }

// TTL additionally refetches successful results older than MaxAge.
type TTL struct {
	MaxAge time.Duration
}

func (p TTL) ShouldFetch(s store.Snapshot, now time.Time) bool {
	switch s.Status {
	case store.StatusIdle:
		return true
	case store.StatusSuccess:
		return p.MaxAge > 0 && now.Sub(s.LastFetchedAt) >= p.MaxAge
	default:
		return false
	}
}

func (TTL) RefetchInterval() time.Duration { return 0 }

// Polling activates like Default and revalidates subscribed keys every
// Interval.
type Polling struct {
	Interval time.Duration
}

func (Polling) ShouldFetch(s store.Snapshot, now time.Time) bool {
	return Default{}.ShouldFetch(s, now)
}

func (p Polling) RefetchInterval() time.Duration { return p.Interval }

// FromConfig builds the policy named by name ("default", "ttl", "polling").
func FromConfig(name string, ttl, interval time.Duration) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return Default{}, nil
	case "ttl":
		if ttl <= 0 {
			return nil, fmt.Errorf("ttl policy needs a positive max age, got %s", ttl)
		}
		return TTL{MaxAge: ttl}, nil
	case "polling":
		if interval <= 0 {
			return nil, fmt.Errorf("polling policy needs a positive interval, got %s", interval)
		}
		return Polling{Interval: interval}, nil
	default:
		return nil, fmt.Errorf("unknown refetch policy %q", name)
	}
}

// Package metrics defines how the query layer reports what it is doing.
package metrics

import "time"

// Recorder receives query cache events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Hit is called when an activation is served without starting a fetch.
	Hit(endpoint string)

	// Miss is called when an activation has to fetch.
	Miss(endpoint string)

	// FetchCompleted is called when a fetch result is applied to the cache.
	// outcome is "success" or the failure kind.
	FetchCompleted(endpoint, outcome string, d time.Duration)

	// Discarded is called for results dropped because they were cancelled
	// or superseded by a newer generation.
	Discarded(endpoint string)

	// Evicted is called with the number of entries removed by a sweep.
	Evicted(n int)
}

// Noop ignores every event. It is the default so callers never nil-check.
type Noop struct{}

func (Noop) Hit(string) {}
func (Noop) Miss(string) {}
func (Noop) FetchCompleted(string, string, time.Duration) {}
func (Noop) Discarded(string) {}
func (Noop) Evicted(int) {}

package policy

import (
	"testing"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/store"
)

func TestShouldFetch(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-10 * time.Second)
	old := now.Add(-2 * time.Minute)

	tests := []struct {
		name   string
		policy Policy
		status store.Status
		last   time.Time
		want   bool
	}{
		{"default idle", Default{}, store.StatusIdle, time.Time{}, true},
		{"default loading", Default{}, store.StatusLoading, time.Time{}, false},
		{"default success", Default{}, store.StatusSuccess, old, false},
		{"default error not retried", Default{}, store.StatusError, old, false},
		{"ttl idle", TTL{MaxAge: time.Minute}, store.StatusIdle, time.Time{}, true},
		{"ttl fresh success", TTL{MaxAge: time.Minute}, store.StatusSuccess, fresh, false},
		{"ttl stale success", TTL{MaxAge: time.Minute}, store.StatusSuccess, old, true},
		{"ttl error not retried", TTL{MaxAge: time.Minute}, store.StatusError, old, false},
		{"ttl loading", TTL{MaxAge: time.Minute}, store.StatusLoading, old, false},
		{"polling idle", Polling{Interval: time.Second}, store.StatusIdle, time.Time{}, true},
		{"polling success", Polling{Interval: time.Second}, store.StatusSuccess, old, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.Snapshot{Status: tt.status, LastFetchedAt: tt.last}
			if got := tt.policy.ShouldFetch(s, now); got != tt.want {
				t.Errorf("ShouldFetch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefetchInterval(t *testing.T) {
	if (Default{}).RefetchInterval() != 0 {
		t.Error("default policy must not poll")
	}
	if (TTL{MaxAge: time.Minute}).RefetchInterval() != 0 {
		t.Error("ttl policy must not poll")
	}
	if (Polling{Interval: 5 * time.Second}).RefetchInterval() != 5*time.Second {
		t.Error("polling policy must report its interval")
	}
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		want    Policy
		wantErr bool
	}{
		{"", Default{}, false},
		{"default", Default{}, false},
		{"TTL", TTL{MaxAge: time.Minute}, false},
		{"polling", Polling{Interval: 30 * time.Second}, false},
		{"cron", nil, true},
	}
	for _, tt := range tests {
		got, err := FromConfig(tt.name, time.Minute, 30*time.Second)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%q: got %#v, want %#v", tt.name, got, tt.want)
		}
	}

	if _, err := FromConfig("ttl", 0, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
	if _, err := FromConfig("polling", 0, 0); err == nil {
		t.Error("expected error for zero interval")
	}
}

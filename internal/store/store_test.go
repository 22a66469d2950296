package store

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/fetch"
	"github.com/sirupsen/logrus"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(opts ...Option) *Store {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(context.Background(), logger, opts...)
}

func rows(v string) []fetch.Record {
	return []fetch.Record{{"WebsiteName": v}}
}

func TestGetOrCreateStartsIdle(t *testing.T) {
	s := newTestStore()
	snap := s.GetOrCreate("events")
	if snap.Status != StatusIdle {
		t.Fatalf("expected idle, got %s", snap.Status)
	}
	if snap.Data != nil || snap.Err != nil {
		t.Fatal("expected empty entry")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}
}

func TestBeginFetchDeduplicates(t *testing.T) {
	s := newTestStore()

	gen, ctx, started := s.BeginFetch("events")
	if !started || ctx == nil {
		t.Fatal("expected first BeginFetch to start")
	}
	if _, _, again := s.BeginFetch("events"); again {
		t.Fatal("second BeginFetch while loading must not start a fetch")
	}

	if !s.CompleteFetch("events", gen, rows("A"), nil) {
		t.Fatal("expected result to apply")
	}
	if ctx.Err() == nil {
		t.Error("expected fetch context to be released after completion")
	}
}

func TestConcurrentBeginFetchStartsOnce(t *testing.T) {
	s := newTestStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	starts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, started := s.BeginFetch("events"); started {
				mu.Lock()
				starts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if starts != 1 {
		t.Fatalf("expected exactly one start, got %d", starts)
	}
}

func TestCompleteFetchSuccessAndError(t *testing.T) {
	s := newTestStore()

	gen, _, _ := s.BeginFetch("events")
	s.CompleteFetch("events", gen, rows("A"), nil)
	snap, _ := s.Snapshot("events")
	if snap.Status != StatusSuccess || snap.Err != nil || len(snap.Data) != 1 {
		t.Fatalf("unexpected success snapshot %+v", snap)
	}
	if snap.LastFetchedAt.IsZero() {
		t.Error("expected LastFetchedAt to be set")
	}

	gen, _, _ = s.BeginFetch("events")
	s.CompleteFetch("events", gen, nil, &fetch.Error{Kind: fetch.KindHTTP, StatusCode: 500, Message: "boom"})
	snap, _ = s.Snapshot("events")
	if snap.Status != StatusError {
		t.Fatalf("expected error status, got %s", snap.Status)
	}
	if snap.Err == nil || snap.Err.Kind != fetch.KindHTTP {
		t.Fatalf("expected http error, got %v", snap.Err)
	}
	if len(snap.Data) != 1 || snap.Data[0]["WebsiteName"] != "A" {
		t.Fatalf("expected previous data to be retained, got %v", snap.Data)
	}
}

func TestCompleteFetchFirstErrorHasNoData(t *testing.T) {
	s := newTestStore()
	gen, _, _ := s.BeginFetch("events")
	s.CompleteFetch("events", gen, nil, errors.New("dial tcp: refused"))

	snap, _ := s.Snapshot("events")
	if snap.Status != StatusError || snap.Data != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Err.Kind != fetch.KindNetwork {
		t.Errorf("expected unclassified error to become network, got %s", snap.Err.Kind)
	}
}

func TestCompleteFetchNilDataIsEmptySuccess(t *testing.T) {
	s := newTestStore()
	gen, _, _ := s.BeginFetch("events")
	s.CompleteFetch("events", gen, nil, nil)

	snap, _ := s.Snapshot("events")
	if snap.Status != StatusSuccess || snap.Data == nil {
		t.Fatalf("success must carry non-nil data, got %+v", snap)
	}
}

func TestStaleGenerationDiscarded(t *testing.T) {
	s := newTestStore()

	g1, ctx1, _ := s.BeginFetch("events")
	s.Invalidate("events")
	if ctx1.Err() == nil {
		t.Error("expected invalidate to cancel the in-flight fetch")
	}
	g2, _, started := s.BeginFetch("events")
	if !started || g2 == g1 {
		t.Fatalf("expected a new generation, got g1=%d g2=%d", g1, g2)
	}

	if !s.CompleteFetch("events", g2, rows("new"), nil) {
		t.Fatal("expected G2 to apply")
	}
	if s.CompleteFetch("events", g1, rows("old"), nil) {
		t.Fatal("expected G1 to be discarded")
	}

	snap, _ := s.Snapshot("events")
	if snap.Data[0]["WebsiteName"] != "new" {
		t.Fatalf("expected G2 result, got %v", snap.Data)
	}
}

func TestGenerationNotReusedAfterEviction(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(WithClock(clock.Now), WithRetention(0))

	g1, _, _ := s.BeginFetch("events")
	s.Invalidate("events")
	clock.Advance(time.Minute)
	if n := s.EvictUnreferenced(clock.Now(), 0); n != 1 {
		t.Fatalf("expected the idle entry to be evicted, got %d", n)
	}

	g2, _, started := s.BeginFetch("events")
	if !started || g2 <= g1 {
		t.Fatalf("expected a fresh generation after re-creation, got g1=%d g2=%d", g1, g2)
	}
	if s.CompleteFetch("events", g1, rows("old"), nil) {
		t.Fatal("expected the pre-eviction generation to be discarded")
	}
	if !s.CompleteFetch("events", g2, rows("new"), nil) {
		t.Fatal("expected the current generation to apply")
	}
}

func TestBeginFetchIf(t *testing.T) {
	s := newTestStore()
	idle := func(snap Snapshot) bool { return snap.Status == StatusIdle }

	g, _, started := s.BeginFetchIf("events", idle)
	if !started {
		t.Fatal("expected an idle entry to start")
	}
	if _, _, again := s.BeginFetchIf("events", idle); again {
		t.Fatal("expected a loading entry to refuse")
	}
	s.CompleteFetch("events", g, rows("A"), nil)

	called := false
	_, _, started = s.BeginFetchIf("events", func(snap Snapshot) bool {
		called = true
		if snap.Data != nil {
			t.Error("expected the gate to see no records")
		}
		return snap.Status == StatusIdle
	})
	if !called || started {
		t.Fatalf("expected the gate to refuse a settled entry (called=%v started=%v)", called, started)
	}
	if snap, _ := s.Snapshot("events"); snap.Status != StatusSuccess {
		t.Fatalf("refused gate changed status to %s", snap.Status)
	}
}

func TestCompleteFetchAfterInvalidateWithoutRestart(t *testing.T) {
	s := newTestStore()
	g1, _, _ := s.BeginFetch("events")
	s.Invalidate("events")

	if s.CompleteFetch("events", g1, rows("old"), nil) {
		t.Fatal("expected result to be discarded")
	}
	snap, _ := s.Snapshot("events")
	if snap.Status != StatusIdle {
		t.Fatalf("expected idle, got %s", snap.Status)
	}
}

func TestSubscriberBalance(t *testing.T) {
	s := newTestStore()

	const n = 10
	handles := make([]Handle, 0, n)
	for i := 0; i < n; i++ {
		handles = append(handles, s.Subscribe("events"))
	}
	snap, _ := s.Snapshot("events")
	if snap.Subscribers != n {
		t.Fatalf("expected %d subscribers, got %d", n, snap.Subscribers)
	}

	for _, h := range handles {
		if err := s.Unsubscribe(h); err != nil {
			t.Fatalf("unsubscribe: %v", err)
		}
	}
	snap, _ = s.Snapshot("events")
	if snap.Subscribers != 0 {
		t.Fatalf("expected 0 subscribers, got %d", snap.Subscribers)
	}
}

func TestUnsubscribeImbalanced(t *testing.T) {
	s := newTestStore()
	h := s.Subscribe("events")
	if err := s.Unsubscribe(h); err != nil {
		t.Fatal(err)
	}

	err := s.Unsubscribe(h)
	var imbalanced *ImbalancedSubscriptionError
	if !errors.As(err, &imbalanced) {
		t.Fatalf("expected ImbalancedSubscriptionError, got %v", err)
	}

	snap, _ := s.Snapshot("events")
	if snap.Subscribers != 0 {
		t.Fatalf("subscriber count went to %d", snap.Subscribers)
	}

	if err := s.Unsubscribe(Handle{Key: "never"}); err == nil {
		t.Fatal("expected error for unknown handle")
	}
}

func TestLastUnsubscribeCancelsInFlight(t *testing.T) {
	s := newTestStore()
	a := s.Subscribe("events")
	b := s.Subscribe("events")
	gen, ctx, _ := s.BeginFetch("events")

	if err := s.Unsubscribe(a); err != nil {
		t.Fatal(err)
	}
	if ctx.Err() != nil {
		t.Fatal("fetch must survive while another subscriber depends on it")
	}

	if err := s.Unsubscribe(b); err != nil {
		t.Fatal(err)
	}
	if ctx.Err() == nil {
		t.Fatal("expected fetch to be cancelled when the last subscriber left")
	}
	snap, _ := s.Snapshot("events")
	if snap.Status != StatusIdle {
		t.Fatalf("expected idle after cancellation, got %s", snap.Status)
	}
	if s.CompleteFetch("events", gen, rows("late"), nil) {
		t.Fatal("cancelled result must be discarded")
	}
}

func TestEvictUnreferenced(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(WithClock(clock.Now), WithRetention(0))

	h := s.Subscribe("events")
	gen, _, _ := s.BeginFetch("events")
	s.CompleteFetch("events", gen, rows("A"), nil)
	s.GetOrCreate("pages")

	clock.Advance(10 * time.Minute)
	if n := s.EvictUnreferenced(clock.Now(), 5*time.Minute); n != 1 {
		t.Fatalf("expected only the unreferenced entry to go, evicted %d", n)
	}
	if _, ok := s.Snapshot("events"); !ok {
		t.Fatal("subscribed entry must never be evicted")
	}

	if err := s.Unsubscribe(h); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if n := s.EvictUnreferenced(clock.Now(), 5*time.Minute); n != 0 {
		t.Fatalf("entry released a minute ago must be retained, evicted %d", n)
	}

	clock.Advance(5 * time.Minute)
	if n := s.EvictUnreferenced(clock.Now(), 5*time.Minute); n != 1 {
		t.Fatalf("expected eviction after the retention window, evicted %d", n)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d entries", s.Len())
	}
}

func TestOpportunisticEviction(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(WithClock(clock.Now), WithRetention(time.Minute))

	s.GetOrCreate("old")
	clock.Advance(2 * time.Minute)
	s.GetOrCreate("new")

	if _, ok := s.Snapshot("old"); ok {
		t.Fatal("expected stale entry to be swept by GetOrCreate")
	}
	if _, ok := s.Snapshot("new"); !ok {
		t.Fatal("expected requested entry to exist")
	}
}

func TestWatchNotifiesOnChange(t *testing.T) {
	s := newTestStore()
	s.GetOrCreate("events")

	_, changed, ok := s.Watch("events")
	if !ok {
		t.Fatal("expected entry")
	}

	gen, _, _ := s.BeginFetch("events")
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected notification on BeginFetch")
	}

	snap, changed, _ := s.Watch("events")
	if snap.Status != StatusLoading {
		t.Fatalf("expected loading, got %s", snap.Status)
	}
	s.CompleteFetch("events", gen, rows("A"), nil)
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected notification on CompleteFetch")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestStore()
	gen, _, _ := s.BeginFetch("events")
	s.CompleteFetch("events", gen, rows("A"), nil)

	snap, _ := s.Snapshot("events")
	snap.Data[0]["WebsiteName"] = "mutated"

	again, _ := s.Snapshot("events")
	if again.Data[0]["WebsiteName"] != "A" {
		t.Fatal("mutating a snapshot changed the stored entry")
	}
}

// Package query is the entry point consumers use to read endpoint data. It
// ties subscriptions to store entries and starts fetches only when the
// refetch policy asks for one.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/endpoint"
	"github.com/sdko-org/analytics-dashboard/internal/fetch"
	"github.com/sdko-org/analytics-dashboard/internal/metrics"
	"github.com/sdko-org/analytics-dashboard/internal/policy"
	"github.com/sdko-org/analytics-dashboard/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Executor performs the network call for one endpoint.
type Executor interface {
	Execute(ctx context.Context, d endpoint.Descriptor, params endpoint.Params) ([]fetch.Record, error)
}

type Client struct {
	registry *endpoint.Registry
	store    *store.Store
	executor Executor
	policy   policy.Policy
	metrics  metrics.Recorder
	log      *logrus.Entry
	now      func() time.Time
}

type Option func(*Client)

func WithPolicy(p policy.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *Client) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(logger *logrus.Logger, registry *endpoint.Registry, st *store.Store, executor Executor, opts ...Option) *Client {
	c := &Client{
		registry: registry,
		store:    st,
		executor: executor,
		policy:   policy.Default{},
		metrics:  metrics.Noop{},
		log:      logger.WithField("component", "query_client"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query subscribes to endpointKey with params and starts a fetch if the
// policy requires one. Registry and parameter errors are returned
// immediately; fetch failures are reported through the subscription's
// snapshot. The caller must Close the subscription.
func (c *Client) Query(endpointKey string, params endpoint.Params) (*Subscription, error) {
	t, err := c.target(endpointKey, params)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		client: c,
		target: t,
		handle: c.store.Subscribe(t.key),
		stop:   make(chan struct{}),
	}
	c.activate(t)

	if interval := c.policy.RefetchInterval(); interval > 0 {
		go sub.poll(interval)
	}
	return sub, nil
}

// Fetch queries, waits for the entry to settle and releases the
// subscription. The entry stays cached for the store's retention window.
func (c *Client) Fetch(ctx context.Context, endpointKey string, params endpoint.Params) (Result, error) {
	sub, err := c.Query(endpointKey, params)
	if err != nil {
		return Result{}, err
	}
	defer sub.Close()

	return sub.Wait(ctx)
}

// Prefetch warms several parameterless endpoints concurrently. Fetch
// failures are captured in the cache, only registry or context errors are
// returned.
func (c *Client) Prefetch(ctx context.Context, endpointKeys ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range endpointKeys {
		key := key
		g.Go(func() error {
			res, err := c.Fetch(gctx, key, nil)
			if err != nil {
				return fmt.Errorf("prefetching %s: %w", key, err)
			}
			if res.IsError {
				c.log.WithFields(logrus.Fields{
					"endpoint": key,
					"error":    res.Error,
				}).Warn("Prefetch failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// Invalidate marks the entry stale so its next activation refetches.
func (c *Client) Invalidate(endpointKey string, params endpoint.Params) error {
	t, err := c.target(endpointKey, params)
	if err != nil {
		return err
	}
	c.store.Invalidate(t.key)
	return nil
}

// Refetch invalidates the entry and starts a new fetch immediately.
func (c *Client) Refetch(endpointKey string, params endpoint.Params) error {
	t, err := c.target(endpointKey, params)
	if err != nil {
		return err
	}
	c.refetch(t)
	return nil
}

// Peek returns the cached state without subscribing or fetching.
func (c *Client) Peek(endpointKey string, params endpoint.Params) (Result, bool, error) {
	t, err := c.target(endpointKey, params)
	if err != nil {
		return Result{}, false, err
	}
	snap, ok := c.store.Snapshot(t.key)
	if !ok {
		return Result{}, false, nil
	}
	return newResult(t.descriptor.Key, snap), true, nil
}

type target struct {
	descriptor endpoint.Descriptor
	params     endpoint.Params
	key        string
}

func (c *Client) target(endpointKey string, params endpoint.Params) (target, error) {
	d, err := c.registry.Resolve(endpointKey)
	if err != nil {
		return target{}, err
	}
	if err := params.Validate(); err != nil {
		return target{}, fmt.Errorf("query %s: %w", endpointKey, err)
	}
	if _, err := endpoint.Expand(d.URLTemplate, params); err != nil {
		return target{}, fmt.Errorf("query %s: %w", endpointKey, err)
	}
	return target{
		descriptor: d,
		params:     params.Clone(),
		key:        endpoint.CacheKey(d.Key, params),
	}, nil
}

func (c *Client) activate(t target) {
	now := c.now()
	started := c.begin(t, func(snap store.Snapshot) bool {
		return c.policy.ShouldFetch(snap, now)
	})
	if started {
		c.metrics.Miss(t.descriptor.Key)
		return
	}
	c.metrics.Hit(t.descriptor.Key)
}

func (c *Client) refetch(t target) {
	c.store.Invalidate(t.key)
	c.start(t)
}

// start begins a fetch unless one is already in flight for the key.
func (c *Client) start(t target) bool {
	return c.begin(t, nil)
}

// begin starts a fetch when should accepts the entry's state. should runs
// under the store lock, so the decision and the transition are atomic.
func (c *Client) begin(t target, should func(store.Snapshot) bool) bool {
	gen, ctx, started := c.store.BeginFetchIf(t.key, should)
	if !started {
		return false
	}

	log := c.log.WithFields(logrus.Fields{
		"endpoint":   t.descriptor.Key,
		"cache_key":  t.key,
		"generation": gen,
	})
	log.Debug("Fetch started")

	go c.run(ctx, t, gen, log)
	return true
}

func (c *Client) run(ctx context.Context, t target, gen uint64, log *logrus.Entry) {
	start := time.Now()
	data, err := c.executor.Execute(ctx, t.descriptor, t.params)
	if ctx.Err() != nil {
		c.metrics.Discarded(t.descriptor.Key)
		log.Debug("Fetch cancelled, result discarded")
		return
	}

	outcome := "success"
	if err != nil {
		fe := fetch.AsError(err)
		outcome = string(fe.Kind)
		err = fe
		log.WithError(err).Warn("Fetch failed")
	}

	if !c.store.CompleteFetch(t.key, gen, data, err) {
		c.metrics.Discarded(t.descriptor.Key)
		log.Debug("Superseded fetch result discarded")
		return
	}
	c.metrics.FetchCompleted(t.descriptor.Key, outcome, time.Since(start))
}

// revalidate refetches a settled entry on a polling tick. An entry fetched
// within the last half interval is left alone so concurrent pollers on the
// same key collapse into one fetch per tick.
func (c *Client) revalidate(t target, interval time.Duration) bool {
	now := c.now()
	return c.begin(t, func(snap store.Snapshot) bool {
		return snap.LastFetchedAt.IsZero() || now.Sub(snap.LastFetchedAt) >= interval/2
	})
}

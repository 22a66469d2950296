package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Evictor interface {
	EvictUnreferenced(now time.Time, window time.Duration) int
}

type AccessLogPruner interface {
	PruneAccessLogs(ctx context.Context, before time.Time) (int64, error)
}

type PurgerConfig struct {
	Interval           time.Duration
	Retention          time.Duration
	AccessLogRetention time.Duration
}

// CachePurger periodically drops unreferenced cache entries and old access
// log rows.
type CachePurger struct {
	logger *logrus.Logger
	store  Evictor
	pruner AccessLogPruner
	cfg    PurgerConfig
	now    func() time.Time
}

// NewCachePurger builds a purger. pruner may be nil when access logs are
// not persisted.
func NewCachePurger(logger *logrus.Logger, store Evictor, pruner AccessLogPruner, cfg PurgerConfig) *CachePurger {
	return &CachePurger{
		logger: logger,
		store:  store,
		pruner: pruner,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (c *CachePurger) Start(ctx context.Context) {
	logEntry := c.logger.WithField("component", "cache_purger")
	if c.cfg.Interval <= 0 {
		logEntry.Debug("Cache purger disabled")
		return
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	logEntry.WithField("interval", c.cfg.Interval).Info("Starting cache purger")

	for {
		select {
		case <-ticker.C:
			c.Purge(ctx, logEntry)
		case <-ctx.Done():
			logEntry.Info("Stopping cache purger")
			return
		}
	}
}

// Purge runs one purge pass.
func (c *CachePurger) Purge(ctx context.Context, log *logrus.Entry) {
	log = log.WithField("operation", "cache_purge")
	now := c.now()

	evicted := c.store.EvictUnreferenced(now, c.cfg.Retention)
	if evicted > 0 {
		log.WithField("count", evicted).Info("Evicted unreferenced cache entries")
	}

	if c.pruner == nil || c.cfg.AccessLogRetention <= 0 {
		return
	}
	pruned, err := c.pruner.PruneAccessLogs(ctx, now.Add(-c.cfg.AccessLogRetention))
	if err != nil {
		log.WithError(err).Error("Access log prune failed")
		return
	}
	if pruned > 0 {
		log.WithField("count", pruned).Info("Pruned access logs")
	}
}

package executor

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"pmexecutor/src/model"
)

// SnapshotSource fetches an authoritative account snapshot.
type SnapshotSource interface {
	GetAccountSnapshot(ctx context.Context) (model.AccountSnapshot, error)
}

// SnapshotPersister durably stores the last known snapshot.
type SnapshotPersister interface {
	Save(ctx context.Context, snap model.AccountSnapshot) error
	Load(ctx context.Context) (model.AccountSnapshot, error)
}

// SnapshotCache holds the latest account snapshot. Every snapshot is stamped
// with its exchange time; readers needing one for a risk decision call Fresh,
// which refreshes synchronously when the cached copy is older than the
// staleness window. There is no ambient global: callers hold the cache they
// were given.
type SnapshotCache struct {
	log       *logger.Entry
	source    SnapshotSource
	persister SnapshotPersister
	staleness time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	snap model.AccountSnapshot
}

// NewSnapshotCache creates a cache, seeding from the persisted snapshot when
// one exists.
func NewSnapshotCache(log *logger.Entry, source SnapshotSource, persister SnapshotPersister, staleness time.Duration) *SnapshotCache {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	c := &SnapshotCache{
		log:       log,
		source:    source,
		persister: persister,
		staleness: staleness,
		now:       time.Now,
	}

	if persister != nil {
		if snap, err := persister.Load(context.Background()); err == nil {
			c.snap = snap
			log.WithField("as_of", snap.AsOf).Info("seeded account snapshot from store")
		}
	}

	return c
}

// Current returns the cached snapshot without freshness guarantees.
func (c *SnapshotCache) Current() model.AccountSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// StaleNow reports whether the cached snapshot is older than the staleness
// window.
func (c *SnapshotCache) StaleNow() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Stale(c.now(), c.staleness)
}

// Fresh returns a snapshot no older than the staleness window, refreshing
// synchronously if needed. Risk decisions must go through here.
func (c *SnapshotCache) Fresh(ctx context.Context) (model.AccountSnapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if !snap.Stale(c.now(), c.staleness) {
		return snap, nil
	}

	return c.Refresh(ctx)
}

// Refresh pulls a new snapshot from the source, caches and persists it.
func (c *SnapshotCache) Refresh(ctx context.Context) (model.AccountSnapshot, error) {
	snap, err := c.source.GetAccountSnapshot(ctx)
	if err != nil {
		c.log.WithError(err).Error("snapshot refresh failed")
		return model.AccountSnapshot{}, err
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	if c.persister != nil {
		if err := c.persister.Save(ctx, snap); err != nil {
			c.log.WithError(err).Warn("failed to persist account snapshot")
		}
	}

	c.log.WithFields(map[string]interface{}{
		"usdc":  snap.Balance("USDC").String(),
		"as_of": snap.AsOf,
	}).Debug("account snapshot refreshed")

	return snap, nil
}

// Run refreshes the snapshot on a fixed interval until the context ends.
func (c *SnapshotCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.log.WithError(err).Warn("periodic snapshot sync failed")
			}
		}
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/catalog-core/internal/core/domain"
	"github.com/rl1809/catalog-core/internal/metrics"
	"github.com/rl1809/catalog-core/internal/port"
)

const maxReplayRounds = 3

type Config struct {
	OpTimeout  time.Duration
	CatalogTTL time.Duration
	ProductTTL time.Duration
	StatsTTL   time.Duration
	Backoff    BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		OpTimeout:  100 * time.Millisecond,
		CatalogTTL: 300 * time.Second,
		ProductTTL: 600 * time.Second,
		StatsTTL:   30 * time.Second,
		Backoff:    DefaultBackoffConfig(),
	}
}

// Generation is the invalidation count of a key as seen by a reader before
// it queried the store.
type Generation uint64

// Coordinator is the only writer of the cache. Every operation is
// best-effort: backend failures are logged, counted and turned into misses
// or no-ops, and never reach the caller.
//
// Each key has an in-process generation bumped by every invalidation. A
// read-through fill carries the generation observed before the store read
// and is dropped if the key was invalidated in between, so a fill can never
// resurrect data older than a completed invalidation.
type Coordinator struct {
	backend port.CacheBackend
	config  Config
	logger  *log.Entry
	metrics *metrics.CacheMetrics
	now     func() time.Time

	mu          sync.Mutex
	generations map[string]Generation
	// pending holds invalidations the backend has not acknowledged yet.
	pending   map[string]struct{}
	degraded  bool
	probing   bool
	nextProbe time.Time
	backoff   *backoff
}

func NewCoordinator(backend port.CacheBackend, config Config, logger *log.Entry, m *metrics.CacheMetrics) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "cache")
	}
	if m == nil {
		m = metrics.NewCacheMetrics(prometheus.NewRegistry())
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = DefaultConfig().OpTimeout
	}

	return &Coordinator{
		backend:     backend,
		config:      config,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
		generations: make(map[string]Generation),
		pending:     make(map[string]struct{}),
		backoff:     newBackoff(config.Backoff),
	}
}

func (c *Coordinator) CatalogTTL() time.Duration { return c.config.CatalogTTL }
func (c *Coordinator) ProductTTL() time.Duration { return c.config.ProductTTL }
func (c *Coordinator) StatsTTL() time.Duration   { return c.config.StatsTTL }

// Get decodes the cached value for key into dst. It returns false on a miss,
// on any backend or decode failure, and while the backend is degraded.
func (c *Coordinator) Get(ctx context.Context, key string, dst any) bool {
	class := keyClass(key)
	if !c.available(ctx) || c.isPending(key) {
		c.metrics.Miss(class)
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	data, err := c.backend.Get(opCtx, key)
	if err != nil {
		if !errors.Is(err, port.ErrCacheMiss) {
			c.fail("get", key, err)
		}
		c.metrics.Miss(class)
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("discarding undecodable cache entry")
		c.metrics.Miss(class)
		return false
	}

	c.metrics.Hit(class)
	return true
}

// Put stores value under key with an absolute expiry of now + ttl,
// overwriting any existing entry.
func (c *Coordinator) Put(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.available(ctx) {
		return
	}
	c.set(ctx, key, value, ttl)
}

// Snapshot returns the current generation of key. Take it before reading
// the store on a miss and hand it to PutIfFresh.
func (c *Coordinator) Snapshot(key string) Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key]
}

// PutIfFresh fills key only if it has not been invalidated since gen was
// taken. It reports whether the value was kept.
func (c *Coordinator) PutIfFresh(ctx context.Context, key string, gen Generation, value any, ttl time.Duration) bool {
	if c.Snapshot(key) != gen {
		c.metrics.StaleFillDiscarded()
		return false
	}
	if !c.available(ctx) {
		return false
	}
	if !c.set(ctx, key, value, ttl) {
		return false
	}

	// An invalidation may have bumped the generation while the write was in
	// flight and deleted the key before our write landed.
	if c.Snapshot(key) != gen {
		c.metrics.StaleFillDiscarded()
		c.deleteKeys(ctx, []string{key})
		return false
	}
	return true
}

// Invalidate removes keys. It is idempotent. When the backend cannot be
// reached the keys are remembered and deleted before the cache serves
// reads again.
func (c *Coordinator) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	c.mu.Lock()
	for _, key := range keys {
		c.generations[key]++
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.metrics.Invalidated(keyClass(key))
	}

	if !c.available(ctx) {
		c.addPending(keys)
		return
	}
	c.deleteKeys(ctx, keys)
}

// InvalidateAllForProduct purges the product detail view and the catalog
// listing together.
func (c *Coordinator) InvalidateAllForProduct(ctx context.Context, id int64) {
	c.Invalidate(ctx, ProductKey(id), KeyAllProducts)
}

// Degraded reports whether the backend is currently bypassed.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Ping checks the backend directly, for health reporting.
func (c *Coordinator) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()
	if err := c.backend.Ping(opCtx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheDegraded, err)
	}
	return nil
}

func (c *Coordinator) set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Error("encode cache value")
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	if err := c.backend.Set(opCtx, key, data, ttl); err != nil {
		c.fail("set", key, err)
		return false
	}
	return true
}

func (c *Coordinator) deleteKeys(ctx context.Context, keys []string) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	if err := c.backend.Delete(opCtx, keys...); err != nil {
		c.addPending(keys)
		c.fail("delete", keys[0], err)
	}
}

func (c *Coordinator) isPending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

func (c *Coordinator) addPending(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		c.pending[key] = struct{}{}
	}
}

// fail switches the coordinator into degraded mode and schedules a probe.
func (c *Coordinator) fail(op, key string, err error) {
	c.metrics.Error(op)

	c.mu.Lock()
	wasDegraded := c.degraded
	c.degraded = true
	c.nextProbe = c.now().Add(c.backoff.Next())
	next := c.nextProbe
	c.mu.Unlock()

	c.metrics.SetDegraded(true)
	entry := c.logger.WithError(err).WithFields(log.Fields{
		"op":         op,
		"key":        key,
		"next_probe": next,
	})
	if wasDegraded {
		entry.Debug("cache operation failed")
		return
	}
	entry.Warn("cache backend failed, serving from store")
}

// available reports whether backend calls should be attempted. While
// degraded, the first caller after the probe deadline pings the backend and
// replays pending invalidations; everybody else bypasses the cache.
func (c *Coordinator) available(ctx context.Context) bool {
	c.mu.Lock()
	if !c.degraded {
		c.mu.Unlock()
		return true
	}
	if c.probing || c.now().Before(c.nextProbe) {
		c.mu.Unlock()
		return false
	}
	c.probing = true
	c.mu.Unlock()

	recovered := c.probe(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.probing = false
	if !recovered {
		c.nextProbe = c.now().Add(c.backoff.Next())
		return false
	}
	if len(c.pending) > 0 {
		// An invalidation slipped in after the replay; probe again right away.
		c.nextProbe = c.now()
		return false
	}
	c.degraded = false
	c.backoff.Reset()
	c.metrics.SetDegraded(false)
	c.logger.Info("cache backend recovered")
	return true
}

func (c *Coordinator) probe(ctx context.Context) bool {
	opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	if err := c.backend.Ping(opCtx); err != nil {
		c.logger.WithError(err).Debug("cache probe failed")
		return false
	}

	// Invalidations keep arriving while we replay; drain a few rounds and
	// stay degraded if the set does not empty.
	for round := 0; round < maxReplayRounds; round++ {
		c.mu.Lock()
		keys := make([]string, 0, len(c.pending))
		for key := range c.pending {
			keys = append(keys, key)
		}
		c.mu.Unlock()

		if len(keys) == 0 {
			return true
		}
		if err := c.backend.Delete(opCtx, keys...); err != nil {
			c.logger.WithError(err).WithField("pending", len(keys)).Debug("replay of pending invalidations failed")
			return false
		}

		c.mu.Lock()
		for _, key := range keys {
			delete(c.pending, key)
		}
		c.mu.Unlock()
		c.logger.WithField("keys", len(keys)).Info("replayed pending cache invalidations")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) == 0
}

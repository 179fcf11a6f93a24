package moderation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// CacheTTL bounds how stale a snapshot may get.
	CacheTTL = 60 * time.Second

	redisSettingsKey     = "settings:moderation"
	redisInvalidateTopic = "settings:moderation:invalidate"
)

type snapshot struct {
	settings  Settings
	fetchedAt time.Time
	gen       uint64
}

// ConfigCache keeps a process-local snapshot of the classifier settings.
//
// Each refresh swaps in a whole new snapshot, so readers never see fields
// from two store generations. A snapshot loaded before the latest Invalidate
// carries an old generation and is never served.
type ConfigCache struct {
	store SettingsStore
	ttl   time.Duration
	now   func() time.Time
	rdb   *redis.Client
	log   *zap.SugaredLogger

	current atomic.Pointer[snapshot]
	gen     atomic.Uint64
	loadMu  sync.Mutex
}

// CacheOption configures a ConfigCache.
type CacheOption func(*ConfigCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ConfigCache) { c.now = now }
}

// WithTTL overrides CacheTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ConfigCache) { c.ttl = ttl }
}

// WithRedis enables cross-instance invalidation.
func WithRedis(rdb *redis.Client) CacheOption {
	return func(c *ConfigCache) { c.rdb = rdb }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(log *zap.SugaredLogger) CacheOption {
	return func(c *ConfigCache) { c.log = log }
}

// NewConfigCache creates an empty cache over store.
func NewConfigCache(store SettingsStore, opts ...CacheOption) *ConfigCache {
	c := &ConfigCache{
		store: store,
		ttl:   CacheTTL,
		now:   time.Now,
		log:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached settings, reloading them when absent, invalidated or older than the TTL.
func (c *ConfigCache) Get(ctx context.Context) (Settings, error) {
	if s, ok := c.fresh(); ok {
		return s, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if s, ok := c.fresh(); ok {
		return s, nil
	}

	gen := c.gen.Load()
	s, err := LoadSettings(ctx, c.store)
	if err != nil {
		return Settings{}, err
	}
	c.current.Store(&snapshot{settings: s, fetchedAt: c.now(), gen: gen})
	return s, nil
}

func (c *ConfigCache) fresh() (Settings, bool) {
	snap := c.current.Load()
	if snap == nil || snap.gen != c.gen.Load() {
		return Settings{}, false
	}
	if c.now().Sub(snap.fetchedAt) > c.ttl {
		return Settings{}, false
	}
	return snap.settings, true
}

// Invalidate drops the snapshot so the next Get reads the store, and tells
// other instances to do the same.
func (c *ConfigCache) Invalidate(ctx context.Context) {
	c.dropLocal()
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, redisSettingsKey).Err(); err != nil {
		c.log.Warnw("delete cached moderation settings failed", "error", err)
	}
	if err := c.rdb.Publish(ctx, redisInvalidateTopic, "1").Err(); err != nil {
		c.log.Warnw("broadcast moderation settings invalidation failed", "error", err)
	}
}

func (c *ConfigCache) dropLocal() {
	c.gen.Add(1)
	c.current.Store(nil)
}

// Watch drops the local snapshot whenever another instance invalidates.
// It blocks until ctx is done.
func (c *ConfigCache) Watch(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	sub := c.rdb.Subscribe(ctx, redisInvalidateTopic)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			c.dropLocal()
			c.log.Debug("moderation settings invalidated by peer")
		}
	}
}

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// CatalogCache caches query results in front of the CatalogStore.
type CatalogCache interface {
	GetActive(ctx context.Context) ([]*catalog.ChallengeSet, bool, error)
	SetActive(ctx context.Context, sets []*catalog.ChallengeSet) error
	GetSet(ctx context.Context, slug string) (*catalog.ChallengeSet, bool, error)
	SetSet(ctx context.Context, set *catalog.ChallengeSet) error
	InvalidateAll(ctx context.Context) error
}

// CacheConfig holds configuration for the cache manager.
type CacheConfig struct {
	Prefix  string
	ListTTL time.Duration
	SetTTL  time.Duration
}

// DefaultCacheConfig returns a default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix:  "sbc",
		ListTTL: 5 * time.Minute,
		SetTTL:  10 * time.Minute,
	}
}

// CacheMetrics tracks cache hit/miss statistics.
type CacheMetrics struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// CacheManager caches catalog reads in Redis. Redis failures degrade to
// cache misses.
type CacheManager struct {
	client  RedisClient
	config  CacheConfig
	log     *logger.Logger
	metrics CacheMetrics
	healthy atomic.Bool
}

// NewCacheManager creates a new CacheManager instance.
func NewCacheManager(ctx context.Context, client RedisClient, cfg CacheConfig, log *logger.Logger) *CacheManager {
	if log == nil {
		log = logger.Default()
	}

	cm := &CacheManager{
		client: client,
		config: cfg,
		log:    log.WithComponent("cache"),
	}

	if client == nil {
		return cm
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		cm.log.WithError(err).Warn("Redis connection failed, cache will be disabled")
		return cm
	}
	cm.healthy.Store(true)
	return cm
}

// IsHealthy returns whether the cache is operational.
func (cm *CacheManager) IsHealthy() bool {
	return cm.client != nil && cm.healthy.Load()
}

// GetMetrics returns current cache metrics.
func (cm *CacheManager) GetMetrics() CacheMetrics {
	return CacheMetrics{
		Hits:   atomic.LoadUint64(&cm.metrics.Hits),
		Misses: atomic.LoadUint64(&cm.metrics.Misses),
		Errors: atomic.LoadUint64(&cm.metrics.Errors),
	}
}

// GetActive returns the cached active-set listing.
func (cm *CacheManager) GetActive(ctx context.Context) ([]*catalog.ChallengeSet, bool, error) {
	var sets []*catalog.ChallengeSet
	ok, err := cm.get(ctx, cm.activeKey(), &sets)
	if !ok || err != nil {
		return nil, false, err
	}
	return sets, true, nil
}

// SetActive caches the active-set listing.
func (cm *CacheManager) SetActive(ctx context.Context, sets []*catalog.ChallengeSet) error {
	return cm.set(ctx, cm.activeKey(), sets, cm.config.ListTTL)
}

// GetSet returns a cached set by slug.
func (cm *CacheManager) GetSet(ctx context.Context, slug string) (*catalog.ChallengeSet, bool, error) {
	var set catalog.ChallengeSet
	ok, err := cm.get(ctx, cm.setKey(slug), &set)
	if !ok || err != nil {
		return nil, false, err
	}
	return &set, true, nil
}

// SetSet caches a set under its slug.
func (cm *CacheManager) SetSet(ctx context.Context, set *catalog.ChallengeSet) error {
	if set == nil {
		return nil
	}
	return cm.set(ctx, cm.setKey(set.Slug), set, cm.config.SetTTL)
}

// InvalidateAll clears every catalog cache entry.
func (cm *CacheManager) InvalidateAll(ctx context.Context) error {
	if !cm.IsHealthy() {
		return nil
	}

	pattern := fmt.Sprintf("%s:*", cm.config.Prefix)
	keys, err := cm.client.Keys(ctx, pattern)
	if err != nil {
		atomic.AddUint64(&cm.metrics.Errors, 1)
		return fmt.Errorf("failed to list cache keys: %w", err)
	}

	if len(keys) > 0 {
		if err := cm.client.Del(ctx, keys...); err != nil {
			atomic.AddUint64(&cm.metrics.Errors, 1)
			return fmt.Errorf("failed to invalidate caches: %w", err)
		}
	}

	cm.log.Info("invalidated catalog caches", "keys_deleted", len(keys))
	return nil
}

// Close closes the underlying client.
func (cm *CacheManager) Close() error {
	if cm.client != nil {
		return cm.client.Close()
	}
	return nil
}

func (cm *CacheManager) get(ctx context.Context, key string, dst any) (bool, error) {
	if !cm.IsHealthy() {
		return false, nil
	}

	data, err := cm.client.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		atomic.AddUint64(&cm.metrics.Misses, 1)
		return false, nil
	}
	if err != nil {
		atomic.AddUint64(&cm.metrics.Errors, 1)
		cm.log.WithError(err).Warn("cache get failed", "key", key)
		return false, nil
	}

	if err := json.Unmarshal([]byte(data), dst); err != nil {
		atomic.AddUint64(&cm.metrics.Errors, 1)
		cm.log.WithError(err).Warn("invalid cache entry", "key", key)
		_ = cm.client.Del(ctx, key)
		return false, nil
	}

	atomic.AddUint64(&cm.metrics.Hits, 1)
	return true, nil
}

func (cm *CacheManager) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !cm.IsHealthy() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := cm.client.Set(ctx, key, string(data), ttl); err != nil {
		atomic.AddUint64(&cm.metrics.Errors, 1)
		cm.log.WithError(err).Warn("cache set failed", "key", key)
		return nil
	}

	cm.log.Debug("cached", "key", key, "size", len(data), "ttl", ttl)
	return nil
}

func (cm *CacheManager) activeKey() string {
	return fmt.Sprintf("%s:active", cm.config.Prefix)
}

func (cm *CacheManager) setKey(slug string) string {
	return fmt.Sprintf("%s:set:%s", cm.config.Prefix, hashKey(slug))
}

// hashKey shortens an arbitrary string into a key-safe token.
func hashKey(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:16])
}

// NullCacheManager is a no-op cache for when Redis is not configured.
type NullCacheManager struct{}

// NewNullCacheManager creates a no-op cache manager.
func NewNullCacheManager() *NullCacheManager {
	return &NullCacheManager{}
}

// GetActive always returns a cache miss.
func (n *NullCacheManager) GetActive(ctx context.Context) ([]*catalog.ChallengeSet, bool, error) {
	return nil, false, nil
}

// SetActive does nothing.
func (n *NullCacheManager) SetActive(ctx context.Context, sets []*catalog.ChallengeSet) error {
	return nil
}

// GetSet always returns a cache miss.
func (n *NullCacheManager) GetSet(ctx context.Context, slug string) (*catalog.ChallengeSet, bool, error) {
	return nil, false, nil
}

// SetSet does nothing.
func (n *NullCacheManager) SetSet(ctx context.Context, set *catalog.ChallengeSet) error {
	return nil
}

// InvalidateAll does nothing.
func (n *NullCacheManager) InvalidateAll(ctx context.Context) error {
	return nil
}

// Package cache stores engine snapshots and recent execution results in
// Redis, with an in-memory store standing in when Redis is unreachable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

// Store is the backend-neutral cache interface. Values are serialized as
// JSON so both backends behave identically.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config represents cache configuration
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// New returns a Redis-backed store when configured and reachable, otherwise
// an in-memory store. Construction never fails; degraded mode is logged.
func New(cfg Config, log logger.Logger) Store {
	if cfg.Enabled {
		store, err := NewRedisStore(cfg)
		if err == nil {
			return store
		}
		log.Warn("Redis不可用，降级为内存缓存", "error", err)
	}
	return NewMemoryStore(0)
}

const (
	keyTierStats       = "stats:tiers"
	keyOperatorStats   = "stats:operators"
	keySandboxStats    = "stats:sandbox"
	keyEvolutionStatus = "evolution:status"
)

// Cache layers the engine's key schema over a Store.
type Cache struct {
	store Store
}

// NewCache creates a Cache over the given store.
func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

// SetTierStats caches a tier statistics snapshot.
func (c *Cache) SetTierStats(ctx context.Context, stats interface{}, expiration time.Duration) error {
	return c.store.Set(ctx, keyTierStats, stats, expiration)
}

// GetTierStats loads the cached tier statistics snapshot.
func (c *Cache) GetTierStats(ctx context.Context, dest interface{}) error {
	return c.store.Get(ctx, keyTierStats, dest)
}

// SetOperatorStats caches a per-operator statistics snapshot.
func (c *Cache) SetOperatorStats(ctx context.Context, stats interface{}, expiration time.Duration) error {
	return c.store.Set(ctx, keyOperatorStats, stats, expiration)
}

// GetOperatorStats loads the cached per-operator statistics snapshot.
func (c *Cache) GetOperatorStats(ctx context.Context, dest interface{}) error {
	return c.store.Get(ctx, keyOperatorStats, dest)
}

// SetSandboxStats caches an execution wrapper statistics snapshot.
func (c *Cache) SetSandboxStats(ctx context.Context, stats interface{}, expiration time.Duration) error {
	return c.store.Set(ctx, keySandboxStats, stats, expiration)
}

// GetSandboxStats loads the cached execution wrapper statistics snapshot.
func (c *Cache) GetSandboxStats(ctx context.Context, dest interface{}) error {
	return c.store.Get(ctx, keySandboxStats, dest)
}

// SetEvolutionStatus caches the current evolution loop status.
func (c *Cache) SetEvolutionStatus(ctx context.Context, status interface{}, expiration time.Duration) error {
	return c.store.Set(ctx, keyEvolutionStatus, status, expiration)
}

// GetEvolutionStatus loads the cached evolution loop status.
func (c *Cache) GetEvolutionStatus(ctx context.Context, dest interface{}) error {
	return c.store.Get(ctx, keyEvolutionStatus, dest)
}

// SetExecutionResult caches one candidate execution result.
func (c *Cache) SetExecutionResult(ctx context.Context, candidateID string, result interface{}, expiration time.Duration) error {
	return c.store.Set(ctx, executionKey(candidateID), result, expiration)
}

// GetExecutionResult loads a cached candidate execution result.
func (c *Cache) GetExecutionResult(ctx context.Context, candidateID string, dest interface{}) error {
	return c.store.Get(ctx, executionKey(candidateID), dest)
}

// AcquireLock takes a named lock for the given duration. Returns false when
// another holder owns it.
func (c *Cache) AcquireLock(ctx context.Context, name string, expiration time.Duration) (bool, error) {
	return c.store.SetNX(ctx, lockKey(name), 1, expiration)
}

// ReleaseLock releases a named lock.
func (c *Cache) ReleaseLock(ctx context.Context, name string) error {
	return c.store.Delete(ctx, lockKey(name))
}

// HealthCheck reports whether the underlying store is reachable.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.store.HealthCheck(ctx)
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func executionKey(candidateID string) string {
	return fmt.Sprintf("execution:%s", candidateID)
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tierSnapshot struct {
	Attempts  int     `json:"attempts"`
	Successes int     `json:"successes"`
	Rate      float64 `json:"rate"`
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(100)
	defer store.Close()
	ctx := context.Background()

	t.Run("basic operations", func(t *testing.T) {
		in := tierSnapshot{Attempts: 10, Successes: 7, Rate: 0.7}
		require.NoError(t, store.Set(ctx, "key1", in, time.Minute))

		var out tierSnapshot
		require.NoError(t, store.Get(ctx, "key1", &out))
		assert.Equal(t, in, out)

		exists, err := store.Exists(ctx, "key1")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, store.Delete(ctx, "key1"))

		err = store.Get(ctx, "key1", &out)
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("expiration", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "short", "value", 30*time.Millisecond))

		var got string
		require.NoError(t, store.Get(ctx, "short", &got))
		assert.Equal(t, "value", got)

		// 等待过期
		time.Sleep(60 * time.Millisecond)

		err := store.Get(ctx, "short", &got)
		assert.ErrorIs(t, err, ErrMiss)

		exists, err := store.Exists(ctx, "short")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("setnx", func(t *testing.T) {
		ok, err := store.SetNX(ctx, "lock", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.SetNX(ctx, "lock", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "second acquire should fail while the key lives")

		require.NoError(t, store.Delete(ctx, "lock"))
		ok, err = store.SetNX(ctx, "lock", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("setnx after expiry", func(t *testing.T) {
		ok, err := store.SetNX(ctx, "ttl_lock", 1, 20*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)

		time.Sleep(40 * time.Millisecond)

		ok, err = store.SetNX(ctx, "ttl_lock", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "expired lock should be reacquirable")
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, store.HealthCheck(ctx))
	})
}

func TestMemoryStoreEvictsLRU(t *testing.T) {
	store := NewMemoryStore(3)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, store.Set(ctx, "b", 2, time.Minute))
	require.NoError(t, store.Set(ctx, "c", 3, time.Minute))

	// 访问a和c，b成为最久未使用
	var v int
	require.NoError(t, store.Get(ctx, "a", &v))
	require.NoError(t, store.Get(ctx, "c", &v))

	require.NoError(t, store.Set(ctx, "d", 4, time.Minute))
	assert.Equal(t, 3, store.Size())

	err := store.Get(ctx, "b", &v)
	assert.ErrorIs(t, err, ErrMiss)
	require.NoError(t, store.Get(ctx, "d", &v))
	assert.Equal(t, 4, v)
}

func TestMemoryStoreOverwriteDoesNotEvict(t *testing.T) {
	store := NewMemoryStore(2)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, store.Set(ctx, "b", 2, time.Minute))
	require.NoError(t, store.Set(ctx, "a", 10, time.Minute))

	var v int
	require.NoError(t, store.Get(ctx, "a", &v))
	assert.Equal(t, 10, v)
	require.NoError(t, store.Get(ctx, "b", &v))
	assert.Equal(t, 2, v)
}

func TestMemoryStoreRejectsUnmarshalableValue(t *testing.T) {
	store := NewMemoryStore(10)
	defer store.Close()

	err := store.Set(context.Background(), "bad", func() {}, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal cache value")
}

func TestMemoryStoreCloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore(10)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestCacheKeySchema(t *testing.T) {
	store := NewMemoryStore(100)
	defer store.Close()
	c := NewCache(store)
	ctx := context.Background()

	t.Run("tier stats", func(t *testing.T) {
		in := map[string]tierSnapshot{"tier3": {Attempts: 4, Successes: 1, Rate: 0.25}}
		require.NoError(t, c.SetTierStats(ctx, in, time.Minute))

		var out map[string]tierSnapshot
		require.NoError(t, c.GetTierStats(ctx, &out))
		assert.Equal(t, in, out)
	})

	t.Run("execution results are keyed by candidate", func(t *testing.T) {
		require.NoError(t, c.SetExecutionResult(ctx, "cand-1", map[string]float64{"sharpe_ratio": 1.2}, time.Minute))
		require.NoError(t, c.SetExecutionResult(ctx, "cand-2", map[string]float64{"sharpe_ratio": -0.4}, time.Minute))

		var out map[string]float64
		require.NoError(t, c.GetExecutionResult(ctx, "cand-1", &out))
		assert.InDelta(t, 1.2, out["sharpe_ratio"], 1e-9)

		require.NoError(t, c.GetExecutionResult(ctx, "cand-2", &out))
		assert.InDelta(t, -0.4, out["sharpe_ratio"], 1e-9)

		err := c.GetExecutionResult(ctx, "cand-3", &out)
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("locks", func(t *testing.T) {
		ok, err := c.AcquireLock(ctx, "evolution", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = c.AcquireLock(ctx, "evolution", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, c.ReleaseLock(ctx, "evolution"))
		ok, err = c.AcquireLock(ctx, "evolution", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("evolution status", func(t *testing.T) {
		require.NoError(t, c.SetEvolutionStatus(ctx, map[string]int{"generation": 12}, time.Minute))

		var out map[string]int
		require.NoError(t, c.GetEvolutionStatus(ctx, &out))
		assert.Equal(t, 12, out["generation"])
	})
}

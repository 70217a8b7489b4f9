/*
Copyright 2024 Earmark Commerce Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package reservation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earmark-commerce/earmark/model"
)

func newTestCache(t *testing.T) (*Cache, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client), client
}

func TestCheckAndReserve_Success(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetAvailable(ctx, "prod_1", 10))
	require.NoError(t, cache.SetAvailable(ctx, "prod_2", 5))

	ok, err := cache.CheckAndReserve(ctx, map[string]int64{"prod_1": 3, "prod_2": 2})
	require.NoError(t, err)
	assert.True(t, ok)

	q1, err := cache.QueuedQuantity(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), q1)
	q2, err := cache.QueuedQuantity(ctx, "prod_2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), q2)
}

func TestCheckAndReserve_InsufficientLeavesNothing(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetAvailable(ctx, "prod_1", 10))
	require.NoError(t, cache.SetAvailable(ctx, "prod_2", 1))

	// prod_2 cannot absorb 2, so prod_1 must not be reserved either.
	ok, err := cache.CheckAndReserve(ctx, map[string]int64{"prod_1": 3, "prod_2": 2})
	require.NoError(t, err)
	assert.False(t, ok)

	q1, err := cache.QueuedQuantity(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), q1)
	q2, err := cache.QueuedQuantity(ctx, "prod_2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), q2)
}

func TestCheckAndReserve_MissingAvailabilityFailsClosed(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetAvailable(ctx, "prod_1", 10))

	// prod_ghost has no published cap: unknown stock is no stock.
	ok, err := cache.CheckAndReserve(ctx, map[string]int64{"prod_1": 1, "prod_ghost": 1})
	require.NoError(t, err)
	assert.False(t, ok)

	q1, err := cache.QueuedQuantity(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), q1)
}

func TestCheckAndReserve_ExactFit(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetAvailable(ctx, "prod_1", 5))

	ok, err := cache.CheckAndReserve(ctx, map[string]int64{"prod_1": 5})
	require.NoError(t, err)
	assert.True(t, ok)

	// The cap is now fully consumed.
	ok, err = cache.CheckAndReserve(ctx, map[string]int64{"prod_1": 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckAndReserve_RejectsNonPositiveQuantity(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetAvailable(ctx, "prod_1", 5))

	_, err := cache.CheckAndReserve(ctx, map[string]int64{"prod_1": 0})
	assert.Error(t, err)

	_, err = cache.CheckAndReserve(ctx, map[string]int64{})
	assert.Error(t, err)
}

// Oversell property: many concurrent requests race over a small cap, and the
// total reserved quantity must never exceed it.
func TestCheckAndReserve_ConcurrentNeverOversells(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	const capacity = 50
	require.NoError(t, cache.SetAvailable(ctx, "prod_hot", capacity))
	require.NoError(t, cache.SetAvailable(ctx, "prod_cold", 1000))

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cache.CheckAndReserve(ctx, map[string]int64{"prod_hot": 3, "prod_cold": 1})
			require.NoError(t, err)
			if ok {
				granted.Add(3)
			}
		}()
	}
	wg.Wait()

	queued, err := cache.QueuedQuantity(ctx, "prod_hot")
	require.NoError(t, err)
	assert.Equal(t, granted.Load(), queued)
	assert.LessOrEqual(t, queued, int64(capacity))
	assert.Greater(t, queued, int64(0))
}

func TestReleaseReserved(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetAvailable(ctx, "prod_1", 10))
	ok, err := cache.CheckAndReserve(ctx, map[string]int64{"prod_1": 4})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cache.ReleaseReserved(ctx, map[string]int64{"prod_1": 4}))

	queued, err := cache.QueuedQuantity(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), queued)
}

func TestPendingOrderLifecycle(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	pending := model.PendingOrder{
		OrderID:    "ord_abc123",
		TotalPrice: 42.50,
		Products:   map[string]int64{"prod_1": 2, "prod_2": 1},
		ExpiresAt:  time.Now().Add(24 * time.Hour).Truncate(time.Millisecond),
	}
	require.NoError(t, cache.AddPendingOrder(ctx, pending))

	got, found, err := cache.PendingOrder(ctx, "ord_abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pending.TotalPrice, got.TotalPrice)
	assert.Equal(t, pending.Products, got.Products)

	count, err := cache.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	removed, err := cache.RemovePendingOrder(ctx, "ord_abc123")
	require.NoError(t, err)
	assert.True(t, removed)

	// Second removal is a clean no-op.
	removed, err = cache.RemovePendingOrder(ctx, "ord_abc123")
	require.NoError(t, err)
	assert.False(t, removed)

	_, found, err = cache.PendingOrder(ctx, "ord_abc123")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExpiredOrders(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now()

	for i, expiry := range []time.Time{
		now.Add(-2 * time.Hour),
		now.Add(-time.Minute),
		now.Add(24 * time.Hour),
	} {
		require.NoError(t, cache.AddPendingOrder(ctx, model.PendingOrder{
			OrderID:   fmt.Sprintf("ord_%d", i),
			Products:  map[string]int64{"prod_1": 1},
			ExpiresAt: expiry,
		}))
	}

	expired, err := cache.ExpiredOrders(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "ord_0", expired[0].OrderID)
	assert.Equal(t, "ord_1", expired[1].OrderID)

	// The read is non-destructive, entries stay until explicitly removed.
	count, err := cache.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

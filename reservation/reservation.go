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

// Package reservation holds the Redis-side primitives of the reservation
// ledger: the atomic multi-product check-and-reserve script, the queued
// counters it maintains, and the pending-order set that records every
// outstanding reservation until it settles or is reclaimed.
package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/earmark-commerce/earmark/model"
)

const (
	queuedKeyPrefix    = "earmark:inventory:queued:"
	availableKeyPrefix = "earmark:inventory:available:"
	lockKeyPrefix      = "earmark:lock:product:"
	pendingOrdersKey   = "earmark:pending:orders"
	pendingIndexKey    = "earmark:pending:index"
)

// QueuedKey is the counter of quantities reserved but not yet settled for a
// product.
func QueuedKey(productID string) string {
	return queuedKeyPrefix + productID
}

// AvailableKey is the cap the check-and-reserve script enforces for a
// product.
func AvailableKey(productID string) string {
	return availableKeyPrefix + productID
}

// LockKey is the per-product mutual exclusion key.
func LockKey(productID string) string {
	return lockKeyPrefix + productID
}

// checkAndReserveScript is evaluated with KEYS[1..n] the queued counters,
// KEYS[n+1..2n] the availability caps, ARGV[1] = n and ARGV[2..n+1] the
// requested quantities. It checks every product before incrementing any, so
// a request either reserves all of its quantities or none of them. A missing
// availability cap fails the whole request: unknown stock is treated as no
// stock.
const checkAndReserveScript = `
local n = tonumber(ARGV[1])
for i = 1, n do
	local available = redis.call('GET', KEYS[n + i])
	if not available then
		return 0
	end
	local queued = tonumber(redis.call('GET', KEYS[i]) or '0')
	if queued + tonumber(ARGV[i + 1]) > tonumber(available) then
		return 0
	end
end
for i = 1, n do
	redis.call('INCRBY', KEYS[i], ARGV[i + 1])
end
return 1
`

// Cache wraps a Redis client with the reservation ledger operations.
type Cache struct {
	client  redis.UniversalClient
	reserve *redis.Script
}

func NewCache(client redis.UniversalClient) *Cache {
	return &Cache{
		client:  client,
		reserve: redis.NewScript(checkAndReserveScript),
	}
}

// CheckAndReserve atomically reserves the requested quantities across all
// products, or reserves nothing. Products are visited in sorted id order so
// concurrent calls touch keys deterministically. Returns false when any
// product cannot absorb its requested quantity.
func (c *Cache) CheckAndReserve(ctx context.Context, quantities map[string]int64) (bool, error) {
	if len(quantities) == 0 {
		return false, errors.New("no quantities to reserve")
	}

	ids := model.SortedProductIDs(quantities)
	keys := make([]string, 0, 2*len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, len(ids))
	for _, id := range ids {
		keys = append(keys, QueuedKey(id))
	}
	for _, id := range ids {
		keys = append(keys, AvailableKey(id))
	}
	for _, id := range ids {
		if quantities[id] <= 0 {
			return false, fmt.Errorf("quantity for product %s must be positive", id)
		}
		args = append(args, quantities[id])
	}

	result, err := c.reserve.Run(ctx, c.client, keys, args...).Int64()
	if err != nil {
		return false, errors.Wrap(err, "check-and-reserve script failed")
	}
	return result == 1, nil
}

// ReleaseReserved walks the reservation back by decrementing each queued
// counter. Callers only invoke this for quantities a successful
// CheckAndReserve actually took.
func (c *Cache) ReleaseReserved(ctx context.Context, quantities map[string]int64) error {
	pipe := c.client.TxPipeline()
	for _, id := range model.SortedProductIDs(quantities) {
		pipe.DecrBy(ctx, QueuedKey(id), quantities[id])
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "failed to release reserved quantities")
}

// QueuedQuantity returns the currently reserved quantity for a product.
// A missing counter reads as zero.
func (c *Cache) QueuedQuantity(ctx context.Context, productID string) (int64, error) {
	val, err := c.client.Get(ctx, QueuedKey(productID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// SetAvailable publishes the availability cap the reserve script enforces.
// The inventory side calls this whenever durable stock changes.
func (c *Cache) SetAvailable(ctx context.Context, productID string, quantity int64) error {
	return c.client.Set(ctx, AvailableKey(productID), quantity, 0).Err()
}

// Available returns the published cap and whether one exists.
func (c *Cache) Available(ctx context.Context, productID string) (int64, bool, error) {
	val, err := c.client.Get(ctx, AvailableKey(productID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Pending-order members are "<order id>:<json>" so the order id is readable
// in redis-cli and the payload travels with the entry. The index hash maps
// order id to the full member for O(1) removal.
func pendingMember(pending model.PendingOrder) (string, error) {
	payload, err := json.Marshal(pending)
	if err != nil {
		return "", err
	}
	return pending.OrderID + ":" + string(payload), nil
}

func parsePendingMember(member string) (model.PendingOrder, error) {
	var pending model.PendingOrder
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return pending, fmt.Errorf("malformed pending order member: %q", member)
	}
	if err := json.Unmarshal([]byte(parts[1]), &pending); err != nil {
		return pending, errors.Wrapf(err, "malformed pending order payload for %s", parts[0])
	}
	return pending, nil
}

// AddPendingOrder records an outstanding reservation, scored by its expiry
// instant so expired entries are a single range query away. Idempotent by
// order id: re-adding replaces the previous entry.
func (c *Cache) AddPendingOrder(ctx context.Context, pending model.PendingOrder) error {
	member, err := pendingMember(pending)
	if err != nil {
		return errors.Wrap(err, "failed to encode pending order")
	}

	prev, err := c.client.HGet(ctx, pendingIndexKey, pending.OrderID).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := c.client.TxPipeline()
	if prev != "" && prev != member {
		pipe.ZRem(ctx, pendingOrdersKey, prev)
	}
	pipe.ZAdd(ctx, pendingOrdersKey, redis.Z{
		Score:  float64(pending.ExpiresAt.UnixMilli()),
		Member: member,
	})
	pipe.HSet(ctx, pendingIndexKey, pending.OrderID, member)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "failed to add pending order")
}

// PendingOrder looks up one outstanding reservation by order id.
func (c *Cache) PendingOrder(ctx context.Context, orderID string) (model.PendingOrder, bool, error) {
	member, err := c.client.HGet(ctx, pendingIndexKey, orderID).Result()
	if err == redis.Nil {
		return model.PendingOrder{}, false, nil
	}
	if err != nil {
		return model.PendingOrder{}, false, err
	}
	pending, err := parsePendingMember(member)
	if err != nil {
		return model.PendingOrder{}, false, err
	}
	return pending, true, nil
}

// RemovePendingOrder deletes the reservation record for an order and reports
// whether it was present. Removing an already-removed order is a no-op, so
// settlement and reclamation can race without double-releasing.
func (c *Cache) RemovePendingOrder(ctx context.Context, orderID string) (bool, error) {
	member, err := c.client.HGet(ctx, pendingIndexKey, orderID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pipe := c.client.TxPipeline()
	zrem := pipe.ZRem(ctx, pendingOrdersKey, member)
	pipe.HDel(ctx, pendingIndexKey, orderID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(err, "failed to remove pending order")
	}
	return zrem.Val() > 0, nil
}

// ExpiredOrders returns every pending order whose expiry is at or before
// now. Read-only: the caller decides what to do with each entry and removes
// it explicitly once handled, so a crashed sweep leaves everything in place
// for the next one.
func (c *Cache) ExpiredOrders(ctx context.Context, now time.Time) ([]model.PendingOrder, error) {
	members, err := c.client.ZRangeByScore(ctx, pendingOrdersKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read expired pending orders")
	}

	orders := make([]model.PendingOrder, 0, len(members))
	for _, member := range members {
		pending, err := parsePendingMember(member)
		if err != nil {
			return nil, err
		}
		orders = append(orders, pending)
	}
	return orders, nil
}

// PendingCount returns the number of outstanding reservations.
func (c *Cache) PendingCount(ctx context.Context) (int64, error) {
	return c.client.ZCard(ctx, pendingOrdersKey).Result()
}

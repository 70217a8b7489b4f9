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

package earmark

import (
	"context"
	"time"

	rediscache "github.com/go-redis/cache/v9"
	"github.com/sirupsen/logrus"

	"github.com/earmark-commerce/earmark/config"
	"github.com/earmark-commerce/earmark/internal/apierror"
	"github.com/earmark-commerce/earmark/model"
)

func productCacheKey(productID string) string {
	return "earmark:product:" + productID
}

// RegisterProduct creates or updates a product in the inventory registry and
// republishes its availability cap.
func (e *Earmark) RegisterProduct(ctx context.Context, product *model.InventoryProduct) (*model.InventoryProduct, error) {
	if product.ProductID == "" {
		product.ProductID = model.GenerateUUIDWithSuffix("prod")
	}
	if product.Name == "" {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Product name is required", nil)
	}

	if err := e.datasource.UpsertInventoryProduct(ctx, product); err != nil {
		return nil, err
	}

	quantity, err := e.datasource.ProductQuantity(ctx, product.ProductID)
	if err != nil {
		return nil, err
	}
	product.Quantity = &quantity
	if err := e.reservations.SetAvailable(ctx, product.ProductID, quantity); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to publish availability", err)
	}

	e.invalidateProductCache(ctx, product.ProductID)
	return product, nil
}

// AdjustQuantity applies one signed stock movement to a product under its
// lock, republishes the availability cap and notifies downstream consumers.
func (e *Earmark) AdjustQuantity(ctx context.Context, productID string, delta int64) (*model.QuantityChange, error) {
	ctx, span := tracer.Start(ctx, "Adjusting Product Quantity")
	defer span.End()

	if delta == 0 {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Quantity adjustment cannot be zero", nil)
	}

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	locks := e.lockProducts(cfg, []string{productID})
	if err := locks.Acquire(ctx); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Could not lock product", err)
	}
	defer locks.Release(ctx)

	current, err := e.datasource.ProductQuantity(ctx, productID)
	if err != nil {
		return nil, err
	}
	if current+delta < 0 {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Adjustment would drive stock negative", productID)
	}

	change := &model.QuantityChange{ProductID: productID, Quantity: delta}
	if err := e.datasource.RecordQuantityChange(ctx, change); err != nil {
		return nil, err
	}

	if err := e.reservations.SetAvailable(ctx, productID, current+delta); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to publish availability", err)
	}

	e.invalidateProductCache(ctx, productID)
	if err := SendWebhook(NewWebhook{
		Event:   "inventory.quantity_changed",
		Payload: model.QuantityNotification{ProductID: productID, Quantity: delta},
	}); err != nil {
		logrus.Errorf("failed to enqueue quantity notification for %s: %v", productID, err)
	}

	return change, nil
}

// GetProduct reads one product through the cache. The cached view includes
// the committed quantity, so it is invalidated on every stock movement.
func (e *Earmark) GetProduct(ctx context.Context, productID string) (*model.InventoryProduct, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	var product model.InventoryProduct
	err = e.productCache.Once(&rediscache.Item{
		Ctx:   ctx,
		Key:   productCacheKey(productID),
		Value: &product,
		TTL:   time.Duration(cfg.Inventory.CacheTTLSeconds) * time.Second,
		Do: func(*rediscache.Item) (interface{}, error) {
			products, err := e.datasource.GetInventoryProducts(ctx, []string{productID})
			if err != nil {
				return nil, err
			}
			if len(products) == 0 {
				return nil, apierror.NewAPIError(apierror.ErrNotFound, "Product not found", productID)
			}
			return &products[0], nil
		},
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts returns the inventory registry with committed quantities.
func (e *Earmark) ListProducts(ctx context.Context) ([]model.InventoryProduct, error) {
	return e.datasource.ListInventoryProducts(ctx)
}

func (e *Earmark) invalidateProductCache(ctx context.Context, productID string) {
	if err := e.productCache.Delete(ctx, productCacheKey(productID)); err != nil && err != rediscache.ErrCacheMiss {
		logrus.Warnf("failed to invalidate product cache for %s: %v", productID, err)
	}
}

// HandleInventorySettlement is the inventory-side consumer of a payment
// lifecycle event. Under the inventory scope gate it resolves the pending
// reservation: a success debits committed stock and releases the queued
// quantities, a failure or cancellation just releases them. Either way the
// pending entry is removed exactly once.
func (e *Earmark) HandleInventorySettlement(ctx context.Context, event model.PaymentEvent) error {
	ctx, span := tracer.Start(ctx, "Settling Inventory From Payment Event")
	defer span.End()

	first, err := e.datasource.MarkEventProcessed(ctx, event.OrderID, event.EventType, model.ScopeInventory)
	if err != nil {
		return err
	}
	if !first {
		logrus.Infof("payment event %s for order %s already processed on inventory side, skipping", event.EventType, event.OrderID)
		return nil
	}

	pending, found, err := e.reservations.PendingOrder(ctx, event.OrderID)
	if err != nil {
		return err
	}
	if !found {
		// Reclaimed already, or an order this system never reserved for.
		logrus.Warnf("no pending reservation for order %s on %s, nothing to settle", event.OrderID, event.EventType)
		return nil
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	ids := model.SortedProductIDs(pending.Products)
	locks := e.lockProducts(cfg, ids)
	if err := locks.Acquire(ctx); err != nil {
		return err
	}
	defer locks.Release(ctx)

	// The removal is the commit point shared with the reclaimer: whoever
	// removes the entry owns releasing its quantities. If the reclaimer beat
	// this handler to it while we waited on the locks, there is nothing left
	// to settle.
	removed, err := e.reservations.RemovePendingOrder(ctx, event.OrderID)
	if err != nil {
		return err
	}
	if !removed {
		logrus.Warnf("reservation for order %s resolved while settling %s, skipping", event.OrderID, event.EventType)
		return nil
	}

	if event.EventType == model.EventPaymentSuccess {
		if err := e.debitCommittedStock(ctx, pending); err != nil {
			return err
		}
	}

	if err := e.reservations.ReleaseReserved(ctx, pending.Products); err != nil {
		return err
	}

	logrus.Infof("inventory settled for order %s on %s", event.OrderID, event.EventType)
	return nil
}

// debitCommittedStock turns a paid reservation into real stock movements:
// one negative ledger entry per product, a refreshed availability cap and a
// downstream notification.
func (e *Earmark) debitCommittedStock(ctx context.Context, pending model.PendingOrder) error {
	for _, id := range model.SortedProductIDs(pending.Products) {
		quantity := pending.Products[id]
		change := &model.QuantityChange{ProductID: id, Quantity: -quantity}
		if err := e.datasource.RecordQuantityChange(ctx, change); err != nil {
			return err
		}

		committed, err := e.datasource.ProductQuantity(ctx, id)
		if err != nil {
			return err
		}
		if err := e.reservations.SetAvailable(ctx, id, committed); err != nil {
			return err
		}

		e.invalidateProductCache(ctx, id)
		if err := SendWebhook(NewWebhook{
			Event:   "inventory.quantity_changed",
			Payload: model.QuantityNotification{ProductID: id, Quantity: -quantity},
		}); err != nil {
			logrus.Errorf("failed to enqueue quantity notification for %s: %v", id, err)
		}
	}
	return nil
}

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

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/earmark-commerce/earmark/config"
	"github.com/earmark-commerce/earmark/internal/apierror"
	redlock "github.com/earmark-commerce/earmark/internal/lock"
	"github.com/earmark-commerce/earmark/model"
	"github.com/earmark-commerce/earmark/reservation"
)

var (
	tracer = otel.Tracer("earmark.orders")
)

// CreateOrder is the check-and-reserve operation: under per-product locks it
// validates the requested products, atomically reserves their quantities,
// persists the order in PROCESSING and records the pending reservation with
// its expiry. Either all of that happens or none of it does.
func (e *Earmark) CreateOrder(ctx context.Context, req *model.OrderRequest) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "Creating Order With Reservation",
		trace.WithAttributes(attribute.Int("order.product_count", len(req.Products))))
	defer span.End()

	if len(req.Products) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Order must contain at least one product", nil)
	}
	for id, quantity := range req.Products {
		if quantity <= 0 {
			return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Product quantities must be positive", id)
		}
	}

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	ids := model.SortedProductIDs(req.Products)
	locks := e.lockProducts(cfg, ids)
	if err := locks.Acquire(ctx); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Could not lock requested products", err)
	}
	defer locks.Release(ctx)

	items, totalPrice, err := e.validateProducts(ctx, req.Products)
	if err != nil {
		return nil, err
	}

	reserved, err := e.reservations.CheckAndReserve(ctx, req.Products)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve inventory", err)
	}
	if !reserved {
		return nil, apierror.NewInsufficientInventoryError(ids)
	}

	// Inventory is reserved from this point on. Any later failure must walk
	// the reservation back before returning.
	order := &model.Order{
		OrderID:     model.GenerateUUIDWithSuffix("ord"),
		UserID:      req.UserID,
		Status:      StatusProcessing,
		TotalPrice:  totalPrice,
		Address:     req.Address,
		PhoneNumber: req.PhoneNumber,
		Items:       items,
	}
	if err := e.datasource.CreateOrder(ctx, order); err != nil {
		e.rollbackReservation(ctx, req.Products)
		return nil, err
	}

	pending := model.PendingOrder{
		OrderID:    order.OrderID,
		TotalPrice: totalPrice,
		Products:   req.Products,
		ExpiresAt:  time.Now().Add(reservationTTL(cfg)),
	}
	if err := e.reservations.AddPendingOrder(ctx, pending); err != nil {
		e.rollbackReservation(ctx, req.Products)
		if statusErr := e.datasource.UpdateOrderStatus(ctx, order.OrderID, StatusFailed); statusErr != nil {
			logrus.Errorf("failed to mark order %s failed after pending write error: %v", order.OrderID, statusErr)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record pending reservation", err)
	}

	logrus.Infof("order %s created with %d products reserved", order.OrderID, len(ids))
	return order, nil
}

// lockProducts builds the per-product lock set every multi-product mutation
// runs under.
func (e *Earmark) lockProducts(cfg *config.Configuration, productIDs []string) *redlock.LockSet {
	lockKeys := make([]string, len(productIDs))
	for i, id := range productIDs {
		lockKeys[i] = reservation.LockKey(id)
	}
	return redlock.NewLockSet(e.redis, lockKeys,
		time.Duration(cfg.Reservation.LockWaitSeconds)*time.Second,
		time.Duration(cfg.Reservation.LockLeaseSeconds)*time.Second,
		redlock.RetryPolicy{
			Attempts:    cfg.Reservation.LockRetryAttempts,
			BackoffBase: time.Duration(cfg.Reservation.LockBackoffBaseMs) * time.Millisecond,
		},
	)
}

// validateProducts checks every requested product against the inventory and
// prices the order. Missing products reject the request; a product without a
// price is a data fault, not a client error.
func (e *Earmark) validateProducts(ctx context.Context, quantities map[string]int64) ([]model.OrderItem, float64, error) {
	ids := model.SortedProductIDs(quantities)
	products, err := e.datasource.GetInventoryProducts(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	byID := make(map[string]model.InventoryProduct, len(products))
	for _, product := range products {
		byID[product.ProductID] = product
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, 0, apierror.NewInvalidProductsError(missing)
	}

	items := make([]model.OrderItem, 0, len(ids))
	total := decimal.Zero
	for _, id := range ids {
		product := byID[id]
		if product.Price == nil {
			return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Product has no price", id)
		}
		price := decimal.NewFromFloat(*product.Price)
		total = total.Add(price.Mul(decimal.NewFromInt(quantities[id])))
		items = append(items, model.OrderItem{
			ProductID: id,
			Price:     *product.Price,
			Quantity:  quantities[id],
		})

		// Publish the availability cap if this product has never been
		// reserved against before.
		if err := e.ensureAvailabilityPublished(ctx, product); err != nil {
			return nil, 0, err
		}
	}

	totalPrice, _ := total.Float64()
	return items, totalPrice, nil
}

func (e *Earmark) ensureAvailabilityPublished(ctx context.Context, product model.InventoryProduct) error {
	_, exists, err := e.reservations.Available(ctx, product.ProductID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read availability", err)
	}
	if exists {
		return nil
	}
	var quantity int64
	if product.Quantity != nil {
		quantity = *product.Quantity
	}
	if err := e.reservations.SetAvailable(ctx, product.ProductID, quantity); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to publish availability", err)
	}
	return nil
}

func (e *Earmark) rollbackReservation(ctx context.Context, quantities map[string]int64) {
	if err := e.reservations.ReleaseReserved(ctx, quantities); err != nil {
		logrus.Errorf("failed to roll back reservation: %v", err)
	}
}

// GetOrder fetches one order with its items.
func (e *Earmark) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return e.datasource.GetOrder(ctx, orderID)
}

// ListOrders returns the most recent orders.
func (e *Earmark) ListOrders(ctx context.Context, limit int) ([]model.Order, error) {
	return e.datasource.ListOrders(ctx, limit)
}

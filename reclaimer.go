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

	"github.com/sirupsen/logrus"

	"github.com/earmark-commerce/earmark/config"
	"github.com/earmark-commerce/earmark/model"
)

// ReclaimExpiredReservations sweeps the pending-order set and walks back
// every reservation past its expiry: queued quantities are released, the
// pending entry is removed and, when configured, the order is marked FAILED.
// One broken order never stops the sweep; its error is logged and the next
// order is handled. Returns how many reservations were reclaimed.
func (e *Earmark) ReclaimExpiredReservations(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Reclaiming Expired Reservations")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	expired, err := e.reservations.ExpiredOrders(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	logrus.Infof("reclaiming %d expired reservations", len(expired))

	reclaimed := 0
	for _, pending := range expired {
		if err := e.reclaimOne(ctx, cfg, pending); err != nil {
			logrus.Errorf("failed to reclaim reservation for order %s: %v", pending.OrderID, err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (e *Earmark) reclaimOne(ctx context.Context, cfg *config.Configuration, pending model.PendingOrder) error {
	locks := e.lockProducts(cfg, model.SortedProductIDs(pending.Products))
	if err := locks.Acquire(ctx); err != nil {
		return err
	}
	defer locks.Release(ctx)

	// Settlement may have won the race since the sweep read the entry. The
	// removal is the commit point: only the caller that actually removes the
	// entry releases its quantities.
	removed, err := e.reservations.RemovePendingOrder(ctx, pending.OrderID)
	if err != nil {
		return err
	}
	if !removed {
		logrus.Infof("reservation for order %s already resolved, skipping reclaim", pending.OrderID)
		return nil
	}

	if err := e.reservations.ReleaseReserved(ctx, pending.Products); err != nil {
		return err
	}

	if cfg.Reclaimer.MarkReclaimedFailed {
		if err := e.datasource.UpdateOrderStatus(ctx, pending.OrderID, StatusFailed); err != nil {
			// The reservation is already walked back; the order status is a
			// visibility concern, not a correctness one.
			logrus.Errorf("reclaimed order %s but could not mark it failed: %v", pending.OrderID, err)
		}
	}

	logrus.Infof("reclaimed expired reservation for order %s", pending.OrderID)
	return nil
}

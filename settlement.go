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

	"github.com/earmark-commerce/earmark/internal/apierror"
	"github.com/earmark-commerce/earmark/model"
)

// AcceptPaymentEvent is the intake for payment lifecycle events delivered by
// the payment provider. It validates the event and fans it out to the
// settlement queues; actual processing happens in the workers.
func (e *Earmark) AcceptPaymentEvent(ctx context.Context, event model.PaymentEvent) error {
	if event.OrderID == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Payment event requires an order id", nil)
	}
	if !model.ValidEventType(event.EventType) {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Unknown payment event type", event.EventType)
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now()
	}
	return e.queue.EnqueuePaymentEvent(ctx, event)
}

// HandleOrderSettlement is the order-side consumer of a payment lifecycle
// event. It claims the event under the order scope and moves the order to
// its terminal status. Duplicate deliveries return nil without touching the
// order; the first delivery already settled it.
func (e *Earmark) HandleOrderSettlement(ctx context.Context, event model.PaymentEvent) error {
	ctx, span := tracer.Start(ctx, "Settling Order From Payment Event")
	defer span.End()

	status, err := terminalStatusFor(event.EventType)
	if err != nil {
		return err
	}

	first, err := e.datasource.MarkEventProcessed(ctx, event.OrderID, event.EventType, model.ScopeOrder)
	if err != nil {
		return err
	}
	if !first {
		logrus.Infof("payment event %s for order %s already processed on order side, skipping", event.EventType, event.OrderID)
		return nil
	}

	if err := e.datasource.UpdateOrderStatus(ctx, event.OrderID, status); err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			// An event for an order this system never created. Swallow it,
			// retrying will not make the order appear.
			logrus.Warnf("payment event %s references unknown order %s, dropping", event.EventType, event.OrderID)
			return nil
		}
		return err
	}

	logrus.Infof("order %s settled to %s", event.OrderID, status)
	return nil
}

func terminalStatusFor(eventType string) (string, error) {
	switch eventType {
	case model.EventPaymentSuccess:
		return StatusCompleted, nil
	case model.EventPaymentFailed:
		return StatusFailed, nil
	case model.EventPaymentCanceled:
		return StatusCanceled, nil
	}
	return "", apierror.NewAPIError(apierror.ErrBadRequest, "Unknown payment event type", eventType)
}

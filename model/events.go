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

package model

import "time"

// Payment lifecycle event types delivered at least once by the payment
// service. The (order id, event type, scope) tuple gates processing.
const (
	EventPaymentSuccess  = "PAYMENT_SUCCESS"
	EventPaymentFailed   = "PAYMENT_FAILED"
	EventPaymentCanceled = "PAYMENT_CANCELED"
)

// Idempotency scopes. The order-side and inventory-side handlers of
// PAYMENT_SUCCESS each own their own gate over the same event tuple.
const (
	ScopeOrder     = "order"
	ScopeInventory = "inventory"
)

// PaymentEvent is the payload carried on the event bus for payment
// lifecycle outcomes.
type PaymentEvent struct {
	OrderID   string    `json:"order_id"`
	EventType string    `json:"event_type"`
	Occurred  time.Time `json:"occurred_at"`
}

// ValidEventType reports whether t is a known payment lifecycle event.
func ValidEventType(t string) bool {
	switch t {
	case EventPaymentSuccess, EventPaymentFailed, EventPaymentCanceled:
		return true
	}
	return false
}

// QuantityNotification is published downstream whenever durable stock
// changes, with the signed delta that was applied.
type QuantityNotification struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

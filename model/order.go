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

// Order represents a buyer's order. It is created in PROCESSING state
// synchronously with its inventory reservation and only moves to a terminal
// state through a settlement handler.
type Order struct {
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"user_id"`
	Status      string      `json:"status"`
	TotalPrice  float64     `json:"total_price"`
	Address     string      `json:"address"`
	PhoneNumber string      `json:"phone_number"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Items       []OrderItem `json:"items,omitempty"`
}

// OrderItem captures a line item with the price at order time. The price is
// never re-derived after creation.
type OrderItem struct {
	ItemID    string  `json:"item_id"`
	OrderID   string  `json:"order_id"`
	ProductID string  `json:"product_id"`
	Price     float64 `json:"price"`
	Quantity  int64   `json:"quantity"`
}

// OrderRequest is the intent to buy: who is buying and how much of each
// product. Prices are not part of the request, they come from the inventory
// at reservation time.
type OrderRequest struct {
	UserID      string           `json:"user_id"`
	Address     string           `json:"address"`
	PhoneNumber string           `json:"phone_number"`
	Products    map[string]int64 `json:"products"`
}

// InventoryProduct is the authoritative product view used during order
// creation: current price plus the durably committed quantity (the sum of the
// quantity ledger, not the reservation counter).
type InventoryProduct struct {
	ProductID string     `json:"product_id"`
	Name      string     `json:"name"`
	Price     *float64   `json:"price"`
	Quantity  *int64     `json:"quantity"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// QuantityChange is one signed delta in the append-only product quantity
// ledger. Committed stock for a product is the sum of its deltas.
type QuantityChange struct {
	ChangeID  string    `json:"change_id"`
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

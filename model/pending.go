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

// PendingOrder is the authoritative record of an outstanding reservation
// awaiting settlement. It is written exactly once at reservation time and
// removed exactly once, by settlement or by reclamation.
type PendingOrder struct {
	OrderID    string           `json:"order_id"`
	TotalPrice float64          `json:"price"`
	Products   map[string]int64 `json:"products"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// Expired reports whether the reservation has passed its expiry instant.
func (p PendingOrder) Expired(now time.Time) bool {
	return p.ExpiresAt.Before(now)
}

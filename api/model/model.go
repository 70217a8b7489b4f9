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

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/earmark-commerce/earmark/model"
)

type CreateOrder struct {
	UserID      string           `json:"user_id"`
	Address     string           `json:"address"`
	PhoneNumber string           `json:"phone_number"`
	Products    map[string]int64 `json:"products"`
}

type RegisterProduct struct {
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	Price     *float64 `json:"price"`
}

type AdjustQuantity struct {
	Quantity int64 `json:"quantity"`
}

type PaymentEvent struct {
	OrderID   string `json:"order_id"`
	EventType string `json:"event_type"`
	Occurred  string `json:"occurred_at"`
}

func positiveQuantities(products map[string]int64) validation.RuleFunc {
	return func(value interface{}) error {
		for id, quantity := range products {
			if id == "" {
				return errors.New("product ids cannot be empty")
			}
			if quantity <= 0 {
				return errors.New("product quantities must be positive")
			}
		}
		return nil
	}
}

func (o *CreateOrder) ValidateCreateOrder() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.UserID, validation.Required),
		validation.Field(&o.Products, validation.Required, validation.By(positiveQuantities(o.Products))),
	)
}

func (p *RegisterProduct) ValidateRegisterProduct() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Name, validation.Required),
	)
}

func (a *AdjustQuantity) ValidateAdjustQuantity() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Quantity, validation.Required),
	)
}

func (p *PaymentEvent) ValidatePaymentEvent() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.OrderID, validation.Required),
		validation.Field(&p.EventType, validation.Required, validation.In(
			model.EventPaymentSuccess, model.EventPaymentFailed, model.EventPaymentCanceled,
		)),
		validation.Field(&p.Occurred, validation.When(p.Occurred != "", validation.By(func(value interface{}) error {
			dateStr, ok := value.(string)
			if !ok {
				return errors.New("invalid type for occurred date")
			}
			if _, err := time.Parse(time.RFC3339, dateStr); err != nil {
				return errors.New("please format the occurred date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2024-04-22T15:28:03+00:00)")
			}
			return nil
		}))),
	)
}

func (o *CreateOrder) ToOrderRequest() *model.OrderRequest {
	return &model.OrderRequest{
		UserID:      o.UserID,
		Address:     o.Address,
		PhoneNumber: o.PhoneNumber,
		Products:    o.Products,
	}
}

func (p *RegisterProduct) ToInventoryProduct() *model.InventoryProduct {
	return &model.InventoryProduct{ProductID: p.ProductID, Name: p.Name, Price: p.Price}
}

func (p *PaymentEvent) ToPaymentEvent() model.PaymentEvent {
	var occurred time.Time
	if p.Occurred != "" {
		parsed, err := time.Parse(time.RFC3339, p.Occurred)
		if err == nil {
			occurred = parsed
		}
	}
	return model.PaymentEvent{OrderID: p.OrderID, EventType: p.EventType, Occurred: occurred}
}

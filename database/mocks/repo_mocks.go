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
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/earmark-commerce/earmark/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Order methods

func (m *MockDataSource) CreateOrder(ctx context.Context, ord *model.Order) error {
	args := m.Called(ctx, ord)
	return args.Error(0)
}

func (m *MockDataSource) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockDataSource) ListOrders(ctx context.Context, limit int) ([]model.Order, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Order), args.Error(1)
}

func (m *MockDataSource) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	args := m.Called(ctx, orderID, status)
	return args.Error(0)
}

// Inventory methods

func (m *MockDataSource) UpsertInventoryProduct(ctx context.Context, product *model.InventoryProduct) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockDataSource) GetInventoryProducts(ctx context.Context, productIDs []string) ([]model.InventoryProduct, error) {
	args := m.Called(ctx, productIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InventoryProduct), args.Error(1)
}

func (m *MockDataSource) ListInventoryProducts(ctx context.Context) ([]model.InventoryProduct, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InventoryProduct), args.Error(1)
}

func (m *MockDataSource) RecordQuantityChange(ctx context.Context, change *model.QuantityChange) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

func (m *MockDataSource) ProductQuantity(ctx context.Context, productID string) (int64, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).(int64), args.Error(1)
}

// Idempotency methods

func (m *MockDataSource) MarkEventProcessed(ctx context.Context, orderID, eventType, scope string) (bool, error) {
	args := m.Called(ctx, orderID, eventType, scope)
	return args.Bool(0), args.Error(1)
}

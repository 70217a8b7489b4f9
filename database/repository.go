package database

import (
	"context"

	"github.com/earmark-commerce/earmark/model"
)

type IDataSource interface {
	order
	inventory
	idempotency
}

type order interface {
	CreateOrder(ctx context.Context, ord *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, limit int) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
}

type inventory interface {
	UpsertInventoryProduct(ctx context.Context, product *model.InventoryProduct) error
	GetInventoryProducts(ctx context.Context, productIDs []string) ([]model.InventoryProduct, error)
	ListInventoryProducts(ctx context.Context) ([]model.InventoryProduct, error)
	RecordQuantityChange(ctx context.Context, change *model.QuantityChange) error
	ProductQuantity(ctx context.Context, productID string) (int64, error)
}

type idempotency interface {
	MarkEventProcessed(ctx context.Context, orderID, eventType, scope string) (bool, error)
}

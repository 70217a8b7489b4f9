package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/earmark-commerce/earmark/internal/apierror"
	"github.com/earmark-commerce/earmark/model"
)

// CreateOrder persists an order and its items in one transaction. The order
// id must already be set; items get ids here if they lack them.
func (d Datasource) CreateOrder(ctx context.Context, ord *model.Order) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	ord.CreatedAt = now
	ord.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, user_id, status, total_price, address, phone_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ord.OrderID, ord.UserID, ord.Status, ord.TotalPrice, ord.Address, ord.PhoneNumber, ord.CreatedAt, ord.UpdatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Order with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create order", err)
	}

	for i := range ord.Items {
		item := &ord.Items[i]
		if item.ItemID == "" {
			item.ItemID = model.GenerateUUIDWithSuffix("itm")
		}
		item.OrderID = ord.OrderID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (item_id, order_id, product_id, price, quantity)
			VALUES ($1, $2, $3, $4, $5)
		`, item.ItemID, item.OrderID, item.ProductID, item.Price, item.Quantity)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create order item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit order", err)
	}
	return nil
}

func (d Datasource) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	ord := model.Order{}
	row := d.Conn.QueryRowContext(ctx, `
		SELECT order_id, user_id, status, total_price, address, phone_number, created_at, updated_at
		FROM orders
		WHERE order_id = $1
	`, orderID)

	err := row.Scan(&ord.OrderID, &ord.UserID, &ord.Status, &ord.TotalPrice, &ord.Address, &ord.PhoneNumber, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Order not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT item_id, order_id, product_id, price, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := model.OrderItem{}
		err = rows.Scan(&item.ItemID, &item.OrderID, &item.ProductID, &item.Price, &item.Quantity)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order item", err)
		}
		ord.Items = append(ord.Items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over order items", err)
	}

	return &ord, nil
}

func (d Datasource) ListOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT order_id, user_id, status, total_price, address, phone_number, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve orders", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		ord := model.Order{}
		err = rows.Scan(&ord.OrderID, &ord.UserID, &ord.Status, &ord.TotalPrice, &ord.Address, &ord.PhoneNumber, &ord.CreatedAt, &ord.UpdatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order data", err)
		}
		orders = append(orders, ord)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over orders", err)
	}

	return orders, nil
}

func (d Datasource) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE order_id = $1
	`, orderID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Order not found", nil)
	}
	return nil
}

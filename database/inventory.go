package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/earmark-commerce/earmark/internal/apierror"
	"github.com/earmark-commerce/earmark/model"
)

// UpsertInventoryProduct registers a product or updates its name and price.
// Stock is never written here, it only moves through the quantity history.
func (d Datasource) UpsertInventoryProduct(ctx context.Context, product *model.InventoryProduct) error {
	now := time.Now()
	product.UpdatedAt = &now
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO inventory_products (product_id, name, price, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id)
		DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, updated_at = EXCLUDED.updated_at
	`, product.ProductID, product.Name, product.Price, product.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to upsert inventory product", err)
	}
	return nil
}

// GetInventoryProducts fetches the requested products with their current
// stock (the sum of their quantity history). Products with no history rows
// come back with a zero quantity; product ids with no product row are simply
// absent from the result, the caller decides whether that is an error.
func (d Datasource) GetInventoryProducts(ctx context.Context, productIDs []string) ([]model.InventoryProduct, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT p.product_id, p.name, p.price, COALESCE(SUM(h.quantity), 0), p.updated_at
		FROM inventory_products p
		LEFT JOIN product_quantity_history h ON h.product_id = p.product_id
		WHERE p.product_id = ANY($1)
		GROUP BY p.product_id, p.name, p.price, p.updated_at
		ORDER BY p.product_id
	`, pq.Array(productIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve inventory products", err)
	}
	defer rows.Close()

	return scanInventoryProducts(rows)
}

func (d Datasource) ListInventoryProducts(ctx context.Context) ([]model.InventoryProduct, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT p.product_id, p.name, p.price, COALESCE(SUM(h.quantity), 0), p.updated_at
		FROM inventory_products p
		LEFT JOIN product_quantity_history h ON h.product_id = p.product_id
		GROUP BY p.product_id, p.name, p.price, p.updated_at
		ORDER BY p.product_id
		LIMIT 100
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve inventory products", err)
	}
	defer rows.Close()

	return scanInventoryProducts(rows)
}

func scanInventoryProducts(rows *sql.Rows) ([]model.InventoryProduct, error) {
	products := []model.InventoryProduct{}
	for rows.Next() {
		product := model.InventoryProduct{}
		var quantity int64
		err := rows.Scan(&product.ProductID, &product.Name, &product.Price, &quantity, &product.UpdatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan inventory product", err)
		}
		product.Quantity = &quantity
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over inventory products", err)
	}
	return products, nil
}

// RecordQuantityChange appends one signed stock movement. Restocks are
// positive, settlement debits negative.
func (d Datasource) RecordQuantityChange(ctx context.Context, change *model.QuantityChange) error {
	if change.ChangeID == "" {
		change.ChangeID = model.GenerateUUIDWithSuffix("qty")
	}
	change.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO product_quantity_history (change_id, product_id, quantity, created_at)
		VALUES ($1, $2, $3, $4)
	`, change.ChangeID, change.ProductID, change.Quantity, change.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return apierror.NewAPIError(apierror.ErrConflict, "Quantity change with this ID already exists", err)
			case "foreign_key_violation":
				return apierror.NewAPIError(apierror.ErrNotFound, "Product not found", err)
			}
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record quantity change", err)
	}
	return nil
}

// ProductQuantity returns the current stock of one product as the sum of its
// history. A product with no history has zero stock.
func (d Datasource) ProductQuantity(ctx context.Context, productID string) (int64, error) {
	var quantity int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM product_quantity_history
		WHERE product_id = $1
	`, productID).Scan(&quantity)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute product quantity", err)
	}
	return quantity, nil
}

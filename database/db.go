package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/earmark-commerce/earmark/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createInventoryProductTable(db)
	if err != nil {
		return nil, err
	}
	err = createQuantityHistoryTable(db)
	if err != nil {
		return nil, err
	}
	err = createOrderTable(db)
	if err != nil {
		return nil, err
	}
	err = createOrderItemTable(db)
	if err != nil {
		return nil, err
	}
	err = createProcessedEventTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createOrderTable creates a PostgreSQL table for the Order struct
func createOrderTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_price NUMERIC(20,2) NOT NULL,
			address TEXT,
			phone_number TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createOrderItemTable creates a PostgreSQL table for the OrderItem struct
func createOrderItemTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			item_id TEXT NOT NULL UNIQUE,
			order_id TEXT NOT NULL REFERENCES orders(order_id),
			product_id TEXT NOT NULL,
			price NUMERIC(20,2) NOT NULL,
			quantity BIGINT NOT NULL
		)
	`)
	log.Println(err)
	return err
}

// createInventoryProductTable creates a PostgreSQL table for the InventoryProduct struct
func createInventoryProductTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS inventory_products (
			id SERIAL PRIMARY KEY,
			product_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			price NUMERIC(20,2),
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createQuantityHistoryTable creates an append-only PostgreSQL table of
// signed stock movements. Current stock is the sum per product.
func createQuantityHistoryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS product_quantity_history (
			id SERIAL PRIMARY KEY,
			change_id TEXT NOT NULL UNIQUE,
			product_id TEXT NOT NULL REFERENCES inventory_products(product_id),
			quantity BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createProcessedEventTable creates the idempotency gate for payment
// lifecycle events. The unique constraint is the gate itself.
func createProcessedEventTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS processed_payment_events (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			scope TEXT NOT NULL,
			processed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (order_id, event_type, scope)
		)
	`)
	log.Println(err)
	return err
}

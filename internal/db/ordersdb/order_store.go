// Package ordersdb persists orders in Postgres. Status transitions are
// validated under a row lock so concurrent changes cannot skip states.
package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fulfillment/internal/orders"
)

// OrderStore persists orders in Postgres.
type OrderStore struct {
	db    *sql.DB
	newID func() string
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{
		db:    db,
		newID: func() string { return "order-" + uuid.NewString() },
	}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the order tables if they do not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			total_price DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			shipping_address TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price DOUBLE PRECISION NOT NULL,
			FOREIGN KEY (order_id) REFERENCES orders(order_id) ON DELETE CASCADE
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *OrderStore) Create(ctx context.Context, customerID string, items []orders.LineItem, total float64, meta orders.Meta) (orders.Order, error) {
	if customerID == "" {
		return orders.Order{}, errors.New("customer id required")
	}
	if len(items) == 0 {
		return orders.Order{}, errors.New("order items required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return orders.Order{}, err
	}
	defer tx.Rollback()

	order := orders.Order{
		ID:              s.newID(),
		CustomerID:      customerID,
		Items:           append([]orders.LineItem(nil), items...),
		TotalPrice:      total,
		Status:          orders.StatusPending,
		Notes:           meta.Notes,
		ShippingAddress: meta.ShippingAddress,
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO orders (order_id, customer_id, total_price, status, notes, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		order.ID, order.CustomerID, order.TotalPrice, string(order.Status), order.Notes, order.ShippingAddress,
	)
	if err := row.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		return orders.Order{}, err
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`,
			order.ID, item.ItemID, item.Quantity, item.UnitPrice,
		); err != nil {
			return orders.Order{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return orders.Order{}, err
	}
	return order, nil
}

func (s *OrderStore) Get(ctx context.Context, orderID string) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, customer_id, total_price, status, notes, shipping_address, created_at, updated_at
		FROM orders WHERE order_id = $1`,
		orderID,
	)

	var order orders.Order
	var status string
	err := row.Scan(&order.ID, &order.CustomerID, &order.TotalPrice, &status,
		&order.Notes, &order.ShippingAddress, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return orders.Order{}, err
	}
	order.Status = orders.Status(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price
		FROM order_items WHERE order_id = $1
		ORDER BY id ASC`,
		orderID,
	)
	if err != nil {
		return orders.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item orders.LineItem
		if err := rows.Scan(&item.ItemID, &item.Quantity, &item.UnitPrice); err != nil {
			return orders.Order{}, err
		}
		order.Items = append(order.Items, item)
	}
	return order, rows.Err()
}

func (s *OrderStore) SetStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return orders.Order{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE order_id = $1 FOR UPDATE`, orderID)
	var current string
	switch scanErr := row.Scan(&current); {
	case errors.Is(scanErr, sql.ErrNoRows):
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	case scanErr != nil:
		return orders.Order{}, scanErr
	}

	if !orders.ValidTransition(orders.Status(current), status) {
		return orders.Order{}, &orders.InvalidTransitionError{From: orders.Status(current), To: status}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE order_id = $1`,
		orderID, string(status),
	); err != nil {
		return orders.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return orders.Order{}, err
	}
	return s.Get(ctx, orderID)
}

// Package inventorydb persists inventory items in Postgres. The CHECK
// constraint on quantity is the authoritative non-negative guard; the
// guarded UPDATE keeps the common path a single round trip.
package inventorydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fulfillment/internal/inventory"
)

// InventoryStore persists inventory items in Postgres.
type InventoryStore struct {
	db    *sql.DB
	newID func() string
}

// NewInventoryStore constructs an InventoryStore backed by Postgres.
func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{
		db:    db,
		newID: func() string { return "item-" + uuid.NewString() },
	}
}

// NewInventoryStoreWithSchema initializes the schema then returns the store.
func NewInventoryStoreWithSchema(ctx context.Context, db *sql.DB) (*InventoryStore, error) {
	store := NewInventoryStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the inventory table if it does not exist.
func (s *InventoryStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS inventory_items (
			item_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			min_stock INTEGER NOT NULL DEFAULT 0,
			unit TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS inventory_items_name ON inventory_items (name)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *InventoryStore) Get(ctx context.Context, itemID string) (inventory.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, name, quantity, min_stock, unit, price
		FROM inventory_items WHERE item_id = $1`,
		itemID,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Item{}, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, itemID)
	}
	return item, err
}

func (s *InventoryStore) CheckAvailability(ctx context.Context, reqs []inventory.Requirement) (inventory.Availability, error) {
	result := inventory.Availability{Available: true}
	for _, req := range reqs {
		row := s.db.QueryRowContext(ctx,
			`SELECT quantity FROM inventory_items WHERE item_id = $1`, req.ItemID)
		var quantity int
		switch err := row.Scan(&quantity); {
		case errors.Is(err, sql.ErrNoRows):
			result.Available = false
			result.Shortages = append(result.Shortages, req)
			continue
		case err != nil:
			return inventory.Availability{}, err
		}
		result.CurrentStock = append(result.CurrentStock, inventory.StockLevel{ItemID: req.ItemID, Quantity: quantity})
		if quantity < req.Quantity {
			result.Available = false
			result.Shortages = append(result.Shortages, req)
		}
	}
	return result, nil
}

// AdjustStock applies a delta without going below zero. The guarded WHERE
// leaves the row untouched when the delta would breach the invariant; the
// follow-up read distinguishes a missing item from a shortage.
func (s *InventoryStore) AdjustStock(ctx context.Context, itemID string, delta int) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET quantity = quantity + $2
		WHERE item_id = $1 AND quantity + $2 >= 0
		RETURNING quantity`,
		itemID, delta,
	)
	var quantity int
	err := row.Scan(&quantity)
	if err == nil {
		return quantity, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	check := s.db.QueryRowContext(ctx,
		`SELECT quantity FROM inventory_items WHERE item_id = $1`, itemID)
	var current int
	switch scanErr := check.Scan(&current); {
	case scanErr == nil:
		return 0, &inventory.InsufficientStockError{ItemID: itemID, Current: current, Requested: delta}
	case errors.Is(scanErr, sql.ErrNoRows):
		return 0, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, itemID)
	default:
		return 0, scanErr
	}
}

func (s *InventoryStore) UpsertByName(ctx context.Context, name string, quantity int, unit string) (inventory.Item, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET quantity = quantity + $2
		WHERE name = $1
		RETURNING item_id, name, quantity, min_stock, unit, price`,
		name, quantity,
	)
	item, err := scanItem(row)
	if err == nil {
		return item, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return inventory.Item{}, false, err
	}

	insert := s.db.QueryRowContext(ctx, `
		INSERT INTO inventory_items (item_id, name, quantity, unit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET quantity = inventory_items.quantity + EXCLUDED.quantity
		RETURNING item_id, name, quantity, min_stock, unit, price`,
		s.newID(), name, quantity, unit,
	)
	item, err = scanItem(insert)
	if err != nil {
		return inventory.Item{}, false, err
	}
	return item, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (inventory.Item, error) {
	var item inventory.Item
	err := row.Scan(&item.ID, &item.Name, &item.Quantity, &item.MinStock, &item.Unit, &item.Price)
	return item, err
}

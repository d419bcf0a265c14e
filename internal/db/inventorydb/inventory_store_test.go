package inventorydb

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"fulfillment/internal/inventory"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func TestInventoryStore_CheckAvailability(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT quantity FROM inventory_items").
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(10))
	mock.ExpectQuery("SELECT quantity FROM inventory_items").
		WithArgs("item-2").
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(1))
	mock.ExpectClose()

	store := NewInventoryStore(db)
	avail, err := store.CheckAvailability(context.Background(), []inventory.Requirement{
		{ItemID: "item-1", Quantity: 2},
		{ItemID: "item-2", Quantity: 5},
	})
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if avail.Available {
		t.Fatalf("expected shortage")
	}
	if len(avail.CurrentStock) != 2 || len(avail.Shortages) != 1 {
		t.Fatalf("unexpected result: %+v", avail)
	}
}

func TestInventoryStore_AdjustStock(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("UPDATE inventory_items").
		WithArgs("item-1", -2).
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(8))
	mock.ExpectClose()

	store := NewInventoryStore(db)
	quantity, err := store.AdjustStock(context.Background(), "item-1", -2)
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if quantity != 8 {
		t.Fatalf("expected 8, got %d", quantity)
	}
}

func TestInventoryStore_AdjustStock_Insufficient(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("UPDATE inventory_items").
		WithArgs("item-1", -20).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT quantity FROM inventory_items").
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(10))
	mock.ExpectClose()

	store := NewInventoryStore(db)
	_, err := store.AdjustStock(context.Background(), "item-1", -20)
	var insufficient *inventory.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Current != 10 || insufficient.Requested != -20 {
		t.Fatalf("unexpected detail: %+v", insufficient)
	}
}

func TestInventoryStore_AdjustStock_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("UPDATE inventory_items").
		WithArgs("item-404", 1).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT quantity FROM inventory_items").
		WithArgs("item-404").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewInventoryStore(db)
	_, err := store.AdjustStock(context.Background(), "item-404", 1)
	if !errors.Is(err, inventory.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestInventoryStore_UpsertByName_Updates(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("UPDATE inventory_items").
		WithArgs("flour", 5).
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "name", "quantity", "min_stock", "unit", "price"}).
			AddRow("item-1", "flour", 15, 0, "kg", 0.0))
	mock.ExpectClose()

	store := NewInventoryStore(db)
	item, created, err := store.UpsertByName(context.Background(), "flour", 5, "kg")
	if err != nil {
		t.Fatalf("UpsertByName: %v", err)
	}
	if created {
		t.Fatalf("expected update")
	}
	if item.Quantity != 15 {
		t.Fatalf("expected 15, got %d", item.Quantity)
	}
}

func TestInventoryStore_UpsertByName_Creates(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("UPDATE inventory_items").
		WithArgs("saffron", 2).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO inventory_items").
		WithArgs("item-9", "saffron", 2, "g").
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "name", "quantity", "min_stock", "unit", "price"}).
			AddRow("item-9", "saffron", 2, 0, "g", 0.0))
	mock.ExpectClose()

	store := NewInventoryStore(db)
	store.newID = func() string { return "item-9" }
	item, created, err := store.UpsertByName(context.Background(), "saffron", 2, "g")
	if err != nil {
		t.Fatalf("UpsertByName: %v", err)
	}
	if !created {
		t.Fatalf("expected create")
	}
	if item.ID != "item-9" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

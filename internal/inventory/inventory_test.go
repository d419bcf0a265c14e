package inventory

import (
	"context"
	"errors"
	"testing"
)

func seededStore() *MemoryStore {
	store := NewMemoryStore()
	store.Put(Item{ID: "item-1", Name: "flour", Quantity: 10, Unit: "kg"})
	store.Put(Item{ID: "item-2", Name: "tomato", Quantity: 3, Unit: "kg"})
	return store
}

func TestCheckAvailability_AllAvailable(t *testing.T) {
	store := seededStore()

	avail, err := store.CheckAvailability(context.Background(), []Requirement{
		{ItemID: "item-1", Quantity: 2},
		{ItemID: "item-2", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !avail.Available {
		t.Fatalf("expected available")
	}
	if len(avail.CurrentStock) != 2 {
		t.Fatalf("expected 2 stock levels, got %d", len(avail.CurrentStock))
	}
}

func TestCheckAvailability_Shortage(t *testing.T) {
	store := seededStore()

	avail, err := store.CheckAvailability(context.Background(), []Requirement{
		{ItemID: "item-2", Quantity: 5},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if avail.Available {
		t.Fatalf("expected unavailable")
	}
	if len(avail.Shortages) != 1 || avail.Shortages[0].ItemID != "item-2" {
		t.Fatalf("unexpected shortages: %+v", avail.Shortages)
	}
}

func TestCheckAvailability_UnknownItem(t *testing.T) {
	store := seededStore()

	avail, err := store.CheckAvailability(context.Background(), []Requirement{
		{ItemID: "item-404", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if avail.Available {
		t.Fatalf("expected unavailable for unknown item")
	}
}

func TestAdjustStock_Decrement(t *testing.T) {
	store := seededStore()

	qty, err := store.AdjustStock(context.Background(), "item-1", -4)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if qty != 6 {
		t.Fatalf("expected quantity 6, got %d", qty)
	}
}

func TestAdjustStock_RejectsNegativeResult(t *testing.T) {
	store := seededStore()

	_, err := store.AdjustStock(context.Background(), "item-2", -4)
	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Current != 3 || insufficient.Requested != -4 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}

	// Quantity must be unchanged after the rejection.
	item, err := store.Get(context.Background(), "item-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.Quantity != 3 {
		t.Fatalf("quantity changed to %d", item.Quantity)
	}
}

func TestAdjustStock_UnknownItem(t *testing.T) {
	store := seededStore()

	_, err := store.AdjustStock(context.Background(), "item-404", 1)
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestUpsertByName_IncrementsExisting(t *testing.T) {
	store := seededStore()

	item, created, err := store.UpsertByName(context.Background(), "flour", 5, "kg")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created {
		t.Fatalf("expected update, got create")
	}
	if item.Quantity != 15 {
		t.Fatalf("expected quantity 15, got %d", item.Quantity)
	}
}

func TestUpsertByName_CreatesMissing(t *testing.T) {
	store := seededStore()

	item, created, err := store.UpsertByName(context.Background(), "saffron", 2, "g")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatalf("expected create")
	}
	if item.ID == "" || item.Quantity != 2 || item.Unit != "g" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

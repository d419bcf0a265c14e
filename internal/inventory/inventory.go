package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrItemNotFound signals an inventory item that does not exist.
var ErrItemNotFound = errors.New("inventory item not found")

// InsufficientStockError is returned when a delta would push stock below zero.
// The operation leaves the quantity unchanged.
type InsufficientStockError struct {
	ItemID    string
	Current   int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: current %d, requested delta %d", e.ItemID, e.Current, e.Requested)
}

// Item is a single stocked item. Quantity never goes negative; it is
// mutated through AdjustStock deltas only.
type Item struct {
	ID       string
	Name     string
	Quantity int
	MinStock int
	Unit     string
	Price    float64
}

// Requirement is one line of an availability check.
type Requirement struct {
	ItemID   string
	Quantity int
}

// StockLevel is a point-in-time quantity for one item.
type StockLevel struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Availability is the result of a batch availability check.
type Availability struct {
	Available    bool
	CurrentStock []StockLevel
	Shortages    []Requirement
}

// Store owns stock levels.
type Store interface {
	Get(ctx context.Context, itemID string) (Item, error)
	CheckAvailability(ctx context.Context, reqs []Requirement) (Availability, error)
	// AdjustStock applies a delta and returns the new quantity. A delta that
	// would make the quantity negative fails with InsufficientStockError.
	AdjustStock(ctx context.Context, itemID string, delta int) (int, error)
	// UpsertByName increments the named item's stock, creating it when no
	// item with that name exists. The second return reports creation.
	UpsertByName(ctx context.Context, name string, quantity int, unit string) (Item, bool, error)
}

// NewMemoryStore constructs an in-memory inventory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Item),
	}
}

// MemoryStore keeps inventory in memory, guarded by a single mutex so the
// check-and-adjust pair is atomic per store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Item
	seq   int
}

// Put inserts or replaces an item (seed/test helper).
func (s *MemoryStore) Put(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := item
	s.items[item.ID] = &copied
}

func (s *MemoryStore) Get(ctx context.Context, itemID string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return *item, nil
}

func (s *MemoryStore) CheckAvailability(ctx context.Context, reqs []Requirement) (Availability, error) {
	if err := ctx.Err(); err != nil {
		return Availability{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := Availability{Available: true}
	for _, req := range reqs {
		item, ok := s.items[req.ItemID]
		if !ok {
			result.Available = false
			result.Shortages = append(result.Shortages, req)
			continue
		}
		result.CurrentStock = append(result.CurrentStock, StockLevel{ItemID: item.ID, Quantity: item.Quantity})
		if item.Quantity < req.Quantity {
			result.Available = false
			result.Shortages = append(result.Shortages, req)
		}
	}
	return result, nil
}

func (s *MemoryStore) AdjustStock(ctx context.Context, itemID string, delta int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	next := item.Quantity + delta
	if next < 0 {
		return 0, &InsufficientStockError{ItemID: itemID, Current: item.Quantity, Requested: delta}
	}
	item.Quantity = next
	return next, nil
}

func (s *MemoryStore) UpsertByName(ctx context.Context, name string, quantity int, unit string) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.Name == name {
			item.Quantity += quantity
			return *item, false, nil
		}
	}

	id := ""
	for id == "" || s.items[id] != nil {
		s.seq++
		id = fmt.Sprintf("item-%d", s.seq)
	}
	item := &Item{
		ID:       id,
		Name:     name,
		Quantity: quantity,
		Unit:     unit,
	}
	s.items[item.ID] = item
	return *item, true, nil
}

// Items returns a stable snapshot of all items (inspection helper).
func (s *MemoryStore) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// forward is the one-way lifecycle sequence; cancellation branches off it.
var forward = map[Status]Status{
	StatusPending:    StatusConfirmed,
	StatusConfirmed:  StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

// ErrOrderNotFound signals an unknown order id.
var ErrOrderNotFound = errors.New("order not found")

// InvalidTransitionError is returned for a disallowed status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition %s -> %s", e.From, e.To)
}

// ValidTransition reports whether the status change is allowed. Forward moves
// follow the lifecycle one step at a time; cancellation is only possible
// while the order is pending or confirmed.
func ValidTransition(from, to Status) bool {
	if to == StatusCancelled {
		return from == StatusPending || from == StatusConfirmed
	}
	return forward[from] == to
}

// LineItem is one ordered item.
type LineItem struct {
	ItemID    string  `json:"item_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Meta carries optional order attributes.
type Meta struct {
	Notes           string
	ShippingAddress string
}

// Order is an order record and its lifecycle status.
type Order struct {
	ID              string
	CustomerID      string
	Items           []LineItem
	TotalPrice      float64
	Status          Status
	Notes           string
	ShippingAddress string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store owns order records.
type Store interface {
	Create(ctx context.Context, customerID string, items []LineItem, total float64, meta Meta) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	SetStatus(ctx context.Context, orderID string, status Status) (Order, error)
}

// NewMemoryStore constructs an in-memory order store.
func NewMemoryStore(newID func() string, now func() time.Time) *MemoryStore {
	if newID == nil {
		seq := 0
		newID = func() string {
			seq++
			return fmt.Sprintf("order-%d", seq)
		}
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		orders: make(map[string]*Order),
		newID:  newID,
		now:    now,
	}
}

// MemoryStore keeps orders in memory.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	newID  func() string
	now    func() time.Time
}

func (s *MemoryStore) Create(ctx context.Context, customerID string, items []LineItem, total float64, meta Meta) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	if customerID == "" {
		return Order{}, errors.New("customer id required")
	}
	if len(items) == 0 {
		return Order{}, errors.New("order items required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	order := &Order{
		ID:              s.newID(),
		CustomerID:      customerID,
		Items:           append([]LineItem(nil), items...),
		TotalPrice:      total,
		Status:          StatusPending,
		Notes:           meta.Notes,
		ShippingAddress: meta.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.orders[order.ID] = order
	return *order, nil
}

func (s *MemoryStore) Get(ctx context.Context, orderID string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return *order, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, orderID string, status Status) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !ValidTransition(order.Status, status) {
		return Order{}, &InvalidTransitionError{From: order.Status, To: status}
	}
	order.Status = status
	order.UpdatedAt = s.now()
	return *order, nil
}

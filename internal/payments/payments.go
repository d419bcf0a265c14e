package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Duplicate-payment guard rejections, in guard priority order.
var (
	ErrAlreadyConfirmed     = errors.New("payment already confirmed for order, cannot pay again")
	ErrAwaitingConfirmation = errors.New("payment already awaiting confirmation for order")
	ErrPaymentExists        = errors.New("payment already exists for this order")
)

// ErrPaymentNotFound signals an unknown payment id.
var ErrPaymentNotFound = errors.New("payment not found")

// ErrNotPending signals a confirmation attempt on a non-pending payment.
var ErrNotPending = errors.New("payment is not pending")

// Payment is a payment record tied to one order.
type Payment struct {
	ID        string
	OrderID   string
	Amount    float64
	Method    string
	Status    Status
	CreatedAt time.Time
}

// Store owns payment records. At most one payment per order may ever reach
// confirmed; Create applies the guard and Confirm enforces the invariant.
type Store interface {
	Create(ctx context.Context, orderID string, amount float64, method string) (Payment, error)
	Confirm(ctx context.Context, paymentID string) (Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	// Revenue sums, per order, the earliest-created confirmed payment.
	// Defensive: holds even if duplicate confirmed rows exist.
	Revenue(ctx context.Context) (float64, error)
}

// GuardExisting applies the duplicate-payment rules against all existing
// payments for an order, in priority order. A nil return permits creation.
func GuardExisting(existing []Payment) error {
	for _, p := range existing {
		if p.Status == StatusConfirmed {
			return ErrAlreadyConfirmed
		}
	}
	for _, p := range existing {
		if p.Status == StatusPending {
			return ErrAwaitingConfirmation
		}
	}
	if len(existing) > 0 {
		return ErrPaymentExists
	}
	return nil
}

// NewMemoryStore constructs an in-memory payment store.
func NewMemoryStore(newID func() string, now func() time.Time) *MemoryStore {
	if newID == nil {
		seq := 0
		newID = func() string {
			seq++
			return fmt.Sprintf("pay-%d", seq)
		}
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		payments: make(map[string]*Payment),
		newID:    newID,
		now:      now,
	}
}

// MemoryStore keeps payments in memory. The single mutex makes the
// guard-then-insert pair atomic, closing the check-then-act race.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
	order    []string // insertion order, for stable listings
	newID    func() string
	now      func() time.Time
}

func (s *MemoryStore) Create(ctx context.Context, orderID string, amount float64, method string) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	if orderID == "" {
		return Payment{}, errors.New("order id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := GuardExisting(s.byOrderLocked(orderID)); err != nil {
		return Payment{}, err
	}

	payment := &Payment{
		ID:        s.newID(),
		OrderID:   orderID,
		Amount:    amount,
		Method:    method,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	s.payments[payment.ID] = payment
	s.order = append(s.order, payment.ID)
	return *payment, nil
}

func (s *MemoryStore) Confirm(ctx context.Context, paymentID string) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	if payment.Status != StatusPending {
		return Payment{}, fmt.Errorf("%w: %s is %s", ErrNotPending, paymentID, payment.Status)
	}
	for _, other := range s.byOrderLocked(payment.OrderID) {
		if other.ID != payment.ID && other.Status == StatusConfirmed {
			return Payment{}, ErrAlreadyConfirmed
		}
	}
	payment.Status = StatusConfirmed
	return *payment, nil
}

func (s *MemoryStore) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOrderLocked(orderID), nil
}

func (s *MemoryStore) Revenue(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	earliest := make(map[string]*Payment)
	for _, id := range s.order {
		p := s.payments[id]
		if p.Status != StatusConfirmed {
			continue
		}
		first, ok := earliest[p.OrderID]
		if !ok || p.CreatedAt.Before(first.CreatedAt) {
			earliest[p.OrderID] = p
		}
	}

	var total float64
	for _, p := range earliest {
		total += p.Amount
	}
	return total, nil
}

// MarkStatus force-sets a payment's status (test/seeding helper for
// exercising guard behavior on inconsistent data).
func (s *MemoryStore) MarkStatus(paymentID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	payment.Status = status
	return nil
}

func (s *MemoryStore) byOrderLocked(orderID string) []Payment {
	var out []Payment
	for _, id := range s.order {
		if p := s.payments[id]; p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	return out
}

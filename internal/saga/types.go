// Package saga coordinates order fulfillment across the inventory, order,
// and payment stores, keeping a durable transaction ledger of every attempt.
package saga

import (
	"context"
	"errors"
	"time"

	"fulfillment/internal/inventory"
	"fulfillment/internal/orders"
)

// PaymentStatus is the ledger-level outcome of a fulfillment attempt.
// It moves PENDING -> SUCCESS or PENDING -> FAILED and never reverts.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Audit event types published on ledger transitions.
const (
	EventOrderCreated     = "ORDER_CREATED"
	EventPaymentConfirmed = "PAYMENT_CONFIRMED"
	EventPaymentFailed    = "PAYMENT_FAILED"
	EventStockAdjusted    = "STOCK_ADJUSTED"
)

// StockSnapshot is a point-in-time view of the affected items.
type StockSnapshot []inventory.StockLevel

// Transaction is one ledger row: the record of a single saga attempt.
type Transaction struct {
	ID              string
	ExternalOrderID string
	OrderID         string
	PaymentID       string
	PaymentMethod   string
	TotalCost       float64
	PaymentStatus   PaymentStatus
	StockBefore     StockSnapshot
	StockAfter      StockSnapshot
	SourceSystem    string
	RequestPayload  string
	ErrorDetails    string
	CreatedAt       time.Time
	CompletedAt     time.Time
	Deleted         bool
}

// LedgerCounts aggregates transactions by terminal payment status.
type LedgerCounts struct {
	Total     int
	Succeeded int
	Pending   int
	Failed    int
}

// Statistics is the operator-facing rollup.
type Statistics struct {
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Pending   int     `json:"pending"`
	Failed    int     `json:"failed"`
	Revenue   float64 `json:"revenue"`
}

// ErrTransactionNotFound signals an unknown transaction id.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrAlreadyProcessed signals a confirmation retry on a transaction that
// already reached SUCCESS. Safe to surface as an idempotent no-op.
var ErrAlreadyProcessed = errors.New("transaction already processed")

// LedgerStore persists transactions. Implementations must make MarkSuccess
// a no-op (reported via the bool) when the row already reached SUCCESS.
type LedgerStore interface {
	Append(ctx context.Context, txn Transaction) error
	Get(ctx context.Context, transactionID string) (Transaction, error)
	MarkSuccess(ctx context.Context, transactionID, paymentID, method string, after StockSnapshot, completedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, transactionID, errorDetails string) error
	Counts(ctx context.Context) (LedgerCounts, error)
}

// AuditEvent is a ledger transition notification for operator feeds.
type AuditEvent struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id"`
	OrderID       string    `json:"order_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	At            time.Time `json:"at"`
}

// AuditSink receives audit events. Sinks are diagnostic: publish failures
// must never affect the business operation.
type AuditSink interface {
	Publish(ctx context.Context, event AuditEvent) error
}

// ValidationError rejects a malformed request before any downstream call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

// DependencyError wraps a failure from a collaborator service.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *DependencyError) Unwrap() error { return e.Err }

// CreateOrderRequest is the saga's inbound order request.
type CreateOrderRequest struct {
	CustomerID      string            `json:"customer_id"`
	Items           []orders.LineItem `json:"items"`
	ExternalOrderID string            `json:"external_order_id,omitempty"`
	// TotalAmount, when positive, is authoritative and is not reconciled
	// against the line-item sum. Zero means "compute from items".
	TotalAmount     float64 `json:"total_amount,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	ShippingAddress string  `json:"shipping_address,omitempty"`
	SourceSystem    string  `json:"source_system,omitempty"`
}

// TransactionResult is the single caller-facing verdict of a saga call.
type TransactionResult struct {
	Success       bool          `json:"success"`
	TransactionID string        `json:"transaction_id,omitempty"`
	OrderID       string        `json:"order_id,omitempty"`
	PaymentID     string        `json:"payment_id,omitempty"`
	TotalCost     float64       `json:"total_cost,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	Message       string        `json:"message,omitempty"`
}

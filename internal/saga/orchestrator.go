package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fulfillment/internal/intlog"
	"fulfillment/internal/inventory"
	"fulfillment/internal/orders"
	"fulfillment/internal/payments"
)

// ErrStockUnavailable signals that the inventory store declined the batch
// availability check.
var ErrStockUnavailable = errors.New("stock unavailable")

// ServiceConfig wires a Service. Inventory, Orders, Payments, and Ledger
// are required; the rest default to safe no-ops.
type ServiceConfig struct {
	Inventory InventoryClient
	Orders    OrderClient
	Payments  PaymentClient
	Ledger    LedgerStore
	IntLog    intlog.Recorder
	Audit     AuditSink
	Logger    *slog.Logger
	// SourceSystem identifies this deployment in ledger rows when the
	// request does not name its own source.
	SourceSystem string
	NewID        func() string
	Now          func() time.Time
}

// Service is the saga orchestrator. It holds no authoritative state beyond
// the transaction ledger and never retries a failed collaborator call.
type Service struct {
	inventory InventoryClient
	orders    OrderClient
	payments  PaymentClient
	ledger    LedgerStore
	intlog    intlog.Recorder
	audit     AuditSink
	logger    *slog.Logger
	source    string
	newID     func() string
	now       func() time.Time
	keys      keyedMutex
}

// NewService constructs the orchestrator.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string {
			return "txn-" + time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
		}
	}
	source := cfg.SourceSystem
	if source == "" {
		source = "fulfillment"
	}
	var recorder intlog.Recorder = cfg.IntLog
	if recorder == nil {
		recorder = intlog.NewSafeRecorder(nil, logger)
	}
	return &Service{
		inventory: cfg.Inventory,
		orders:    cfg.Orders,
		payments:  cfg.Payments,
		ledger:    cfg.Ledger,
		intlog:    recorder,
		audit:     cfg.Audit,
		logger:    logger,
		source:    source,
		newID:     newID,
		now:       now,
	}
}

// CreateOrder runs the first half of the saga: availability check, order
// creation, and the PENDING ledger row. Purely local validation failures
// produce no downstream calls and no ledger row.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (TransactionResult, error) {
	transactionID := s.newID()

	if reason := validateCreateOrder(req); reason != "" {
		return TransactionResult{Success: false, Message: reason}, &ValidationError{Reason: reason}
	}

	reqs := make([]inventory.Requirement, len(req.Items))
	for i, item := range req.Items {
		reqs[i] = inventory.Requirement{ItemID: item.ItemID, Quantity: item.Quantity}
	}

	avail, err := s.inventory.CheckAvailability(ctx, reqs)
	s.logOutbound(ctx, "inventory/check-availability", reqs, avail, err)
	if err != nil {
		return s.declined("inventory unavailable"), &DependencyError{Op: "check availability", Err: err}
	}
	if !avail.Available {
		// Nothing has committed downstream yet, so no ledger row is written.
		return s.declined(shortageMessage(avail)), &DependencyError{Op: "check availability", Err: ErrStockUnavailable}
	}

	meta := orders.Meta{Notes: req.Notes, ShippingAddress: req.ShippingAddress}
	total := req.TotalAmount
	if total <= 0 {
		total = computeTotal(req.Items)
	}

	order, err := s.orders.CreateOrder(ctx, req.CustomerID, req.Items, total, meta)
	s.logOutbound(ctx, "orders/create", req, order, err)
	if err != nil {
		return s.declined("order creation failed"), &DependencyError{Op: "create order", Err: err}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return s.declined("internal error"), fmt.Errorf("marshal request payload: %w", err)
	}

	externalID := req.ExternalOrderID
	if externalID == "" {
		externalID = "ext-" + transactionID
	}
	source := req.SourceSystem
	if source == "" {
		source = s.source
	}

	txn := Transaction{
		ID:              transactionID,
		ExternalOrderID: externalID,
		OrderID:         order.ID,
		TotalCost:       total,
		PaymentStatus:   PaymentPending,
		StockBefore:     StockSnapshot(avail.CurrentStock),
		SourceSystem:    source,
		RequestPayload:  string(payload),
		CreatedAt:       s.now(),
	}
	if err := s.ledger.Append(ctx, txn); err != nil {
		return s.declined("internal error"), fmt.Errorf("append transaction: %w", err)
	}

	s.publish(ctx, AuditEvent{
		Type:          EventOrderCreated,
		TransactionID: transactionID,
		OrderID:       order.ID,
		At:            s.now(),
	})

	return TransactionResult{
		Success:       true,
		TransactionID: transactionID,
		OrderID:       order.ID,
		TotalCost:     total,
		PaymentStatus: PaymentPending,
	}, nil
}

// ConfirmPayment runs the second half of the saga. Confirmations are
// serialized per transaction id, so a retry cannot interleave with itself.
// The irreversible stock decrement is the last outbound call.
func (s *Service) ConfirmPayment(ctx context.Context, transactionID, method string) (TransactionResult, error) {
	unlock := s.keys.lock(transactionID)
	defer unlock()

	txn, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return TransactionResult{Success: false, Message: "transaction not found"}, err
	}
	if txn.PaymentStatus == PaymentSuccess {
		return TransactionResult{
			Success:       false,
			TransactionID: transactionID,
			PaymentStatus: PaymentSuccess,
			Message:       "already processed",
		}, ErrAlreadyProcessed
	}

	payment, err := s.payments.CreatePayment(ctx, txn.OrderID, txn.TotalCost, method)
	s.logOutbound(ctx, "payments/create", map[string]any{"order_id": txn.OrderID, "amount": txn.TotalCost}, payment, err)
	if err != nil {
		return s.failConfirmation(ctx, txn, "", &DependencyError{Op: "create payment", Err: err})
	}

	confirmed, err := s.payments.ConfirmPayment(ctx, payment.ID)
	s.logOutbound(ctx, "payments/confirm", payment.ID, confirmed, err)
	if err != nil {
		return s.failConfirmation(ctx, txn, payment.ID, &DependencyError{Op: "confirm payment", Err: err})
	}
	if confirmed.Status != payments.StatusConfirmed {
		err := fmt.Errorf("payment %s finished with status %s", payment.ID, confirmed.Status)
		return s.failConfirmation(ctx, txn, payment.ID, &DependencyError{Op: "confirm payment", Err: err})
	}

	var original CreateOrderRequest
	if err := json.Unmarshal([]byte(txn.RequestPayload), &original); err != nil {
		return s.failConfirmation(ctx, txn, payment.ID, fmt.Errorf("decode request payload: %w", err))
	}

	// Final outbound step: decrement stock for every line item. Nothing
	// irreversible follows, so there is no compensation path to maintain.
	after := make(StockSnapshot, 0, len(original.Items))
	for _, item := range original.Items {
		quantity, err := s.inventory.AdjustStock(ctx, item.ItemID, -item.Quantity)
		s.logOutbound(ctx, "inventory/adjust-stock", map[string]any{"item_id": item.ItemID, "delta": -item.Quantity}, quantity, err)
		if err != nil {
			return s.failConfirmation(ctx, txn, payment.ID, &DependencyError{Op: "adjust stock", Err: err})
		}
		after = append(after, inventory.StockLevel{ItemID: item.ItemID, Quantity: quantity})
	}
	s.publish(ctx, AuditEvent{
		Type:          EventStockAdjusted,
		TransactionID: transactionID,
		OrderID:       txn.OrderID,
		Detail:        fmt.Sprintf("%d items decremented", len(after)),
		At:            s.now(),
	})

	updated, err := s.ledger.MarkSuccess(ctx, transactionID, payment.ID, method, after, s.now())
	if err != nil {
		return TransactionResult{Success: false, Message: "internal error"}, fmt.Errorf("mark transaction success: %w", err)
	}
	if !updated {
		return TransactionResult{
			Success:       false,
			TransactionID: transactionID,
			PaymentStatus: PaymentSuccess,
			Message:       "already processed",
		}, ErrAlreadyProcessed
	}

	s.publish(ctx, AuditEvent{
		Type:          EventPaymentConfirmed,
		TransactionID: transactionID,
		OrderID:       txn.OrderID,
		At:            s.now(),
	})

	return TransactionResult{
		Success:       true,
		TransactionID: transactionID,
		OrderID:       txn.OrderID,
		PaymentID:     payment.ID,
		TotalCost:     txn.TotalCost,
		PaymentStatus: PaymentSuccess,
	}, nil
}

// GetTransaction returns one ledger row.
func (s *Service) GetTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	return s.ledger.Get(ctx, transactionID)
}

// Statistics aggregates ledger counts and deduplicated revenue.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	counts, err := s.ledger.Counts(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("ledger counts: %w", err)
	}
	revenue, err := s.payments.Revenue(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("payment revenue: %w", err)
	}
	return Statistics{
		Total:     counts.Total,
		Succeeded: counts.Succeeded,
		Pending:   counts.Pending,
		Failed:    counts.Failed,
		Revenue:   revenue,
	}, nil
}

// failConfirmation records the failure on the ledger (best effort, never
// reverting SUCCESS), publishes the audit event, and surfaces the error.
func (s *Service) failConfirmation(ctx context.Context, txn Transaction, paymentID string, cause error) (TransactionResult, error) {
	details := cause.Error()
	if paymentID != "" {
		details = fmt.Sprintf("payment %s: %s", paymentID, details)
	}
	if err := s.ledger.MarkFailed(ctx, txn.ID, details); err != nil {
		s.logger.ErrorContext(ctx, "mark transaction failed", "transaction_id", txn.ID, "error", err)
	}
	s.publish(ctx, AuditEvent{
		Type:          EventPaymentFailed,
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		Detail:        details,
		At:            s.now(),
	})
	return TransactionResult{
		Success:       false,
		TransactionID: txn.ID,
		PaymentStatus: PaymentFailed,
		Message:       details,
	}, cause
}

func (s *Service) publish(ctx context.Context, event AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed", "event", event.Type, "error", err)
	}
}

// logOutbound appends one integration log entry for an outbound call.
// Failures to write the entry are swallowed by the recorder.
func (s *Service) logOutbound(ctx context.Context, endpoint string, request, response any, callErr error) {
	entry := intlog.Entry{
		Direction:   intlog.DirectionOutgoing,
		Endpoint:    endpoint,
		Method:      "POST",
		RequestBody: compactJSON(request),
		CreatedAt:   s.now(),
	}
	if callErr != nil {
		entry.ErrorMessage = intlog.Classify(callErr) + ": " + callErr.Error()
	} else {
		entry.ResponseBody = compactJSON(response)
	}
	_ = s.intlog.Record(ctx, entry)
}

func (s *Service) declined(message string) TransactionResult {
	return TransactionResult{Success: false, Message: message}
}

func validateCreateOrder(req CreateOrderRequest) string {
	if req.CustomerID == "" {
		return "customer id is required"
	}
	if len(req.Items) == 0 {
		return "at least one item is required"
	}
	for i, item := range req.Items {
		if item.ItemID == "" {
			return fmt.Sprintf("item %d: item id is required", i)
		}
		if item.Quantity <= 0 {
			return fmt.Sprintf("item %d: quantity must be positive", i)
		}
		if item.UnitPrice <= 0 {
			return fmt.Sprintf("item %d: price must be positive", i)
		}
	}
	return ""
}

func computeTotal(items []orders.LineItem) float64 {
	var total float64
	for _, item := range items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}

func shortageMessage(avail inventory.Availability) string {
	if len(avail.Shortages) == 0 {
		return "insufficient stock"
	}
	ids := make([]string, len(avail.Shortages))
	for i, shortage := range avail.Shortages {
		ids[i] = shortage.ItemID
	}
	return "insufficient stock for items: " + strings.Join(ids, ", ")
}

func compactJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// keyedMutex serializes work per key (single writer per transaction id).
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

package saga

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NewMemoryLedger constructs an in-memory ledger store.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		txns: make(map[string]*Transaction),
	}
}

// MemoryLedger keeps transactions in memory with the same update-if-not-
// SUCCESS semantics as the Postgres store.
type MemoryLedger struct {
	mu   sync.Mutex
	txns map[string]*Transaction
}

func (l *MemoryLedger) Append(ctx context.Context, txn Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.txns[txn.ID]; exists {
		return fmt.Errorf("transaction %s already exists", txn.ID)
	}
	copied := txn
	l.txns[txn.ID] = &copied
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, transactionID string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	txn, ok := l.txns[transactionID]
	if !ok || txn.Deleted {
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	return *txn, nil
}

func (l *MemoryLedger) MarkSuccess(ctx context.Context, transactionID, paymentID, method string, after StockSnapshot, completedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	txn, ok := l.txns[transactionID]
	if !ok || txn.Deleted {
		return false, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	if txn.PaymentStatus == PaymentSuccess {
		return false, nil
	}
	txn.PaymentStatus = PaymentSuccess
	txn.PaymentID = paymentID
	txn.PaymentMethod = method
	txn.StockAfter = append(StockSnapshot(nil), after...)
	txn.CompletedAt = completedAt
	txn.ErrorDetails = ""
	return true, nil
}

func (l *MemoryLedger) MarkFailed(ctx context.Context, transactionID, errorDetails string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	txn, ok := l.txns[transactionID]
	if !ok || txn.Deleted {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	// SUCCESS is terminal; a late failure report must not revert it.
	if txn.PaymentStatus == PaymentSuccess {
		return nil
	}
	txn.PaymentStatus = PaymentFailed
	txn.ErrorDetails = errorDetails
	return nil
}

func (l *MemoryLedger) Counts(ctx context.Context) (LedgerCounts, error) {
	if err := ctx.Err(); err != nil {
		return LedgerCounts{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var counts LedgerCounts
	for _, txn := range l.txns {
		if txn.Deleted {
			continue
		}
		counts.Total++
		switch txn.PaymentStatus {
		case PaymentSuccess:
			counts.Succeeded++
		case PaymentFailed:
			counts.Failed++
		default:
			counts.Pending++
		}
	}
	return counts, nil
}

// SoftDelete flags a transaction as deleted without removing the row.
func (l *MemoryLedger) SoftDelete(ctx context.Context, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	txn, ok := l.txns[transactionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	txn.Deleted = true
	return nil
}

// Package sagadb persists the transaction ledger in Postgres.
package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment/internal/saga"
)

// LedgerStore persists saga transactions in Postgres.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore constructs a LedgerStore backed by Postgres.
func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// NewLedgerStoreWithSchema initializes the schema then returns the store.
func NewLedgerStoreWithSchema(ctx context.Context, db *sql.DB) (*LedgerStore, error) {
	store := NewLedgerStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the transactions table if it does not exist.
func (s *LedgerStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			external_order_id TEXT NOT NULL,
			order_id TEXT,
			payment_id TEXT,
			payment_method TEXT,
			total_cost DOUBLE PRECISION NOT NULL,
			payment_status TEXT NOT NULL,
			stock_before TEXT,
			stock_after TEXT,
			source_system TEXT NOT NULL DEFAULT '',
			request_payload TEXT NOT NULL DEFAULT '',
			error_details TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			deleted_at TIMESTAMPTZ
		)`)
	return err
}

func (s *LedgerStore) Append(ctx context.Context, txn saga.Transaction) error {
	before, err := marshalSnapshot(txn.StockBefore)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions
			(transaction_id, external_order_id, order_id, total_cost, payment_status,
			 stock_before, source_system, request_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, txn.ExternalOrderID, txn.OrderID, txn.TotalCost, string(txn.PaymentStatus),
		before, txn.SourceSystem, txn.RequestPayload, txn.CreatedAt,
	)
	return err
}

func (s *LedgerStore) Get(ctx context.Context, transactionID string) (saga.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, external_order_id, COALESCE(order_id, ''),
			COALESCE(payment_id, ''), COALESCE(payment_method, ''), total_cost,
			payment_status, COALESCE(stock_before, ''), COALESCE(stock_after, ''),
			source_system, request_payload, COALESCE(error_details, ''),
			created_at, completed_at
		FROM transactions
		WHERE transaction_id = $1 AND deleted_at IS NULL`,
		transactionID,
	)

	var txn saga.Transaction
	var status, before, after string
	var completedAt sql.NullTime
	err := row.Scan(&txn.ID, &txn.ExternalOrderID, &txn.OrderID,
		&txn.PaymentID, &txn.PaymentMethod, &txn.TotalCost,
		&status, &before, &after,
		&txn.SourceSystem, &txn.RequestPayload, &txn.ErrorDetails,
		&txn.CreatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return saga.Transaction{}, fmt.Errorf("%w: %s", saga.ErrTransactionNotFound, transactionID)
	}
	if err != nil {
		return saga.Transaction{}, err
	}

	txn.PaymentStatus = saga.PaymentStatus(status)
	if completedAt.Valid {
		txn.CompletedAt = completedAt.Time
	}
	if txn.StockBefore, err = unmarshalSnapshot(before); err != nil {
		return saga.Transaction{}, err
	}
	if txn.StockAfter, err = unmarshalSnapshot(after); err != nil {
		return saga.Transaction{}, err
	}
	return txn, nil
}

// MarkSuccess promotes the transaction to SUCCESS unless it already is.
// The WHERE clause makes SUCCESS terminal at the data layer.
func (s *LedgerStore) MarkSuccess(ctx context.Context, transactionID, paymentID, method string, after saga.StockSnapshot, completedAt time.Time) (bool, error) {
	snapshot, err := marshalSnapshot(after)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = $2, payment_id = $3, payment_method = $4,
			stock_after = $5, completed_at = $6, error_details = NULL
		WHERE transaction_id = $1 AND payment_status <> $2 AND deleted_at IS NULL`,
		transactionID, string(saga.PaymentSuccess), paymentID, method, snapshot, completedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *LedgerStore) MarkFailed(ctx context.Context, transactionID, errorDetails string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = $2, error_details = $3
		WHERE transaction_id = $1 AND payment_status <> $4 AND deleted_at IS NULL`,
		transactionID, string(saga.PaymentFailed), errorDetails, string(saga.PaymentSuccess),
	)
	return err
}

func (s *LedgerStore) Counts(ctx context.Context) (saga.LedgerCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_status, COUNT(*)
		FROM transactions
		WHERE deleted_at IS NULL
		GROUP BY payment_status`)
	if err != nil {
		return saga.LedgerCounts{}, err
	}
	defer rows.Close()

	var counts saga.LedgerCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return saga.LedgerCounts{}, err
		}
		counts.Total += n
		switch saga.PaymentStatus(status) {
		case saga.PaymentSuccess:
			counts.Succeeded += n
		case saga.PaymentFailed:
			counts.Failed += n
		default:
			counts.Pending += n
		}
	}
	return counts, rows.Err()
}

// SoftDelete flags a transaction as deleted; rows are never removed.
func (s *LedgerStore) SoftDelete(ctx context.Context, transactionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET deleted_at = NOW()
		WHERE transaction_id = $1 AND deleted_at IS NULL`,
		transactionID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", saga.ErrTransactionNotFound, transactionID)
	}
	return nil
}

func marshalSnapshot(snapshot saga.StockSnapshot) (string, error) {
	if len(snapshot) == 0 {
		return "", nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal stock snapshot: %w", err)
	}
	return string(data), nil
}

func unmarshalSnapshot(raw string) (saga.StockSnapshot, error) {
	if raw == "" {
		return nil, nil
	}
	var snapshot saga.StockSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal stock snapshot: %w", err)
	}
	return snapshot, nil
}

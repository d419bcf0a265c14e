// Package paymentsdb persists payments in Postgres. The at-most-one-
// confirmed-payment-per-order invariant is enforced by a partial unique
// index, with a per-order advisory lock serializing the guard-then-insert
// sequence.
package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"fulfillment/internal/payments"
)

// PaymentStore persists payments in Postgres.
type PaymentStore struct {
	db    *sql.DB
	newID func() string
}

// NewPaymentStore constructs a PaymentStore backed by Postgres.
func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{
		db:    db,
		newID: func() string { return "pay-" + uuid.NewString() },
	}
}

// NewPaymentStoreWithSchema initializes the schema then returns the store.
func NewPaymentStoreWithSchema(ctx context.Context, db *sql.DB) (*PaymentStore, error) {
	store := NewPaymentStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the payments table and the confirmed-uniqueness index.
func (s *PaymentStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			payment_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS payments_one_confirmed_per_order
			ON payments (order_id) WHERE status = 'confirmed'`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create applies the duplicate-payment guard and inserts a pending payment.
// The advisory lock is transaction-scoped and keyed by order id, so two
// concurrent creations for the same order cannot both pass the guard.
func (s *PaymentStore) Create(ctx context.Context, orderID string, amount float64, method string) (payments.Payment, error) {
	if orderID == "" {
		return payments.Payment{}, errors.New("order id required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return payments.Payment{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orderID); err != nil {
		return payments.Payment{}, err
	}

	existing, err := listByOrder(ctx, tx, orderID)
	if err != nil {
		return payments.Payment{}, err
	}
	if err := payments.GuardExisting(existing); err != nil {
		return payments.Payment{}, err
	}

	payment := payments.Payment{
		ID:      s.newID(),
		OrderID: orderID,
		Amount:  amount,
		Method:  method,
		Status:  payments.StatusPending,
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO payments (payment_id, order_id, amount, method, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		payment.ID, payment.OrderID, payment.Amount, payment.Method, string(payment.Status),
	)
	if err := row.Scan(&payment.CreatedAt); err != nil {
		return payments.Payment{}, err
	}

	if err := tx.Commit(); err != nil {
		return payments.Payment{}, err
	}
	return payment, nil
}

// Confirm promotes a pending payment to confirmed. The partial unique
// index is the authoritative constraint: a concurrent confirmation for
// the same order fails with a uniqueness violation, reported as
// ErrAlreadyConfirmed.
func (s *PaymentStore) Confirm(ctx context.Context, paymentID string) (payments.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE payments SET status = $2
		WHERE payment_id = $1 AND status = $3
		RETURNING payment_id, order_id, amount, method, status, created_at`,
		paymentID, string(payments.StatusConfirmed), string(payments.StatusPending),
	)

	payment, err := scanPayment(row)
	if err == nil {
		return payment, nil
	}
	if isUniqueViolation(err) {
		return payments.Payment{}, payments.ErrAlreadyConfirmed
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return payments.Payment{}, err
	}

	// No pending row matched: distinguish unknown from non-pending.
	var status string
	check := s.db.QueryRowContext(ctx, `SELECT status FROM payments WHERE payment_id = $1`, paymentID)
	switch scanErr := check.Scan(&status); {
	case scanErr == nil:
		return payments.Payment{}, fmt.Errorf("%w: %s is %s", payments.ErrNotPending, paymentID, status)
	case errors.Is(scanErr, sql.ErrNoRows):
		return payments.Payment{}, fmt.Errorf("%w: %s", payments.ErrPaymentNotFound, paymentID)
	default:
		return payments.Payment{}, scanErr
	}
}

func (s *PaymentStore) ListByOrder(ctx context.Context, orderID string) ([]payments.Payment, error) {
	return listByOrder(ctx, s.db, orderID)
}

// Revenue sums the earliest-created confirmed payment per order. The
// DISTINCT ON keeps the aggregation correct even if duplicate confirmed
// rows ever slipped past the guard.
func (s *PaymentStore) Revenue(ctx context.Context) (float64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM (
			SELECT DISTINCT ON (order_id) amount
			FROM payments
			WHERE status = $1
			ORDER BY order_id, created_at ASC
		) first_confirmed`,
		string(payments.StatusConfirmed),
	)
	var revenue float64
	if err := row.Scan(&revenue); err != nil {
		return 0, err
	}
	return revenue, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listByOrder(ctx context.Context, q querier, orderID string) ([]payments.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT payment_id, order_id, amount, method, status, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at ASC`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payments.Payment
	for rows.Next() {
		var p payments.Payment
		var status string
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &status, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Status = payments.Status(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (payments.Payment, error) {
	var p payments.Payment
	var status string
	if err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &status, &p.CreatedAt); err != nil {
		return payments.Payment{}, err
	}
	p.Status = payments.Status(status)
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

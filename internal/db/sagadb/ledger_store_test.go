package sagadb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"fulfillment/internal/saga"
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

func TestLedgerStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewLedgerStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestLedgerStore_Append(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs("txn-1", "ext-1", "order-1", 2500.0, "PENDING",
			`[{"item_id":"item-1","quantity":10}]`, "facade", `{"customer_id":"cust-1"}`, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewLedgerStore(db)
	err := store.Append(context.Background(), saga.Transaction{
		ID:              "txn-1",
		ExternalOrderID: "ext-1",
		OrderID:         "order-1",
		TotalCost:       2500,
		PaymentStatus:   saga.PaymentPending,
		StockBefore:     saga.StockSnapshot{{ItemID: "item-1", Quantity: 10}},
		SourceSystem:    "facade",
		RequestPayload:  `{"customer_id":"cust-1"}`,
		CreatedAt:       createdAt,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestLedgerStore_Get_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT transaction_id").
		WithArgs("txn-404").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewLedgerStore(db)
	_, err := store.Get(context.Background(), "txn-404")
	if !errors.Is(err, saga.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestLedgerStore_Get(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"transaction_id", "external_order_id", "order_id", "payment_id", "payment_method",
		"total_cost", "payment_status", "stock_before", "stock_after",
		"source_system", "request_payload", "error_details", "created_at", "completed_at",
	}).AddRow("txn-1", "ext-1", "order-1", "", "", 2500.0, "PENDING",
		`[{"item_id":"item-1","quantity":10}]`, "", "facade", "{}", "", createdAt, nil)

	mock.ExpectQuery("SELECT transaction_id").
		WithArgs("txn-1").
		WillReturnRows(rows)
	mock.ExpectClose()

	store := NewLedgerStore(db)
	txn, err := store.Get(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if txn.PaymentStatus != saga.PaymentPending {
		t.Fatalf("unexpected status: %s", txn.PaymentStatus)
	}
	if len(txn.StockBefore) != 1 || txn.StockBefore[0].ItemID != "item-1" {
		t.Fatalf("unexpected snapshot: %+v", txn.StockBefore)
	}
	if !txn.CompletedAt.IsZero() {
		t.Fatalf("expected zero completion time")
	}
}

func TestLedgerStore_MarkSuccess_Updates(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	completedAt := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE transactions").
		WithArgs("txn-1", "SUCCESS", "pay-1", "card",
			`[{"item_id":"item-1","quantity":8}]`, completedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewLedgerStore(db)
	updated, err := store.MarkSuccess(context.Background(), "txn-1", "pay-1", "card",
		saga.StockSnapshot{{ItemID: "item-1", Quantity: 8}}, completedAt)
	if err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
	if !updated {
		t.Fatalf("expected update")
	}
}

func TestLedgerStore_MarkSuccess_AlreadySuccess(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	completedAt := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE transactions").
		WithArgs("txn-1", "SUCCESS", "pay-2", "card", "", completedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewLedgerStore(db)
	updated, err := store.MarkSuccess(context.Background(), "txn-1", "pay-2", "card", nil, completedAt)
	if err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
	if updated {
		t.Fatalf("expected no-op on already-SUCCESS row")
	}
}

func TestLedgerStore_MarkFailed(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE transactions").
		WithArgs("txn-1", "FAILED", "payment gateway down", "SUCCESS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewLedgerStore(db)
	if err := store.MarkFailed(context.Background(), "txn-1", "payment gateway down"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
}

func TestLedgerStore_Counts(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	rows := sqlmock.NewRows([]string{"payment_status", "count"}).
		AddRow("SUCCESS", 3).
		AddRow("PENDING", 2).
		AddRow("FAILED", 1)
	mock.ExpectQuery("SELECT payment_status, COUNT").
		WillReturnRows(rows)
	mock.ExpectClose()

	store := NewLedgerStore(db)
	counts, err := store.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := saga.LedgerCounts{Total: 6, Succeeded: 3, Pending: 2, Failed: 1}
	if counts != want {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestLedgerStore_SoftDelete_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE transactions SET deleted_at").
		WithArgs("txn-404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewLedgerStore(db)
	err := store.SoftDelete(context.Background(), "txn-404")
	if !errors.Is(err, saga.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

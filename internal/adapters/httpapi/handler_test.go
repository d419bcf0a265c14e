package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fulfillment/internal/intlog"
	"fulfillment/internal/inventory"
	"fulfillment/internal/observability"
	"fulfillment/internal/orders"
	"fulfillment/internal/payments"
	"fulfillment/internal/saga"
	"fulfillment/internal/stockadjust"
)

type fixture struct {
	router    http.Handler
	inventory *inventory.MemoryStore
	orders    *orders.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	inventoryStore := inventory.NewMemoryStore()
	inventoryStore.Put(inventory.Item{ID: "item-1", Name: "flour", Quantity: 10, Unit: "kg"})
	inventoryStore.Put(inventory.Item{ID: "item-2", Name: "sugar", Quantity: 5, Unit: "kg"})

	orderStore := orders.NewMemoryStore(nil, nil)
	paymentStore := payments.NewMemoryStore(nil, nil)

	service := saga.NewService(saga.ServiceConfig{
		Inventory: saga.NewLocalInventoryClient(inventoryStore),
		Orders:    saga.NewLocalOrderClient(orderStore),
		Payments:  saga.NewLocalPaymentClient(paymentStore),
		Ledger:    saga.NewMemoryLedger(),
		IntLog:    intlog.NewSafeRecorder(intlog.NewMemoryRecorder(), nil),
	})

	trigger := stockadjust.NewTrigger(inventoryStore, nil)
	handler := NewHandler(service, orderStore, trigger, observability.NewMetrics(), nil)

	return &fixture{
		router:    NewRouter(handler, nil, nil),
		inventory: inventoryStore,
		orders:    orderStore,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) saga.TransactionResult {
	t.Helper()
	var result saga.TransactionResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v (body %s)", err, rr.Body.String())
	}
	return result
}

const createOrderBody = `{
	"customer_id": "cust-1",
	"items": [
		{"item_id": "item-1", "quantity": 2, "unit_price": 1000},
		{"item_id": "item-2", "quantity": 1, "unit_price": 500}
	]
}`

func TestCreateOrder_Succeeds(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/orders", createOrderBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	result := decodeResult(t, rr)
	if !result.Success || result.TransactionID == "" || result.OrderID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.TotalCost != 2500 || result.PaymentStatus != saga.PaymentPending {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCreateOrder_ValidationFailure(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/orders", `{"customer_id": "", "items": []}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "invalid_request" {
		t.Fatalf("unexpected error code: %+v", resp)
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/orders", `{
		"customer_id": "cust-1",
		"items": [{"item_id": "item-2", "quantity": 50, "unit_price": 100}]
	}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}

	result := decodeResult(t, rr)
	if result.Success || !strings.Contains(result.Message, "item-2") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCreateOrder_MalformedJSON(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/orders", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestConfirmPayment_FullFlow(t *testing.T) {
	f := newFixture(t)

	created := decodeResult(t, f.do(t, http.MethodPost, "/orders", createOrderBody))

	rr := f.do(t, http.MethodPost, "/transactions/"+created.TransactionID+"/confirm", `{"method":"card"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	confirmed := decodeResult(t, rr)
	if !confirmed.Success || confirmed.PaymentStatus != saga.PaymentSuccess || confirmed.PaymentID == "" {
		t.Fatalf("unexpected result: %+v", confirmed)
	}

	// Stock drawn down by the confirmed order.
	item, err := f.inventory.Get(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Quantity != 8 {
		t.Fatalf("expected 8, got %d", item.Quantity)
	}
}

func TestConfirmPayment_ReplayConflicts(t *testing.T) {
	f := newFixture(t)

	created := decodeResult(t, f.do(t, http.MethodPost, "/orders", createOrderBody))
	path := "/transactions/" + created.TransactionID + "/confirm"

	if rr := f.do(t, http.MethodPost, path, `{"method":"card"}`); rr.Code != http.StatusOK {
		t.Fatalf("first confirm: expected 200, got %d", rr.Code)
	}

	rr := f.do(t, http.MethodPost, path, `{"method":"card"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	replay := decodeResult(t, rr)
	if replay.Success || replay.PaymentStatus != saga.PaymentSuccess {
		t.Fatalf("unexpected replay result: %+v", replay)
	}

	// A replay must not decrement stock a second time.
	item, _ := f.inventory.Get(context.Background(), "item-1")
	if item.Quantity != 8 {
		t.Fatalf("expected 8 after replay, got %d", item.Quantity)
	}
}

func TestConfirmPayment_EmptyBodyUsesDefaultMethod(t *testing.T) {
	f := newFixture(t)

	created := decodeResult(t, f.do(t, http.MethodPost, "/orders", createOrderBody))

	rr := f.do(t, http.MethodPost, "/transactions/"+created.TransactionID+"/confirm", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetTransaction(t *testing.T) {
	f := newFixture(t)

	created := decodeResult(t, f.do(t, http.MethodPost, "/orders", createOrderBody))

	rr := f.do(t, http.MethodGet, "/transactions/"+created.TransactionID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp transactionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TransactionID != created.TransactionID || resp.PaymentStatus != saga.PaymentPending {
		t.Fatalf("unexpected transaction: %+v", resp)
	}
	if len(resp.StockBefore) != 2 {
		t.Fatalf("expected stock snapshot, got %+v", resp.StockBefore)
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/transactions/txn-404", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetStatistics(t *testing.T) {
	f := newFixture(t)

	created := decodeResult(t, f.do(t, http.MethodPost, "/orders", createOrderBody))
	f.do(t, http.MethodPost, "/transactions/"+created.TransactionID+"/confirm", `{"method":"card"}`)

	rr := f.do(t, http.MethodGet, "/statistics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var stats saga.Statistics
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 1 || stats.Succeeded != 1 || stats.Revenue != 2500 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

func TestSetOrderStatus_ShippedAdjustsStock(t *testing.T) {
	f := newFixture(t)

	order, err := f.orders.Create(context.Background(), "cust-2",
		[]orders.LineItem{{ItemID: "item-2", Quantity: 2, UnitPrice: 100}}, 200, orders.Meta{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, status := range []string{"confirmed", "processing"} {
		rr := f.do(t, http.MethodPost, "/orders/"+order.ID+"/status", `{"status":"`+status+`"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("transition to %s: got %d: %s", status, rr.Code, rr.Body.String())
		}
	}

	rr := f.do(t, http.MethodPost, "/orders/"+order.ID+"/status", `{"status":"shipped"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp setStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.StockAdjustments) != 1 || resp.StockAdjustments[0].Quantity != 3 {
		t.Fatalf("unexpected adjustments: %+v", resp.StockAdjustments)
	}
}

func TestSetOrderStatus_InvalidTransition(t *testing.T) {
	f := newFixture(t)

	order, err := f.orders.Create(context.Background(), "cust-2",
		[]orders.LineItem{{ItemID: "item-1", Quantity: 1, UnitPrice: 100}}, 100, orders.Meta{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rr := f.do(t, http.MethodPost, "/orders/"+order.ID+"/status", `{"status":"delivered"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPayInvoice(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/supplier-invoices/pay", `{
		"invoice_id": "inv-1",
		"lines": [
			{"item_id": "item-1", "name": "flour", "quantity": 20},
			{"name": "saffron", "quantity": 2, "unit": "g"}
		]
	}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp payInvoiceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %+v", resp.Results)
	}
	if resp.Results[0].Outcome != stockadjust.OutcomeUpdated || resp.Results[0].Quantity != 30 {
		t.Fatalf("unexpected first result: %+v", resp.Results[0])
	}
	if resp.Results[1].Outcome != stockadjust.OutcomeCreated {
		t.Fatalf("unexpected second result: %+v", resp.Results[1])
	}
}

func TestPayInvoice_RequiresLines(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/supplier-invoices/pay", `{"invoice_id": "inv-1", "lines": []}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

// Package httpapi is the JSON facade over the fulfillment saga. It
// translates HTTP requests into orchestrator calls and maps the error
// taxonomy onto status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fulfillment/internal/inventory"
	"fulfillment/internal/observability"
	"fulfillment/internal/orders"
	"fulfillment/internal/saga"
	"fulfillment/internal/stockadjust"
)

// Handler serves the fulfillment HTTP API.
type Handler struct {
	service *saga.Service
	orders  orders.Store
	trigger *stockadjust.Trigger
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewHandler constructs the facade handler. metrics may be nil.
func NewHandler(service *saga.Service, orderStore orders.Store, trigger *stockadjust.Trigger, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		orders:  orderStore,
		trigger: trigger,
		metrics: metrics,
		logger:  logger,
	}
}

// CreateOrder validates the request and runs the first saga half.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("saga.CreateOrder")

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	result, err := h.service.CreateOrder(r.Context(), req.toSaga())
	span.End(err)
	if err != nil {
		var validation *saga.ValidationError
		if !errors.As(err, &validation) {
			h.metrics.MarkDeclined()
		}
		h.writeSagaError(w, r, result, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// ConfirmPayment runs the second saga half for one transaction.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("saga.ConfirmPayment")

	transactionID := chi.URLParam(r, "id")
	var req confirmPaymentRequest
	// An empty body means "default payment method"; only malformed JSON
	// is rejected.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		span.End(err)
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	result, err := h.service.ConfirmPayment(r.Context(), transactionID, req.Method)
	span.End(err)
	if err != nil {
		if errors.Is(err, saga.ErrAlreadyProcessed) {
			h.metrics.MarkReplayed()
			writeJSON(w, http.StatusConflict, result)
			return
		}
		h.metrics.MarkFailed()
		h.writeSagaError(w, r, result, err)
		return
	}

	h.metrics.MarkSucceeded()
	writeJSON(w, http.StatusOK, result)
}

// GetTransaction returns one ledger row.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("saga.GetTransaction")

	txn, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	span.End(err)
	if err != nil {
		if errors.Is(err, saga.ErrTransactionNotFound) {
			writeError(w, http.StatusNotFound, "transaction_not_found", err.Error())
			return
		}
		h.writeInternal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// GetStatistics returns the operator rollup.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("saga.GetStatistics")

	stats, err := h.service.Statistics(r.Context())
	span.End(err)
	if err != nil {
		h.writeSagaError(w, r, saga.TransactionResult{}, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// SetOrderStatus moves an order one step forward. Shipping triggers the
// stock decrement for every shipped line.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("orders.SetStatus")

	orderID := chi.URLParam(r, "id")
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Status == "" {
		span.End(errors.New("status required"))
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "status is required")
		return
	}

	order, err := h.orders.SetStatus(r.Context(), orderID, orders.Status(req.Status))
	span.End(err)
	if err != nil {
		var invalid *orders.InvalidTransitionError
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order_not_found", err.Error())
		case errors.As(err, &invalid):
			writeError(w, http.StatusConflict, "invalid_transition", invalid.Error())
		default:
			h.writeInternal(w, r, err)
		}
		return
	}

	resp := setStatusResponse{OrderID: order.ID, Status: string(order.Status)}
	if order.Status == orders.StatusShipped && h.trigger != nil {
		resp.StockAdjustments = h.trigger.OnOrderShipped(r.Context(), order)
		if stockadjust.Failed(resp.StockAdjustments) {
			h.logger.WarnContext(r.Context(), "shipment stock adjustment incomplete",
				"order_id", order.ID)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// PayInvoice applies a paid supplier invoice to stock, line by line.
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	span := h.metrics.Start("stockadjust.PayInvoice")

	var invoice stockadjust.SupplierInvoice
	if err := json.NewDecoder(r.Body).Decode(&invoice); err != nil {
		span.End(err)
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if invoice.InvoiceID == "" || len(invoice.Lines) == 0 {
		span.End(errors.New("invalid invoice"))
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "invoice_id and lines are required")
		return
	}

	results := h.trigger.OnSupplierInvoicePaid(r.Context(), invoice)
	span.End(nil)

	writeJSON(w, http.StatusOK, payInvoiceResponse{InvoiceID: invoice.InvoiceID, Results: results})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeSagaError maps the orchestrator's error taxonomy onto HTTP codes.
func (h *Handler) writeSagaError(w http.ResponseWriter, r *http.Request, result saga.TransactionResult, err error) {
	var validation *saga.ValidationError
	var dependency *saga.DependencyError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", validation.Reason)
	case errors.Is(err, saga.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "transaction_not_found", err.Error())
	case errors.Is(err, saga.ErrStockUnavailable):
		writeJSON(w, http.StatusConflict, result)
	case errors.As(err, &dependency):
		h.logger.ErrorContext(r.Context(), "dependency failure", "op", dependency.Op, "error", dependency.Err)
		var insufficient *inventory.InsufficientStockError
		if errors.As(err, &insufficient) {
			writeJSON(w, http.StatusConflict, result)
			return
		}
		writeError(w, http.StatusBadGateway, "dependency_failure", dependency.Error())
	default:
		h.writeInternal(w, r, err)
	}
}

func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "internal error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

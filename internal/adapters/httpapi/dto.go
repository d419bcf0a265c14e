package httpapi

import (
	"time"

	"fulfillment/internal/orders"
	"fulfillment/internal/saga"
	"fulfillment/internal/stockadjust"
)

type createOrderRequest struct {
	CustomerID      string         `json:"customer_id"`
	Items           []orderItemDTO `json:"items"`
	ExternalOrderID string         `json:"external_order_id,omitempty"`
	TotalAmount     float64        `json:"total_amount,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	ShippingAddress string         `json:"shipping_address,omitempty"`
	SourceSystem    string         `json:"source_system,omitempty"`
}

type orderItemDTO struct {
	ItemID    string  `json:"item_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func (r createOrderRequest) toSaga() saga.CreateOrderRequest {
	items := make([]orders.LineItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = orders.LineItem{
			ItemID:    item.ItemID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return saga.CreateOrderRequest{
		CustomerID:      r.CustomerID,
		Items:           items,
		ExternalOrderID: r.ExternalOrderID,
		TotalAmount:     r.TotalAmount,
		Notes:           r.Notes,
		ShippingAddress: r.ShippingAddress,
		SourceSystem:    r.SourceSystem,
	}
}

type confirmPaymentRequest struct {
	Method string `json:"method"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type setStatusResponse struct {
	OrderID          string                   `json:"order_id"`
	Status           string                   `json:"status"`
	StockAdjustments []stockadjust.ItemResult `json:"stock_adjustments,omitempty"`
}

type payInvoiceResponse struct {
	InvoiceID string                   `json:"invoice_id"`
	Results   []stockadjust.ItemResult `json:"results"`
}

type transactionResponse struct {
	TransactionID   string             `json:"transaction_id"`
	ExternalOrderID string             `json:"external_order_id,omitempty"`
	OrderID         string             `json:"order_id,omitempty"`
	PaymentID       string             `json:"payment_id,omitempty"`
	PaymentMethod   string             `json:"payment_method,omitempty"`
	TotalCost       float64            `json:"total_cost"`
	PaymentStatus   saga.PaymentStatus `json:"payment_status"`
	StockBefore     saga.StockSnapshot `json:"stock_before,omitempty"`
	StockAfter      saga.StockSnapshot `json:"stock_after,omitempty"`
	SourceSystem    string             `json:"source_system,omitempty"`
	ErrorDetails    string             `json:"error_details,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}

func toTransactionResponse(txn saga.Transaction) transactionResponse {
	resp := transactionResponse{
		TransactionID:   txn.ID,
		ExternalOrderID: txn.ExternalOrderID,
		OrderID:         txn.OrderID,
		PaymentID:       txn.PaymentID,
		PaymentMethod:   txn.PaymentMethod,
		TotalCost:       txn.TotalCost,
		PaymentStatus:   txn.PaymentStatus,
		StockBefore:     txn.StockBefore,
		StockAfter:      txn.StockAfter,
		SourceSystem:    txn.SourceSystem,
		ErrorDetails:    txn.ErrorDetails,
		CreatedAt:       txn.CreatedAt,
	}
	if !txn.CompletedAt.IsZero() {
		completed := txn.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

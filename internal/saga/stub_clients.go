package saga

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"fulfillment/internal/inventory"
	"fulfillment/internal/orders"
	"fulfillment/internal/payments"
)

// Stub clients stand in for collaborator services during development so
// the facade can run without every store deployed. They always succeed.
// Selection happens at startup behind an explicit switch (never silently)
// and must stay disabled in production-equivalent environments.

// StubInventoryClient reports unlimited stock.
type StubInventoryClient struct{}

func (StubInventoryClient) CheckAvailability(ctx context.Context, reqs []inventory.Requirement) (inventory.Availability, error) {
	avail := inventory.Availability{Available: true}
	for _, req := range reqs {
		avail.CurrentStock = append(avail.CurrentStock, inventory.StockLevel{
			ItemID:   req.ItemID,
			Quantity: req.Quantity * 100,
		})
	}
	return avail, nil
}

func (StubInventoryClient) AdjustStock(ctx context.Context, itemID string, delta int) (int, error) {
	if delta < 0 {
		return -delta * 99, nil
	}
	return delta, nil
}

// StubOrderClient mints synthetic order ids.
type StubOrderClient struct {
	seq atomic.Int64
}

func (c *StubOrderClient) CreateOrder(ctx context.Context, customerID string, items []orders.LineItem, total float64, meta orders.Meta) (orders.Order, error) {
	now := time.Now()
	return orders.Order{
		ID:         fmt.Sprintf("stub-order-%d", c.seq.Add(1)),
		CustomerID: customerID,
		Items:      items,
		TotalPrice: total,
		Status:     orders.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// StubPaymentClient confirms every payment.
type StubPaymentClient struct {
	seq atomic.Int64
}

func (c *StubPaymentClient) CreatePayment(ctx context.Context, orderID string, amount float64, method string) (payments.Payment, error) {
	return payments.Payment{
		ID:        fmt.Sprintf("stub-pay-%d", c.seq.Add(1)),
		OrderID:   orderID,
		Amount:    amount,
		Method:    method,
		Status:    payments.StatusPending,
		CreatedAt: time.Now(),
	}, nil
}

func (c *StubPaymentClient) ConfirmPayment(ctx context.Context, paymentID string) (payments.Payment, error) {
	return payments.Payment{
		ID:     paymentID,
		Status: payments.StatusConfirmed,
	}, nil
}

func (c *StubPaymentClient) Revenue(ctx context.Context) (float64, error) {
	return 0, nil
}

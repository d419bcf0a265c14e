package saga

import (
	"context"

	"fulfillment/internal/inventory"
	"fulfillment/internal/orders"
	"fulfillment/internal/payments"
)

// InventoryClient is the inventory store as seen by the orchestrator.
type InventoryClient interface {
	CheckAvailability(ctx context.Context, reqs []inventory.Requirement) (inventory.Availability, error)
	AdjustStock(ctx context.Context, itemID string, delta int) (int, error)
}

// OrderClient is the order store as seen by the orchestrator.
type OrderClient interface {
	CreateOrder(ctx context.Context, customerID string, items []orders.LineItem, total float64, meta orders.Meta) (orders.Order, error)
}

// PaymentClient is the payment store as seen by the orchestrator.
type PaymentClient interface {
	CreatePayment(ctx context.Context, orderID string, amount float64, method string) (payments.Payment, error)
	ConfirmPayment(ctx context.Context, paymentID string) (payments.Payment, error)
	Revenue(ctx context.Context) (float64, error)
}

// NewLocalInventoryClient adapts an inventory.Store to the client interface.
func NewLocalInventoryClient(store inventory.Store) *LocalInventoryClient {
	return &LocalInventoryClient{store: store}
}

// LocalInventoryClient serves inventory calls from an in-process store.
type LocalInventoryClient struct {
	store inventory.Store
}

func (c *LocalInventoryClient) CheckAvailability(ctx context.Context, reqs []inventory.Requirement) (inventory.Availability, error) {
	return c.store.CheckAvailability(ctx, reqs)
}

func (c *LocalInventoryClient) AdjustStock(ctx context.Context, itemID string, delta int) (int, error) {
	return c.store.AdjustStock(ctx, itemID, delta)
}

// NewLocalOrderClient adapts an orders.Store to the client interface.
func NewLocalOrderClient(store orders.Store) *LocalOrderClient {
	return &LocalOrderClient{store: store}
}

// LocalOrderClient serves order calls from an in-process store.
type LocalOrderClient struct {
	store orders.Store
}

func (c *LocalOrderClient) CreateOrder(ctx context.Context, customerID string, items []orders.LineItem, total float64, meta orders.Meta) (orders.Order, error) {
	return c.store.Create(ctx, customerID, items, total, meta)
}

// NewLocalPaymentClient adapts a payments.Store to the client interface.
func NewLocalPaymentClient(store payments.Store) *LocalPaymentClient {
	return &LocalPaymentClient{store: store}
}

// LocalPaymentClient serves payment calls from an in-process store.
type LocalPaymentClient struct {
	store payments.Store
}

func (c *LocalPaymentClient) CreatePayment(ctx context.Context, orderID string, amount float64, method string) (payments.Payment, error) {
	return c.store.Create(ctx, orderID, amount, method)
}

func (c *LocalPaymentClient) ConfirmPayment(ctx context.Context, paymentID string) (payments.Payment, error) {
	return c.store.Confirm(ctx, paymentID)
}

func (c *LocalPaymentClient) Revenue(ctx context.Context) (float64, error) {
	return c.store.Revenue(ctx)
}

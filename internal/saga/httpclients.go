package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fulfillment/internal/inventory"
	"fulfillment/internal/orders"
	"fulfillment/internal/payments"
)

// Error codes collaborator services return in JSON error bodies.
const (
	codeInsufficientStock    = "INSUFFICIENT_STOCK"
	codeItemNotFound         = "ITEM_NOT_FOUND"
	codeAlreadyConfirmed     = "ALREADY_CONFIRMED"
	codeAwaitingConfirmation = "AWAITING_CONFIRMATION"
	codePaymentExists        = "PAYMENT_EXISTS"
)

type remoteError struct {
	Code      string `json:"error"`
	Message   string `json:"message,omitempty"`
	Current   int    `json:"current_quantity,omitempty"`
	Requested int    `json:"requested_delta,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
}

// httpDoer is the client surface used by the HTTP collaborator clients.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON issues one JSON request/response round trip. A non-2xx status
// with a decodable error body is translated into a typed error; anything
// else becomes a plain error carrying the status.
func postJSON(ctx context.Context, client httpDoer, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var remote remoteError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if decodeErr := json.Unmarshal(data, &remote); decodeErr == nil && remote.Code != "" {
			return mapRemoteError(remote)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapRemoteError(remote remoteError) error {
	switch remote.Code {
	case codeInsufficientStock:
		return &inventory.InsufficientStockError{
			ItemID:    remote.ItemID,
			Current:   remote.Current,
			Requested: remote.Requested,
		}
	case codeItemNotFound:
		return fmt.Errorf("%w: %s", inventory.ErrItemNotFound, remote.ItemID)
	case codeAlreadyConfirmed:
		return payments.ErrAlreadyConfirmed
	case codeAwaitingConfirmation:
		return payments.ErrAwaitingConfirmation
	case codePaymentExists:
		return payments.ErrPaymentExists
	default:
		if remote.Message != "" {
			return fmt.Errorf("%s: %s", remote.Code, remote.Message)
		}
		return fmt.Errorf("remote error: %s", remote.Code)
	}
}

// NewHTTPInventoryClient constructs a client for a remote inventory store.
func NewHTTPInventoryClient(baseURL string, timeout time.Duration) *HTTPInventoryClient {
	return &HTTPInventoryClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: newHTTPClient(timeout),
	}
}

// HTTPInventoryClient calls a remote inventory store over JSON.
type HTTPInventoryClient struct {
	base   string
	client httpDoer
}

func (c *HTTPInventoryClient) CheckAvailability(ctx context.Context, reqs []inventory.Requirement) (inventory.Availability, error) {
	request := struct {
		Items []inventory.Requirement `json:"items"`
	}{Items: reqs}
	var response struct {
		Available    bool                    `json:"available"`
		CurrentStock []inventory.StockLevel  `json:"current_stock"`
		Shortages    []inventory.Requirement `json:"shortages"`
	}
	if err := postJSON(ctx, c.client, http.MethodPost, c.base+"/check-availability", request, &response); err != nil {
		return inventory.Availability{}, err
	}
	return inventory.Availability{
		Available:    response.Available,
		CurrentStock: response.CurrentStock,
		Shortages:    response.Shortages,
	}, nil
}

func (c *HTTPInventoryClient) AdjustStock(ctx context.Context, itemID string, delta int) (int, error) {
	request := struct {
		ItemID string `json:"item_id"`
		Delta  int    `json:"delta"`
	}{ItemID: itemID, Delta: delta}
	var response struct {
		NewQuantity int `json:"new_quantity"`
	}
	if err := postJSON(ctx, c.client, http.MethodPost, c.base+"/adjust-stock", request, &response); err != nil {
		return 0, err
	}
	return response.NewQuantity, nil
}

// UpsertByName increments or creates the named item on the remote store.
func (c *HTTPInventoryClient) UpsertByName(ctx context.Context, name string, quantity int, unit string) (inventory.Item, bool, error) {
	request := struct {
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
		Unit     string `json:"unit"`
	}{Name: name, Quantity: quantity, Unit: unit}
	var response struct {
		Item    inventoryItemDTO `json:"item"`
		Created bool             `json:"created"`
	}
	if err := postJSON(ctx, c.client, http.MethodPost, c.base+"/items/upsert", request, &response); err != nil {
		return inventory.Item{}, false, err
	}
	return response.Item.toItem(), response.Created, nil
}

type inventoryItemDTO struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	MinStock int     `json:"min_stock"`
	Unit     string  `json:"unit"`
	Price    float64 `json:"price"`
}

func (d inventoryItemDTO) toItem() inventory.Item {
	return inventory.Item{
		ID:       d.ID,
		Name:     d.Name,
		Quantity: d.Quantity,
		MinStock: d.MinStock,
		Unit:     d.Unit,
		Price:    d.Price,
	}
}

// NewHTTPOrderClient constructs a client for a remote order store.
func NewHTTPOrderClient(baseURL string, timeout time.Duration) *HTTPOrderClient {
	return &HTTPOrderClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: newHTTPClient(timeout),
	}
}

// HTTPOrderClient calls a remote order store over JSON.
type HTTPOrderClient struct {
	base   string
	client httpDoer
}

func (c *HTTPOrderClient) CreateOrder(ctx context.Context, customerID string, items []orders.LineItem, total float64, meta orders.Meta) (orders.Order, error) {
	request := struct {
		CustomerID      string            `json:"customer_id"`
		Items           []orders.LineItem `json:"items"`
		Total           float64           `json:"total"`
		Notes           string            `json:"notes,omitempty"`
		ShippingAddress string            `json:"shipping_address,omitempty"`
	}{
		CustomerID:      customerID,
		Items:           items,
		Total:           total,
		Notes:           meta.Notes,
		ShippingAddress: meta.ShippingAddress,
	}
	var response struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := postJSON(ctx, c.client, http.MethodPost, c.base+"/orders", request, &response); err != nil {
		return orders.Order{}, err
	}
	return orders.Order{
		ID:         response.OrderID,
		CustomerID: customerID,
		Items:      items,
		TotalPrice: total,
		Status:     orders.Status(response.Status),
	}, nil
}

// NewHTTPPaymentClient constructs a client for a remote payment store.
func NewHTTPPaymentClient(baseURL string, timeout time.Duration) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: newHTTPClient(timeout),
	}
}

// HTTPPaymentClient calls a remote payment store over JSON.
type HTTPPaymentClient struct {
	base   string
	client httpDoer
}

type paymentDTO struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (d paymentDTO) toPayment() payments.Payment {
	return payments.Payment{
		ID:        d.ID,
		OrderID:   d.OrderID,
		Amount:    d.Amount,
		Method:    d.Method,
		Status:    payments.Status(d.Status),
		CreatedAt: d.CreatedAt,
	}
}

func (c *HTTPPaymentClient) CreatePayment(ctx context.Context, orderID string, amount float64, method string) (payments.Payment, error) {
	request := struct {
		OrderID string  `json:"order_id"`
		Amount  float64 `json:"amount"`
		Method  string  `json:"method"`
	}{OrderID: orderID, Amount: amount, Method: method}
	var response paymentDTO
	if err := postJSON(ctx, c.client, http.MethodPost, c.base+"/payments", request, &response); err != nil {
		return payments.Payment{}, err
	}
	return response.toPayment(), nil
}

func (c *HTTPPaymentClient) ConfirmPayment(ctx context.Context, paymentID string) (payments.Payment, error) {
	var response paymentDTO
	url := c.base + "/payments/" + paymentID + "/confirm"
	if err := postJSON(ctx, c.client, http.MethodPost, url, nil, &response); err != nil {
		return payments.Payment{}, err
	}
	return response.toPayment(), nil
}

func (c *HTTPPaymentClient) Revenue(ctx context.Context) (float64, error) {
	var response struct {
		Revenue float64 `json:"revenue"`
	}
	if err := postJSON(ctx, c.client, http.MethodGet, c.base+"/revenue", nil, &response); err != nil {
		return 0, err
	}
	return response.Revenue, nil
}

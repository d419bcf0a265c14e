// Package stockadjust reacts to fulfillment events that move physical
// stock outside the payment saga: shipments draw inventory down, paid
// supplier invoices replenish it. Items are adjusted independently so
// one bad line never blocks the rest of the document.
package stockadjust

import (
	"context"
	"fmt"
	"log/slog"

	"fulfillment/internal/inventory"
	"fulfillment/internal/orders"
)

// Outcome reports what happened to a single line.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeCreated Outcome = "created"
	OutcomeFailed  Outcome = "failed"
)

// ItemResult is the per-line outcome of a stock adjustment pass.
type ItemResult struct {
	ItemID   string  `json:"item_id,omitempty"`
	Name     string  `json:"name,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Quantity int     `json:"quantity,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// InvoiceLine is one purchased position on a supplier invoice. ItemID
// takes precedence when set; otherwise the line is matched by name and
// a new item is created if no match exists.
type InvoiceLine struct {
	ItemID   string  `json:"item_id,omitempty"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
	UnitCost float64 `json:"unit_cost,omitempty"`
}

// SupplierInvoice is a paid purchase document whose lines replenish stock.
type SupplierInvoice struct {
	InvoiceID string        `json:"invoice_id"`
	Lines     []InvoiceLine `json:"lines"`
}

// Trigger applies stock movements for shipments and supplier invoices.
type Trigger struct {
	inventory inventory.Store
	logger    *slog.Logger
}

// NewTrigger constructs a Trigger over the given inventory store.
func NewTrigger(store inventory.Store, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{inventory: store, logger: logger}
}

// OnOrderShipped decrements stock for every shipped line. Lines are
// applied independently; a failed line is reported but does not roll
// back the lines already applied.
func (t *Trigger) OnOrderShipped(ctx context.Context, order orders.Order) []ItemResult {
	results := make([]ItemResult, 0, len(order.Items))
	for _, line := range order.Items {
		if line.Quantity <= 0 {
			results = append(results, ItemResult{
				ItemID:  line.ItemID,
				Outcome: OutcomeFailed,
				Error:   fmt.Sprintf("invalid quantity %d", line.Quantity),
			})
			continue
		}

		quantity, err := t.inventory.AdjustStock(ctx, line.ItemID, -line.Quantity)
		if err != nil {
			t.logger.Warn("shipment decrement failed",
				"order_id", order.ID, "item_id", line.ItemID, "error", err)
			results = append(results, ItemResult{
				ItemID:  line.ItemID,
				Outcome: OutcomeFailed,
				Error:   err.Error(),
			})
			continue
		}
		results = append(results, ItemResult{
			ItemID:   line.ItemID,
			Outcome:  OutcomeUpdated,
			Quantity: quantity,
		})
	}
	return results
}

// OnSupplierInvoicePaid increments stock for every invoice line. A line
// with an item id adjusts that item directly; a line without one is
// matched by name, creating the item when it is new to the catalog.
func (t *Trigger) OnSupplierInvoicePaid(ctx context.Context, invoice SupplierInvoice) []ItemResult {
	results := make([]ItemResult, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		if line.Quantity <= 0 {
			results = append(results, ItemResult{
				ItemID:  line.ItemID,
				Name:    line.Name,
				Outcome: OutcomeFailed,
				Error:   fmt.Sprintf("invalid quantity %d", line.Quantity),
			})
			continue
		}

		if line.ItemID != "" {
			quantity, err := t.inventory.AdjustStock(ctx, line.ItemID, line.Quantity)
			if err != nil {
				t.logger.Warn("invoice increment failed",
					"invoice_id", invoice.InvoiceID, "item_id", line.ItemID, "error", err)
				results = append(results, ItemResult{
					ItemID:  line.ItemID,
					Name:    line.Name,
					Outcome: OutcomeFailed,
					Error:   err.Error(),
				})
				continue
			}
			results = append(results, ItemResult{
				ItemID:   line.ItemID,
				Name:     line.Name,
				Outcome:  OutcomeUpdated,
				Quantity: quantity,
			})
			continue
		}

		item, created, err := t.inventory.UpsertByName(ctx, line.Name, line.Quantity, line.Unit)
		if err != nil {
			t.logger.Warn("invoice upsert failed",
				"invoice_id", invoice.InvoiceID, "name", line.Name, "error", err)
			results = append(results, ItemResult{
				Name:    line.Name,
				Outcome: OutcomeFailed,
				Error:   err.Error(),
			})
			continue
		}
		outcome := OutcomeUpdated
		if created {
			outcome = OutcomeCreated
		}
		results = append(results, ItemResult{
			ItemID:   item.ID,
			Name:     item.Name,
			Outcome:  outcome,
			Quantity: item.Quantity,
		})
	}
	return results
}

// Failed reports whether any line in the result set failed.
func Failed(results []ItemResult) bool {
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

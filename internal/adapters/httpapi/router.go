package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fulfillment/internal/observability"
	"fulfillment/internal/realtime"
)

// NewRouter assembles the facade routes.
func NewRouter(handler *Handler, hub *realtime.Hub, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/orders", handler.CreateOrder)
	r.Post("/orders/{id}/status", handler.SetOrderStatus)
	r.Post("/transactions/{id}/confirm", handler.ConfirmPayment)
	r.Get("/transactions/{id}", handler.GetTransaction)
	r.Get("/statistics", handler.GetStatistics)
	r.Post("/supplier-invoices/pay", handler.PayInvoice)
	r.Get("/healthz", handler.Healthz)

	if hub != nil {
		r.Get("/events", newEventsHandler(hub, handler.logger))
	}
	if metrics != nil {
		r.Get("/metrics", observability.Handler(metrics).ServeHTTP)
	}

	return r
}

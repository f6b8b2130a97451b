package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baawa1/baawa-inventory-sub000/internal/metrics"
	custommiddleware "github.com/baawa1/baawa-inventory-sub000/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка продаж.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/sales", h.CreateSale)
			r.Get("/sales/{number}", h.GetSale)
			r.Get("/sales/{number}/receipt", h.GetReceipt)

			r.Get("/products", h.ListProducts)
		})
	})

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

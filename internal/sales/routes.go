package sales

import "github.com/go-chi/chi/v5"

// MountRoutes registers the device-facing sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/api/v1/stores/{storeID}/sales", h.submit)
	r.Get("/api/v1/stores/{storeID}/sales", h.list)
}

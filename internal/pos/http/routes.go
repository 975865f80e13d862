package poshttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the register-facing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pos/status", h.status)
	r.Route("/pos/stores/{storeID}", func(r chi.Router) {
		r.Post("/sales", h.checkout)
		r.Get("/history", h.listHistory)
		r.Post("/sync", h.syncNow)
		r.Post("/foreground", h.foreground)

		r.Get("/queue", h.listQueue)
		r.Get("/queue/count", h.countQueue)
		r.Get("/queue/{clientSaleID}", h.getQueued)
		r.Post("/queue/{clientSaleID}/requeue", h.requeue)
		r.Delete("/queue/{clientSaleID}", h.discard)
	})
}

package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures the full HTTP surface.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Get("/health/detailed", h.DetailedHealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route(h.cfg.Server.APIPrefix, func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Get("/progress/{jobID}", h.StreamProgress)

		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{jobID}", h.GetJob)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Post("/bulk-delete", h.BulkDeleteProducts)
			r.Get("/{productID}", h.GetProduct)
			r.Put("/{productID}", h.UpdateProduct)
			r.Delete("/{productID}", h.DeleteProduct)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", h.ListWebhooks)
			r.Post("/", h.CreateWebhook)
			r.Get("/{webhookID}", h.GetWebhook)
			r.Put("/{webhookID}", h.UpdateWebhook)
			r.Delete("/{webhookID}", h.DeleteWebhook)
			r.Post("/{webhookID}/test", h.TestWebhook)
			r.Get("/{webhookID}/deliveries", h.WebhookDeliveries)
		})
	})

	return r
}

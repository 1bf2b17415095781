// Package app wires the HTTP surface: middleware chain, route table, and
// the separation between public, authenticated, and admin groups.
package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	obs "github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
)

// RouterDeps carries everything the route table mounts.
type RouterDeps struct {
	Cfg     config.Config
	Server  *httpserver.Server
	Admin   *httpserver.DLQAdmin
	Auth    *httpserver.Auth
	Limiter *httpserver.RateLimiter
}

// BuildRouter assembles the chi router for the API service.
func BuildRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.SecurityHeaders)
	r.Use(httpserver.AccessLog())
	r.Use(obs.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(d.Cfg.CORSAllowOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", d.Server.Health)
	r.Get("/health/deep", d.Server.HealthDeep)

	r.Route("/api/v1", func(r chi.Router) {
		// Coarse per-IP ceiling in front of the shared per-user window.
		r.Use(httprate.LimitByIP(d.Cfg.RateLimitPerMin*10, d.Cfg.RateLimitWindow))
		r.Use(d.Limiter.Middleware(d.Auth))

		// Gateway ingress authenticates by envelope, not bearer token.
		r.Post("/messages/whatsapp", d.Server.WhatsappIngress)

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Require)

			r.Post("/knowledge/upload", d.Server.KnowledgeUpload)
			r.Get("/knowledge/documents", d.Server.ListDocuments)

			r.Post("/agents/me", d.Server.UpsertMyAgent)
			r.Get("/agents/me", d.Server.GetMyAgents)
			r.Post("/agent/activate", d.Server.ActivateAgent)

			r.Get("/billing/info", d.Server.BillingInfo)
		})

		r.Group(func(r chi.Router) {
			r.Use(d.Auth.RequireAdmin)

			r.Get("/agents", d.Server.ListAgents)
			r.Get("/admin/dlq", d.Admin.ListDLQ)
			r.Post("/admin/dlq/reprocess", d.Admin.ReprocessDLQ)
			r.Delete("/admin/dlq/item", d.Admin.DeleteDLQItem)
		})
	})

	return r
}

// ParseOrigins splits the comma-separated origin allowlist.
func ParseOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the animator and partner apps

ROUTE GROUPS:
  /api/offers/*         Partner offer catalog (read-only)
  /api/units/*          Balance, earned points, unit redemptions
  /api/redemptions/*    Votes, rejection, code usage
  /api/admin/*          Admin operations
  /api/scenarios/*      Demo scenarios
  /                     Endpoint index

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tune NewRouter. The zero value allows the local dev origins.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/offers", func(r chi.Router) {
			r.Get("/", h.ListOffers)
			r.Get("/{id}", h.GetOffer)
		})

		r.Route("/units/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Post("/points", h.RecordPoints)
			r.Get("/redemptions", h.ListUnitRedemptions)
			r.Get("/redemptions/pending", h.ListPendingRedemptions)
			r.Post("/redemptions", h.CreateRedemption)
		})

		r.Route("/redemptions/{id}", func(r chi.Router) {
			r.Get("/", h.GetRedemption)
			r.Post("/approve", h.ApproveRedemption)
			r.Post("/reject", h.RejectRedemption)
			r.Post("/use", h.MarkUsed)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Redemption Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Redemption Engine API</h1>
<ul>
<li><a href="/api/offers">/api/offers</a> - Partner offers</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
<li>/api/units/{id}/balance - Unit balance</li>
<li>/api/units/{id}/redemptions - Unit redemptions</li>
</ul>
</body>
</html>`))
	})

	return r
}

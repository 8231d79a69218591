/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request, echoed in error bodies
  2. RealIP:         Client address from X-Forwarded-For / X-Real-IP
  3. RequestLogger:  zap line per request, level by status
  4. Recoverer:      Panic recovery (500 instead of crash)
  5. CORS:           Cross-origin requests for the dashboard

ROUTE GROUPS:
  /healthz                  Liveness
  /metrics                  Prometheus scrape endpoint
  /api/properties/*         Property management
  /api/tenants/*            Tenants, leases, obligations
  /api/payments/*           Payment ledger
  /api/proration/preview    First-period proration quote
  /api/reports/*            Rent roll, outstanding balances, statistics
  /api/policy               Active leasing policy
  /api/admin/sweep          Run the daily status sweep now
  /api/scenarios/*          Demo scenarios (development only)

SECURITY NOTE:
  No authentication middleware. All endpoints are public; put the service
  behind an authenticating proxy in production.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Logging and panic recovery
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/lease-engine/leasing"
)

// RouterConfig carries the ambient pieces the router needs.
type RouterConfig struct {
	Logger         *zap.Logger
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	// EnableScenarios mounts the demo scenario routes, which can wipe data.
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, leasing.Errorf(leasing.ErrNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: ErrorBody{
			Code:      "method_not_allowed",
			Message:   r.Method + " is not allowed on " + r.URL.Path,
			RequestID: middleware.GetReqID(r.Context()),
		}})
	})

	r.Get("/healthz", h.Health)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/properties", func(r chi.Router) {
			r.Get("/", h.ListProperties)
			r.Post("/", h.CreateProperty)
			r.Get("/{id}", h.GetProperty)
			r.Patch("/{id}", h.UpdateProperty)
			r.Delete("/{id}", h.DeleteProperty)
			r.Put("/{id}/status", h.SetPropertyStatus)
			r.Get("/{id}/status-history", h.ListPropertyStatusChanges)
		})

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Post("/", h.CreateTenant)
			r.Get("/{id}", h.GetTenant)
			r.Delete("/{id}", h.DeleteTenant)
			r.Post("/{id}/assign", h.AssignTenant)
			r.Post("/{id}/detach", h.DetachTenant)
			r.Get("/{id}/payments", h.ListTenantPayments)
			r.Get("/{id}/obligations", h.ListObligations)
			r.Post("/{id}/balances/recompute", h.RecomputeBalances)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.RecordPayment)
			r.Post("/{id}/apply", h.ApplyPayment)
		})

		r.Post("/proration/preview", h.PreviewProration)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/rent-roll", h.GetRentRoll)
			r.Get("/outstanding", h.GetOutstandingBalances)
			r.Get("/statistics", h.GetStatistics)
		})

		r.Get("/policy", h.GetPolicy)
		r.Post("/admin/sweep", h.RunSweep)

		if cfg.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

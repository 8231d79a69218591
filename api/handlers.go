/*
handlers.go - HTTP API handlers for the leasing engine

PURPOSE:
  Exposes the service operations via REST API. Handlers decode the request
  into a service input record, call exactly one operation, and serialize the
  result. No business rule lives here.

ENDPOINTS:
  Properties:
    GET    /api/properties                      List properties
    POST   /api/properties                      Create property
    GET    /api/properties/{id}                 Get property
    PATCH  /api/properties/{id}                 Update fields (rent changes flow to tenants)
    DELETE /api/properties/{id}                 Delete (409 while tenants reference it)
    PUT    /api/properties/{id}/status          Set available / maintenance
    GET    /api/properties/{id}/status-history  Availability audit trail

  Tenants:
    GET    /api/tenants                         List tenants (status as of today)
    POST   /api/tenants                         Create tenant, optionally with a lease
    GET    /api/tenants/{id}                    Get tenant
    DELETE /api/tenants/{id}                    Delete tenant and its payments
    POST   /api/tenants/{id}/assign             Attach to a property with a lease
    POST   /api/tenants/{id}/detach             Leave the property
    GET    /api/tenants/{id}/payments           Tenant's payments
    GET    /api/tenants/{id}/obligations        Schedule with reconciliation
    POST   /api/tenants/{id}/balances/recompute Rematerialize outstanding rows

  Payments:
    GET    /api/payments                        ?tenant_id ?property_id ?from ?to
    POST   /api/payments                        Record a payment
    POST   /api/payments/{id}/apply             Direct a payment at a due date

  Reports:
    GET    /api/reports/rent-roll               ?as_of_date
    GET    /api/reports/outstanding             ?as_of_date ?include_resolved ?tenant_id ?property_id
    GET    /api/reports/statistics              ?period_start ?period_end ?months

ERROR HANDLING:
  Every failure goes through writeError (dto.go), which maps the error kind to
  a status and renders the standard envelope.

SEE ALSO:
  - dto.go: Error envelope and decoding
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/policy"
	"github.com/warp/lease-engine/service"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all stored data. Both store backends implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *service.Service
	Store   Resetter
	Log     *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. store may be nil when scenarios are disabled.
func NewHandler(svc *service.Service, store Resetter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, Store: store, Log: log}
}

// Health reports liveness and the engine's idea of today.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Today: h.Service.Today().String()})
}

// =============================================================================
// PROPERTY HANDLERS
// =============================================================================

func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.Service.ListProperties(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(props))
}

func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var in service.CreatePropertyInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Service.CreateProperty(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProperty(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetProperty(r.Context(), leasing.PropertyID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	var in service.UpdatePropertyInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.ID = chi.URLParam(r, "id")
	p, err := h.Service.UpdateProperty(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProperty(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteProperty(r.Context(), leasing.PropertyID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetPropertyStatus(w http.ResponseWriter, r *http.Request) {
	var in service.SetPropertyStatusInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.PropertyID = chi.URLParam(r, "id")
	p, err := h.Service.SetPropertyStatus(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) ListPropertyStatusChanges(w http.ResponseWriter, r *http.Request) {
	log, err := h.Service.ListPropertyStatusChanges(r.Context(), leasing.PropertyID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(log))
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Service.ListTenants(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(tenants))
}

func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var in service.CreateTenantInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.Service.CreateTenant(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.GetTenant(r.Context(), leasing.TenantID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteTenant(r.Context(), leasing.TenantID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AssignTenant(w http.ResponseWriter, r *http.Request) {
	var in service.AssignTenantInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.TenantID = chi.URLParam(r, "id")
	t, err := h.Service.AssignTenantToProperty(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DetachTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.DetachTenant(r.Context(), leasing.TenantID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) ListTenantPayments(w http.ResponseWriter, r *http.Request) {
	id := leasing.TenantID(chi.URLParam(r, "id"))
	if _, err := h.Service.GetTenant(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	payments, err := h.Service.ListPayments(r.Context(), leasing.PaymentFilter{TenantID: id})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(payments))
}

func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.ListObligations(r.Context(), leasing.TenantID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) RecomputeBalances(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.RecomputeOutstandingBalances(r.Context(), leasing.TenantID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(rows))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := queryDate(q.Get("from"), "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryDate(q.Get("to"), "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	payments, err := h.Service.ListPayments(r.Context(), leasing.PaymentFilter{
		TenantID:   leasing.TenantID(q.Get("tenant_id")),
		PropertyID: leasing.PropertyID(q.Get("property_id")),
		From:       from,
		To:         to,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(payments))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var in service.RecordPaymentInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Service.RecordPayment(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	var in service.ApplyPaymentInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.PaymentID = chi.URLParam(r, "id")
	p, err := h.Service.ApplyPayment(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) PreviewProration(w http.ResponseWriter, r *http.Request) {
	var in service.PreviewProrationInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Service.PreviewProration(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) GetRentRoll(w http.ResponseWriter, r *http.Request) {
	roll, err := h.Service.GetRentRoll(r.Context(), service.RentRollInput{AsOf: r.URL.Query().Get("as_of_date")})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(roll))
}

func (h *Handler) GetOutstandingBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := service.OutstandingInput{
		AsOf:       q.Get("as_of_date"),
		TenantID:   q.Get("tenant_id"),
		PropertyID: q.Get("property_id"),
	}
	if v := q.Get("include_resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, leasing.Errorf(leasing.ErrInvalidInput, "include_resolved must be true or false"))
			return
		}
		in.IncludeResolved = b
	}
	rows, err := h.Service.GetOutstandingBalances(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(rows))
}

// GetStatistics defaults to month-to-date when no period is given.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := h.Service.Today()
	in := service.StatisticsInput{
		PeriodStart: q.Get("period_start"),
		PeriodEnd:   q.Get("period_end"),
	}
	if in.PeriodStart == "" {
		in.PeriodStart = today.YearMonth().First().String()
	}
	if in.PeriodEnd == "" {
		in.PeriodEnd = today.String()
	}
	if v := q.Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, leasing.Errorf(leasing.ErrInvalidInput, "months must be a whole number"))
			return
		}
		in.Months = n
	}
	stats, err := h.Service.GetStatistics(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// POLICY AND ADMIN
// =============================================================================

// GetPolicy returns the policy new leases will snapshot.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, policy.ToDocument(h.Service.CurrentPolicy()))
}

// RunSweep runs the status sweep immediately.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Sweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResetDatabase clears every record. Development only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, r, leasing.Errorf(leasing.ErrConflict, "reset is not available"))
		return
	}
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, r, leasing.Wrap(leasing.ErrInternal, err, "reset failed"))
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	h.Log.Warn("database reset", zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func queryDate(v, name string) (calendar.Date, error) {
	if v == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.ParseDate(v)
	if err != nil {
		return calendar.Date{}, leasing.Wrap(leasing.ErrInvalidInput, err, "%s must be YYYY-MM-DD", name)
	}
	return d, nil
}

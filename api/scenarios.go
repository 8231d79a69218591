/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Populates the store with realistic data for demos. Every scenario goes
	through the service operations, so the data obeys the same rules as live
	traffic. Dates are relative to today so a scenario looks the same
	whichever day it is loaded.

AVAILABLE SCENARIOS:

	mid-month-move-in: Lease starting on the 10th, prorated first period
	prepayment:        Payments running ahead of the schedule
	late-payer:        Partial payment and months of arrears
	turnover:          Expired lease followed by a new tenant on the unit
	portfolio:         All of the above plus a unit under maintenance

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create properties
 3. Create tenants with leases
 4. Record payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "prepayment"}

NOTE:

	Scenarios reset the database. The routes are only mounted in development.

SEE ALSO:
  - handlers.go: ResetDatabase
  - server.go: EnableScenarios
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/service"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "mid-month-move-in",
		Name:        "Mid-Month Move-In",
		Description: "Lease starts on the 10th; the first period runs to the next payday and is prorated",
	},
	{
		ID:          "prepayment",
		Name:        "Prepayment",
		Description: "Two payments that run ahead of the schedule, applied oldest obligation first",
	},
	{
		ID:          "late-payer",
		Name:        "Late Payer",
		Description: "Three months of rent against one partial payment",
	},
	{
		ID:          "turnover",
		Name:        "Unit Turnover",
		Description: "Previous lease expired last month; a new tenant moved in today",
	},
	{
		ID:          "portfolio",
		Name:        "Small Portfolio",
		Description: "Every scenario above plus a unit under maintenance and a vacant unit",
	},
}

type scenarioLoader func(ctx context.Context, svc *service.Service, today calendar.Date) error

var scenarioLoaders = map[string]scenarioLoader{
	"mid-month-move-in": loadMidMonthMoveIn,
	"prepayment":        loadPrepayment,
	"late-payer":        loadLatePayer,
	"turnover":          loadTurnover,
	"portfolio":         loadPortfolio,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": nil})
}

// LoadScenario resets the store and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, r, err)
		return
	}
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return leasing.Errorf(leasing.ErrNotFound, "unknown scenario %q", id)
	}
	if h.Store == nil {
		return leasing.Errorf(leasing.ErrConflict, "scenarios are not available")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return leasing.Wrap(leasing.ErrInternal, err, "reset failed")
	}
	h.currentScenario = ""
	if err := load(ctx, h.Service, h.Service.Today()); err != nil {
		return err
	}
	h.currentScenario = id
	h.Log.Info("scenario loaded", zap.String("scenario_id", id))
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func loadMidMonthMoveIn(ctx context.Context, svc *service.Service, today calendar.Date) error {
	if err := createProperty(ctx, svc, "p-100", "Maple Court 100", "100", "1500.00", ""); err != nil {
		return err
	}
	start := calendar.NewDate(today.Year(), today.Month(), 10)
	end := calendar.NewDate(today.Year()+1, today.Month(), 9)
	_, err := svc.CreateTenant(ctx, service.CreateTenantInput{
		ID:             "t-ada",
		FullName:       "Ada Lovelace",
		Email:          "ada@example.com",
		Phone:          "555-0100",
		PropertyID:     "p-100",
		LeaseStart:     start.String(),
		LeaseEnd:       end.String(),
		RentPaymentDay: 1,
	})
	return err
}

func loadPrepayment(ctx context.Context, svc *service.Service, today calendar.Date) error {
	if err := createProperty(ctx, svc, "p-200", "Maple Court 200", "200", "1500.00", ""); err != nil {
		return err
	}
	ym := today.YearMonth()
	start := ym.Add(-2).First()
	if _, err := svc.CreateTenant(ctx, service.CreateTenantInput{
		ID:             "t-grace",
		FullName:       "Grace Hopper",
		Email:          "grace@example.com",
		PropertyID:     "p-200",
		LeaseStart:     start.String(),
		RentPaymentDay: 1,
	}); err != nil {
		return err
	}
	if err := recordPayment(ctx, svc, "t-grace", start, "1500.00", "ach", "first month"); err != nil {
		return err
	}
	return recordPayment(ctx, svc, "t-grace", ym.Add(-1).First(), "2200.00", "check", "paid ahead")
}

func loadLatePayer(ctx context.Context, svc *service.Service, today calendar.Date) error {
	if err := createProperty(ctx, svc, "p-300", "Birch Row 3", "3", "1200.00", ""); err != nil {
		return err
	}
	start := today.YearMonth().Add(-3).First()
	if _, err := svc.CreateTenant(ctx, service.CreateTenantInput{
		ID:             "t-linus",
		FullName:       "Linus Pauling",
		Email:          "linus@example.com",
		PropertyID:     "p-300",
		LeaseStart:     start.String(),
		RentPaymentDay: 1,
	}); err != nil {
		return err
	}
	return recordPayment(ctx, svc, "t-linus", start.AddDays(3), "600.00", "cash", "partial payment")
}

func loadTurnover(ctx context.Context, svc *service.Service, today calendar.Date) error {
	if err := createProperty(ctx, svc, "p-400", "Cedar Flats 4B", "4B", "1350.00", ""); err != nil {
		return err
	}
	ym := today.YearMonth()
	oldStart, oldEnd := ym.Add(-6).First(), ym.Add(-1).Last()
	if _, err := svc.CreateTenant(ctx, service.CreateTenantInput{
		ID:             "t-marie",
		FullName:       "Marie Curie",
		Email:          "marie@example.com",
		PropertyID:     "p-400",
		LeaseStart:     oldStart.String(),
		LeaseEnd:       oldEnd.String(),
		RentPaymentDay: 1,
	}); err != nil {
		return err
	}
	if err := recordPayment(ctx, svc, "t-marie", oldStart, "8100.00", "ach", "prepaid lease"); err != nil {
		return err
	}
	_, err := svc.CreateTenant(ctx, service.CreateTenantInput{
		ID:             "t-alan",
		FullName:       "Alan Turing",
		Email:          "alan@example.com",
		PropertyID:     "p-400",
		LeaseStart:     today.String(),
		RentPaymentDay: 1,
	})
	return err
}

func loadPortfolio(ctx context.Context, svc *service.Service, today calendar.Date) error {
	for _, load := range []scenarioLoader{loadMidMonthMoveIn, loadPrepayment, loadLatePayer, loadTurnover} {
		if err := load(ctx, svc, today); err != nil {
			return err
		}
	}
	if err := createProperty(ctx, svc, "p-500", "Cedar Flats 5A", "5A", "1400.00", "maintenance"); err != nil {
		return err
	}
	return createProperty(ctx, svc, "p-600", "Cedar Flats 6C", "6C", "1250.00", "")
}

// =============================================================================
// HELPERS
// =============================================================================

func createProperty(ctx context.Context, svc *service.Service, id, title, apt, rent, status string) error {
	_, err := svc.CreateProperty(ctx, service.CreatePropertyInput{
		ID:    id,
		Title: title,
		Address: leasing.Address{
			Street: "12 Orchard Lane",
			City:   "Springfield",
			State:  "IL",
			Zip:    "62701",
			Apt:    apt,
		},
		OwnerID:     "owner-1",
		MonthlyRent: rent,
		Status:      status,
	})
	if err != nil {
		return fmt.Errorf("create property %s: %w", id, err)
	}
	return nil
}

func recordPayment(ctx context.Context, svc *service.Service, tenant string, date calendar.Date, amount, method, memo string) error {
	_, err := svc.RecordPayment(ctx, service.RecordPaymentInput{
		TenantID: tenant,
		Date:     date.String(),
		Amount:   amount,
		Method:   method,
		Memo:     memo,
	})
	if err != nil {
		return fmt.Errorf("record payment for %s: %w", tenant, err)
	}
	return nil
}

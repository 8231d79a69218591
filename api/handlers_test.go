package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/clock"
	"github.com/warp/lease-engine/leasing/store"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/policy"
	"github.com/warp/lease-engine/service"
)

type testServer struct {
	router  http.Handler
	handler *Handler
	clock   *clock.Fake
	logs    *observer.ObservedLogs
}

func newTestServer(t *testing.T, today string) *testServer {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	holder, err := policy.NewHolder(policy.Default())
	require.NoError(t, err)
	reg := metrics.NewRegistry()
	fake := clock.NewFake(calendar.MustDate(today))
	st := store.NewTxMemory()

	svc, err := service.New(service.Config{
		Store:   st,
		Policy:  holder,
		Clock:   fake,
		Logger:  log,
		Metrics: metrics.New(reg, metrics.Config{ServiceName: "lease-engine", Environment: "test"}),
	})
	require.NoError(t, err)

	h := NewHandler(svc, st, log)
	router := NewRouter(h, RouterConfig{
		Logger:          log,
		Gatherer:        reg,
		AllowedOrigins:  []string{"http://localhost:3000"},
		EnableScenarios: true,
	})
	return &testServer{router: router, handler: h, clock: fake, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) seedProperty(t *testing.T, id, rent string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/properties", map[string]any{
		"id":           id,
		"title":        "Unit " + id,
		"address":      map[string]string{"street": "1 Main St", "city": "Springfield", "state": "IL", "zip": "62701"},
		"monthly_rent": rent,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (s *testServer) seedTenant(t *testing.T, body map[string]any) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/tenants", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// =============================================================================
// BASICS
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, "2025-06-15")

	w := s.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	health := decodeBody[HealthDTO](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "2025-06-15", health.Today)
}

func TestUnknownRoute_ReturnsEnvelope(t *testing.T) {
	s := newTestServer(t, "2025-06-15")

	w := s.do(t, http.MethodGet, "/api/nothing-here", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "not_found", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "2025-06-15")
	s.seedProperty(t, "p1", "1000")

	w := s.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lease_operations_total")
	assert.Contains(t, w.Body.String(), `op="create_property"`)
}

func TestGetPolicy(t *testing.T) {
	s := newTestServer(t, "2025-06-15")

	w := s.do(t, http.MethodGet, "/api/policy", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	doc := decodeBody[policy.Document](t, w)
	require.NotNil(t, doc.DefaultPaymentDay)
	assert.Equal(t, 1, *doc.DefaultPaymentDay)
	assert.Equal(t, string(calendar.RuleSpanToNextPayday), doc.ProrationRule)
}

// =============================================================================
// PROPERTIES AND TENANTS
// =============================================================================

func TestPropertyCRUD(t *testing.T) {
	s := newTestServer(t, "2025-06-15")
	s.seedProperty(t, "p1", "1000")

	w := s.do(t, http.MethodGet, "/api/properties/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var prop map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prop))
	assert.Equal(t, "available", prop["status"])
	assert.Equal(t, "1000.00", prop["monthly_rent"])

	w = s.do(t, http.MethodPatch, "/api/properties/p1", map[string]any{"monthly_rent": "1100"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prop))
	assert.Equal(t, "1100.00", prop["monthly_rent"])

	w = s.do(t, http.MethodPut, "/api/properties/p1/status", map[string]any{"status": "maintenance", "reason": "repaint"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/properties/p1/status-history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "maintenance", history[0]["to"])

	w = s.do(t, http.MethodDelete, "/api/properties/p1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/properties/p1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTenant_ValidationDetails(t *testing.T) {
	s := newTestServer(t, "2025-06-15")

	w := s.do(t, http.MethodPost, "/api/tenants", map[string]any{"email": "not-an-email"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "validation_failed", body.Error.Code)
	assert.Equal(t, "This field is required", body.Error.Details["full_name"])
	assert.Equal(t, "Must be a valid email address", body.Error.Details["email"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestCreateTenant_RejectsUnknownFields(t *testing.T) {
	s := newTestServer(t, "2025-06-15")

	w := s.do(t, http.MethodPost, "/api/tenants", `{"full_name":"X","favourite_colour":"blue"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decodeBody[ErrorResponse](t, w).Error.Code)
}

func TestCreateTenant_PropertyNotAvailable(t *testing.T) {
	s := newTestServer(t, "2025-06-15")
	s.seedProperty(t, "p1", "1200")
	s.seedTenant(t, map[string]any{"id": "t1", "full_name": "One", "property_id": "p1", "lease_start": "2025-06-01"})

	w := s.do(t, http.MethodPost, "/api/tenants", map[string]any{
		"full_name": "Two", "property_id": "p1", "lease_start": "2025-07-01",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "property_not_available", decodeBody[ErrorResponse](t, w).Error.Code)
}

func TestCreateTenant_InvalidLeaseDates(t *testing.T) {
	s := newTestServer(t, "2025-06-15")
	s.seedProperty(t, "p1", "1200")

	w := s.do(t, http.MethodPost, "/api/tenants", map[string]any{
		"full_name": "Backwards", "property_id": "p1", "lease_start": "2025-07-01", "lease_end": "2025-06-01",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_lease_dates", decodeBody[ErrorResponse](t, w).Error.Code)
}

func TestAssignAndDetach(t *testing.T) {
	s := newTestServer(t, "2025-06-15")
	s.seedProperty(t, "p1", "1200")
	s.seedTenant(t, map[string]any{"id": "t1", "full_name": "Mover"})

	w := s.do(t, http.MethodPost, "/api/tenants/t1/assign", map[string]any{"property_id": "p1", "lease_start": "2025-06-01"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tenant map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tenant))
	assert.Equal(t, "active", tenant["payment_status"])

	w = s.do(t, http.MethodPost, "/api/tenants/t1/detach", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tenant))
	assert.Equal(t, "inactive", tenant["payment_status"])

	w = s.do(t, http.MethodPost, "/api/tenants/t1/detach", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

// =============================================================================
// PAYMENTS AND OBLIGATIONS
// =============================================================================

func TestObligations_MidMonthMoveIn(t *testing.T) {
	s := newTestServer(t, "2025-03-10")
	s.seedProperty(t, "p1", "1500.00")
	s.seedTenant(t, map[string]any{
		"id": "t1", "full_name": "Grace", "property_id": "p1",
		"lease_start": "2025-03-10", "lease_end": "2026-03-09", "rent_payment_day": 1,
	})

	w := s.do(t, http.MethodGet, "/api/tenants/t1/obligations", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view struct {
		Obligations []struct {
			DueDate   string `json:"due_date"`
			AmountDue string `json:"amount_due"`
			Status    string `json:"status"`
		} `json:"obligations"`
		Proration struct {
			DaysBilled int `json:"days_billed"`
		} `json:"proration"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.NotEmpty(t, view.Obligations)
	assert.Equal(t, "2025-04-01", view.Obligations[0].DueDate)
	assert.Equal(t, "1131.15", view.Obligations[0].AmountDue)
	assert.Equal(t, "1500.00", view.Obligations[1].AmountDue)
	assert.Equal(t, 23, view.Proration.DaysBilled)
}

func TestPreviewProration(t *testing.T) {
	s := newTestServer(t, "2025-03-01")
	s.seedProperty(t, "p1", "1500")

	w := s.do(t, http.MethodPost, "/api/proration/preview", map[string]any{
		"property_id": "p1", "lease_start": "2025-03-10", "rent_payment_day": 1,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "1131.15", res["prorated_amount"])
	assert.Equal(t, "2025-05-01", res["next_full_due_date"])
}

func TestRecordPayment_FlowAndOverApplication(t *testing.T) {
	s := newTestServer(t, "2025-07-02")
	s.seedProperty(t, "p1", "1000")
	s.seedTenant(t, map[string]any{"id": "t1", "full_name": "Payer", "property_id": "p1", "lease_start": "2025-06-01"})

	// GIVEN: obligations 06-01 (1-day stub), 07-01 (1000)
	w := s.do(t, http.MethodPost, "/api/payments", map[string]any{
		"tenant_id": "t1", "date": "2025-07-01", "amount": "1000.00", "method": "ach", "applies_to": "2025-07-01",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// WHEN: another explicit payment would overfill July
	w = s.do(t, http.MethodPost, "/api/payments", map[string]any{
		"tenant_id": "t1", "date": "2025-07-01", "amount": "5.00", "method": "ach", "applies_to": "2025-07-01",
	})

	// THEN: 409 and the ledger still has one payment
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "over_application", decodeBody[ErrorResponse](t, w).Error.Code)

	w = s.do(t, http.MethodGet, "/api/tenants/t1/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var payments []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payments))
	assert.Len(t, payments, 1)

	w = s.do(t, http.MethodGet, "/api/payments?from=bad-date", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutstandingAndRecompute(t *testing.T) {
	s := newTestServer(t, "2025-07-02")
	s.seedProperty(t, "p1", "1000")
	s.seedTenant(t, map[string]any{"id": "t1", "full_name": "Owes", "property_id": "p1", "lease_start": "2025-06-02"})

	w := s.do(t, http.MethodGet, "/api/reports/outstanding", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-07-01", rows[0]["due_date"])
	assert.Equal(t, "Owes", rows[0]["tenant_name"])

	w = s.do(t, http.MethodPost, "/api/tenants/t1/balances/recompute", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/reports/outstanding?include_resolved=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// REPORTS AND SWEEP
// =============================================================================

func TestRentRollAndSweep_AfterExpiry(t *testing.T) {
	s := newTestServer(t, "2025-06-15")
	s.seedProperty(t, "p1", "1000")
	s.seedTenant(t, map[string]any{
		"id": "t1", "full_name": "Leaving", "property_id": "p1",
		"lease_start": "2025-01-01", "lease_end": "2025-06-30",
	})
	s.clock.Set(calendar.MustDate("2025-07-01"))

	w := s.do(t, http.MethodGet, "/api/reports/rent-roll", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "LEASE EXPIRED")

	w = s.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.SweepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Transitions, 1)

	w = s.do(t, http.MethodGet, "/api/properties/p1", nil)
	var prop map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prop))
	assert.Equal(t, "available", prop["status"])
}

func TestStatistics_DefaultsAndValidation(t *testing.T) {
	s := newTestServer(t, "2025-06-15")
	s.seedProperty(t, "p1", "1000")

	w := s.do(t, http.MethodGet, "/api/reports/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, "2025-06-01", stats["period_start"])
	assert.Equal(t, "2025-06-15", stats["period_end"])

	w = s.do(t, http.MethodGet, "/api/reports/statistics?months=six", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/reports/statistics?period_start=2025-07-01&period_end=2025-06-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestRequestLogger_LevelByStatus(t *testing.T) {
	s := newTestServer(t, "2025-06-15")

	s.do(t, http.MethodGet, "/healthz", nil)
	s.do(t, http.MethodGet, "/api/tenants/missing", nil)

	infos := s.logs.FilterMessage("request completed").All()
	warns := s.logs.FilterMessage("request completed with client error").All()
	require.Len(t, infos, 1)
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
	assert.Equal(t, int64(http.StatusNotFound), warns[0].ContextMap()["status"])
}

func TestRecoverer(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recoverer(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "internal", body.Error.Code)
	assert.False(t, strings.Contains(w.Body.String(), "boom"))
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestCORS_AllowedOrigin(t *testing.T) {
	s := newTestServer(t, "2025-06-15")

	req := httptest.NewRequest(http.MethodOptions, "/api/properties", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

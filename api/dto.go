/*
dto.go - Wire helpers shared by the HTTP handlers

PURPOSE:
  Request bodies decode straight into the service input records (see
  service/inputs.go); this file holds what is HTTP-specific: body decoding,
  the error envelope, and the error-kind to status mapping.

ERROR ENVELOPE:
  {
    "error": {
      "code":       "property_not_available",
      "message":    "property p1 is leased to tenant t1 for ...",
      "details":    {"email": "Must be a valid email address"},
      "request_id": "host/abc-000001"
    }
  }

STATUS MAPPING:
  invalid_input, invalid_lease_dates, invalid_policy  -> 400
  not_found                                           -> 404
  conflict, over_application                          -> 409
  timeout                                             -> 504
  internal                                            -> 500 (message hidden)

SEE ALSO:
  - handlers.go: Uses these helpers
  - leasing/errors.go: Error kinds
*/
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/service"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorBody is the payload under "error".
type ErrorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// HealthDTO is the /healthz body.
type HealthDTO struct {
	Status string `json:"status"`
	Today  string `json:"today"`
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// orEmpty keeps list endpoints from rendering null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// decode reads a single JSON object into dst. Unknown fields are rejected.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return leasing.Wrap(leasing.ErrInvalidInput, err, "invalid request body")
	}
	if dec.More() {
		return leasing.Errorf(leasing.ErrInvalidInput, "request body must contain a single JSON object")
	}
	return nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind leasing.Kind) int {
	switch kind {
	case leasing.KindInvalidInput, leasing.KindInvalidLeaseDates, leasing.KindInvalidPolicy:
		return http.StatusBadRequest
	case leasing.KindNotFound:
		return http.StatusNotFound
	case leasing.KindConflict, leasing.KindOverApplication:
		return http.StatusConflict
	case leasing.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the error envelope. Internal causes never reach
// the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := leasing.Normalize(err)
	body := ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		RequestID: middleware.GetReqID(r.Context()),
	}
	if body.Code == "" {
		body.Code = string(e.Kind)
	}
	if body.Message == "" {
		body.Message = e.Error()
	}
	if e.Kind == leasing.KindInternal {
		body.Message = "An unexpected error occurred"
	}
	if details := service.ValidationDetails(err); len(details) > 0 {
		body.Details = details
	}
	writeJSON(w, statusFor(e.Kind), ErrorResponse{Error: body})
}

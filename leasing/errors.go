/*
errors.go - Error taxonomy for the leasing core

PURPOSE:
  Every failure the core reports carries a stable Kind the HTTP layer maps to a
  status, plus an optional Code naming the specific rule that was violated.

KINDS:
  invalid_input        malformed field (bad date, negative amount, payment day)
  not_found            referenced entity absent
  conflict             uniqueness or state violation
  invalid_lease_dates  lease start after end, or dates unusable with a property
  over_application     payment exceeds what the obligation still owes
  invalid_policy       policy values out of range
  timeout              caller deadline elapsed; the transaction was rolled back
  internal             invariant violation or storage failure

USAGE:
  Match a whole kind or a specific rule with errors.Is:

    if errors.Is(err, leasing.ErrConflict) { ... }              // any conflict
    if errors.Is(err, leasing.ErrPropertyNotAvailable) { ... }  // just this one

  Build errors from a sentinel:

    return leasing.Errorf(leasing.ErrNotFound, "tenant %s", id)

SEE ALSO:
  - api/handlers.go: Kind to HTTP status
*/
package leasing

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/policy"
)

type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidLeaseDates Kind = "invalid_lease_dates"
	KindOverApplication   Kind = "over_application"
	KindInvalidPolicy     Kind = "invalid_policy"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidLeaseDates = &Error{Kind: KindInvalidLeaseDates}
	ErrOverApplication   = &Error{Kind: KindOverApplication}
	ErrInvalidPolicy     = &Error{Kind: KindInvalidPolicy}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrInternal          = &Error{Kind: KindInternal}

	// ErrPropertyNotAvailable: the property cannot take a new active tenant.
	ErrPropertyNotAvailable = &Error{Kind: KindConflict, Code: "property_not_available"}

	// ErrDuplicateEmail: another tenant already uses the email.
	ErrDuplicateEmail = &Error{Kind: KindConflict, Code: "duplicate_email"}

	// ErrHasDependents: a delete is blocked by referencing records.
	ErrHasDependents = &Error{Kind: KindConflict, Code: "has_dependents"}

	// ErrAlreadyExists: primary key collision.
	ErrAlreadyExists = &Error{Kind: KindConflict, Code: "already_exists"}

	// ErrInvalidAmount: a money value is out of range.
	ErrInvalidAmount = &Error{Kind: KindInvalidInput, Code: "invalid_amount"}
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	label := string(e.Kind)
	if e.Code != "" {
		label = e.Code
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", label, e.Message, e.Err)
	case e.Message != "":
		return label + ": " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", label, e.Err)
	}
	return label
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels: same Kind, and same Code unless the target has none.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Errorf builds an error of base's kind and code.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap is Errorf with an underlying cause.
func Wrap(base *Error, cause error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies any error, including ones from lower layers.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	case errors.Is(err, calendar.ErrInvalidPaymentDay), errors.Is(err, calendar.ErrUnknownRule),
		errors.Is(err, policy.ErrInvalidPolicy):
		return KindInvalidPolicy
	case errors.Is(err, calendar.ErrNegativeRent):
		return KindInvalidInput
	}
	return KindInternal
}

// Normalize returns err as an *Error, classifying foreign errors with KindOf.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	kind := KindOf(err)
	out := &Error{Kind: kind, Err: err}
	if errors.Is(err, calendar.ErrNegativeRent) {
		out.Code = ErrInvalidAmount.Code
	}
	return out
}

// IsClientError is true for the recoverable domain kinds.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindNotFound, KindConflict, KindInvalidLeaseDates,
		KindOverApplication, KindInvalidPolicy:
		return true
	}
	return false
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

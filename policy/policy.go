/*
Package policy holds the process-wide billing policy.

PURPOSE:
  A Policy fixes the knobs the schedule generator and reconciliation read:
  default payment day, flat late fee, grace days, proration rule and rounding.
  It is loaded at start, may be reloaded, and is copied by value into every
  tenant's schedule so historical schedules stay reproducible.

COPY-ON-RELOAD:
  Holder publishes an immutable *Policy through an atomic pointer. Readers call
  Current() once per operation and keep that value; a concurrent reload never
  changes a policy someone is already using.

SEE ALSO:
  - factory.go: JSON policy documents
  - config/config.go: loading and hot reload
*/
package policy

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/money"
)

// Rounding names the money rounding discipline.
type Rounding string

const RoundHalfAwayFromZero Rounding = "half_away_from_zero"

// ErrInvalidPolicy is returned by Validate.
var ErrInvalidPolicy = errors.New("invalid policy")

// Policy is a value type; copy it freely.
type Policy struct {
	Name              string                 `json:"name"`
	DefaultPaymentDay int                    `json:"default_payment_day"`
	LateFeeAmount     money.Money            `json:"late_fee_amount"`
	GraceDays         int                    `json:"grace_days"`
	ProrationRule     calendar.ProrationRule `json:"proration_rule"`
	MoneyRounding     Rounding               `json:"money_rounding"`
}

// Default is the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		Name:              "default",
		DefaultPaymentDay: 1,
		LateFeeAmount:     money.Zero,
		GraceDays:         5,
		ProrationRule:     calendar.RuleSpanToNextPayday,
		MoneyRounding:     RoundHalfAwayFromZero,
	}
}

// Validate checks every field range.
func (p Policy) Validate() error {
	if err := calendar.ValidatePaymentDay(p.DefaultPaymentDay); err != nil {
		return fmt.Errorf("%w: default_payment_day: %v", ErrInvalidPolicy, err)
	}
	if p.LateFeeAmount.IsNegative() {
		return fmt.Errorf("%w: late_fee_amount must be >= 0", ErrInvalidPolicy)
	}
	if p.GraceDays < 0 {
		return fmt.Errorf("%w: grace_days must be >= 0", ErrInvalidPolicy)
	}
	if p.ProrationRule == "" || !p.ProrationRule.Valid() {
		return fmt.Errorf("%w: proration_rule %q", ErrInvalidPolicy, p.ProrationRule)
	}
	if p.MoneyRounding != RoundHalfAwayFromZero {
		return fmt.Errorf("%w: money_rounding %q", ErrInvalidPolicy, p.MoneyRounding)
	}
	return nil
}

// PaymentDayOr returns day when set, else the policy default.
func (p Policy) PaymentDayOr(day int) int {
	if day == 0 {
		return p.DefaultPaymentDay
	}
	return day
}

// =============================================================================
// HOLDER
// =============================================================================

// Holder is the read-mostly shared policy slot.
type Holder struct {
	current atomic.Pointer[Policy]
}

// NewHolder validates p and publishes it.
func NewHolder(p Policy) (*Holder, error) {
	h := &Holder{}
	if err := h.Replace(p); err != nil {
		return nil, err
	}
	return h, nil
}

// Current returns a copy of the active policy.
func (h *Holder) Current() Policy {
	if p := h.current.Load(); p != nil {
		return *p
	}
	return Default()
}

// Replace swaps in p if it validates. The previous policy stays active otherwise.
func (h *Holder) Replace(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	cp := p
	h.current.Store(&cp)
	return nil
}

package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/money"
)

// =============================================================================
// JSON SCHEMA
// =============================================================================

// Document is the on-disk / API shape of a policy. Omitted fields take the
// Default() values, so a document may override just the late fee.
//
//	{
//	  "name": "standard",
//	  "default_payment_day": 1,
//	  "late_fee_amount": "50.00",
//	  "grace_days": 5,
//	  "proration_rule": "span-to-next-payday",
//	  "money_rounding": "half_away_from_zero"
//	}
type Document struct {
	Name              string       `json:"name,omitempty"`
	DefaultPaymentDay *int         `json:"default_payment_day,omitempty"`
	LateFeeAmount     *money.Money `json:"late_fee_amount,omitempty"`
	GraceDays         *int         `json:"grace_days,omitempty"`
	ProrationRule     string       `json:"proration_rule,omitempty"`
	MoneyRounding     string       `json:"money_rounding,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Parse decodes a JSON policy document. Unknown fields are rejected.
func Parse(data []byte) (Policy, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Policy{}, fmt.Errorf("%w: failed to parse policy JSON: %v", ErrInvalidPolicy, err)
	}
	return FromDocument(doc)
}

// FromDocument overlays doc onto Default() and validates the result.
func FromDocument(doc Document) (Policy, error) {
	p := Default()
	if doc.Name != "" {
		p.Name = doc.Name
	}
	if doc.DefaultPaymentDay != nil {
		p.DefaultPaymentDay = *doc.DefaultPaymentDay
	}
	if doc.LateFeeAmount != nil {
		p.LateFeeAmount = *doc.LateFeeAmount
	}
	if doc.GraceDays != nil {
		p.GraceDays = *doc.GraceDays
	}
	if doc.ProrationRule != "" {
		p.ProrationRule = calendar.ProrationRule(doc.ProrationRule)
	}
	if doc.MoneyRounding != "" {
		p.MoneyRounding = Rounding(doc.MoneyRounding)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// ToDocument is the inverse of FromDocument.
func ToDocument(p Policy) Document {
	day, grace, fee := p.DefaultPaymentDay, p.GraceDays, p.LateFeeAmount
	return Document{
		Name:              p.Name,
		DefaultPaymentDay: &day,
		LateFeeAmount:     &fee,
		GraceDays:         &grace,
		ProrationRule:     string(p.ProrationRule),
		MoneyRounding:     string(p.MoneyRounding),
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardJSON is a first-of-month policy with a flat late fee.
func StandardJSON(lateFee string, graceDays int) string {
	return fmt.Sprintf(`{
  "name": "standard",
  "default_payment_day": 1,
  "late_fee_amount": %q,
  "grace_days": %d,
  "proration_rule": %q,
  "money_rounding": %q
}`, lateFee, graceDays, calendar.RuleSpanToNextPayday, RoundHalfAwayFromZero)
}

/*
Package money provides the fixed-point amount type used for rent, payments and balances.

PURPOSE:
  Every monetary quantity in the engine is a Money. It wraps decimal.Decimal so that
  intermediate values (daily rates, averaged bases) keep full precision, and rounding
  to cents happens exactly once at the end of a computation.

ROUNDING:
  Round() rounds to two fractional digits, half away from zero:
    1131.145  -> 1131.15
    -0.005    -> -0.01
  decimal.Round already implements half-away-from-zero, so Round is a thin wrapper.

TOLERANCE:
  Epsilon (0.01) is the comparison slack used by reconciliation: an obligation is
  satisfied when applied >= due - Epsilon.

SEE ALSO:
  - calendar/proration.go: daily rates and prorated amounts
  - leasing/reconcile.go: payment application against obligations
*/
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits money is presented with.
const Scale = 2

// Epsilon is the reconciliation tolerance.
var Epsilon = New(1, -Scale)

// Money is a decimal amount in the deployment's single implicit currency.
type Money struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

// New returns value * 10^exp.
func New(value int64, exp int32) Money { return Money{d: decimal.New(value, exp)} }

// FromInt returns a whole-unit amount.
func FromInt(v int64) Money { return Money{d: decimal.NewFromInt(v)} }

// FromDecimal wraps a decimal without rounding.
func FromDecimal(d decimal.Decimal) Money { return Money{d: d} }

// FromFloat is for fixtures and tests; production input goes through Parse.
func FromFloat(f float64) Money { return Money{d: decimal.NewFromFloat(f)} }

// Parse reads a decimal string such as "1500" or "1131.15".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustParse panics on malformed input. Fixtures only.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money              { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money              { return Money{d: m.d.Sub(o.d)} }
func (m Money) Mul(f decimal.Decimal) Money    { return Money{d: m.d.Mul(f)} }
func (m Money) MulInt(n int) Money             { return Money{d: m.d.Mul(decimal.NewFromInt(int64(n)))} }
func (m Money) Div(f decimal.Decimal) Money    { return Money{d: m.d.Div(f)} }
func (m Money) Neg() Money                     { return Money{d: m.d.Neg()} }
func (m Money) Round() Money                   { return Money{d: m.d.Round(Scale)} }
func (m Money) IsZero() bool                   { return m.d.IsZero() }
func (m Money) IsNegative() bool               { return m.d.IsNegative() }
func (m Money) IsPositive() bool               { return m.d.IsPositive() }
func (m Money) Equal(o Money) bool             { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool       { return m.d.GreaterThan(o.d) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) LessThan(o Money) bool          { return m.d.LessThan(o.d) }
func (m Money) LessThanOrEqual(o Money) bool   { return m.d.LessThanOrEqual(o.d) }

// DivInt divides by a whole number of units (days, months).
func (m Money) DivInt(n int) Money { return Money{d: m.d.Div(decimal.NewFromInt(int64(n)))} }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// WithinEpsilon reports |m - o| <= Epsilon.
func (m Money) WithinEpsilon(o Money) bool {
	return m.d.Sub(o.d).Abs().LessThanOrEqual(Epsilon.d)
}

// Float64 is for metrics only.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// String renders with exactly two fractional digits after rounding.
func (m Money) String() string { return m.d.StringFixed(Scale) }

// Sum adds amounts without intermediate rounding.
func Sum(ms ...Money) Money {
	total := Zero
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// =============================================================================
// ENCODING
// =============================================================================

// MarshalJSON writes the amount as a fixed two-digit string ("1500.00").
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the exact decimal text.
func (m Money) Value() (driver.Value, error) { return m.d.String(), nil }

// Scan reads a TEXT, REAL or INTEGER column.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	m.d = d
	return nil
}
